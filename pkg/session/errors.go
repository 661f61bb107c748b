package session

import (
	"errors"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

var (
	// ErrBusy is returned while a conversation request is in flight.
	ErrBusy = errorsx.Wrap(errors.New("a conversation request is already in flight"), errorsx.ReasonBusy)
	// ErrUnsupported is returned when no speech engine can run on this host.
	ErrUnsupported = errorsx.Wrap(errors.New("speech recognition is not supported"), errorsx.ReasonCapabilityUnsupported)
	// ErrDiscarded is returned when a conversation result arrives after the session moved on.
	ErrDiscarded = errors.New("conversation result discarded")
	// ErrNoMicrophone is returned by ToggleMute when no microphone is open.
	ErrNoMicrophone = errorsx.Wrap(errors.New("no microphone is open"), errorsx.ReasonMediaUnavailable)
)

// ValidationError explains why a transcript cannot be handed off.
type ValidationError struct {
	Reason  errorsx.ReasonCode
	Words   int
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) ErrorReason() errorsx.ReasonCode { return e.Reason }
