package speech

import (
	"context"
	"io"
)

// EventKind classifies what an engine reports.
type EventKind int

const (
	EventResult EventKind = iota
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Engine error codes, named after the recognition engines that report them.
const (
	CodeNotAllowed = "not-allowed"
	CodeNoSpeech   = "no-speech"
	CodeNetwork    = "network"
	CodeAborted    = "aborted"
)

// Segment is one recognised stretch of speech.
type Segment struct {
	Text  string
	Final bool
}

// Event is emitted by an engine. Result events carry segments, Error events a code,
// and End marks that the engine stopped listening.
type Event struct {
	Kind     EventKind
	Segments []Segment
	Code     string
	Detail   string
}

// Engine is a continuous speech recognition session. Start may be called again after End.
type Engine interface {
	// Name returns the engine name for logging.
	Name() string
	// Start begins listening.
	Start(ctx context.Context) error
	// Stop requests termination; an End event follows.
	Stop() error
	// Events returns the engine's event stream. It stays open across restarts.
	Events() <-chan Event
}

// Options configures an engine instance.
type Options struct {
	Language   string
	Continuous bool
	Interim    bool
	// Audio is the microphone PCM stream for engines that transcribe raw audio.
	Audio    io.Reader
	StreamID string
}

// DefaultOptions matches the recognition setup used for presentations.
func DefaultOptions() Options {
	return Options{Language: "en-US", Continuous: true, Interim: true}
}

// Provider builds engines of one kind and reports whether the host can run them.
type Provider interface {
	Name() string
	Available() bool
	New(opts Options) (Engine, error)
}
