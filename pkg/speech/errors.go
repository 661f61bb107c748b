package speech

import (
	"fmt"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

// EngineError is a recognition failure reported by an engine.
type EngineError struct {
	Code   string
	Detail string
}

func (e *EngineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("speech recognition error: %s: %s", e.Code, e.Detail)
	}
	return "speech recognition error: " + e.Code
}

// ErrorReason maps engine codes onto the error taxonomy.
func (e *EngineError) ErrorReason() errorsx.ReasonCode {
	switch e.Code {
	case CodeNotAllowed:
		return errorsx.ReasonPermissionDenied
	case CodeNoSpeech:
		return errorsx.ReasonNoSpeech
	default:
		return errorsx.ReasonSpeechEngine
	}
}

// ErrStoppedUnexpectedly is reported when an automatic restart fails.
var ErrStoppedUnexpectedly = &EngineError{Code: "stopped-unexpectedly"}
