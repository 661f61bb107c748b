package session

import (
	"errors"
	"fmt"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/speech"
)

// User-facing notices.
const (
	NoticeSpeechUnsupported      = "Speech recognition is not supported on this system. Configure a supported speech provider for the best experience."
	NoticeStartUnsupported       = "Speech recognition is not supported on this system. Please configure a supported speech provider."
	NoticeMediaUnavailable       = "Unable to access camera and microphone. Please allow permissions and try again."
	NoticeStartMissingToken      = "API token is missing. Please check your settings and ensure you have a valid token."
	NoticeStartFailed            = "Failed to start speech recognition. Please check your microphone permissions."
	NoticeMicrophoneDenied       = "Microphone access denied. Please allow microphone permissions and try again."
	NoticeNoSpeech               = "No speech detected. Please speak clearly into your microphone."
	NoticeStoppedUnexpectedly    = "Speech recognition stopped unexpectedly. Please try again."
	NoticeHandoffMissingToken    = "Cannot create conversation: API token is missing. Please check your settings and ensure you have a valid token."
	NoticeHandoffEmptyTranscript = "Cannot create conversation: No speech was detected during your presentation. Please ensure your microphone is working and try presenting again."
	NoticeConversationFailed     = "Failed to create conversation with the AI. Please try again or check your internet connection."
	NoticeBusy                   = "A conversation is already being created. Please wait for it to finish."
	NoticeSettingsNotSaved       = "Your presentation could not be saved to settings. Please try ending the presentation again."
	NoticeCallJoinFailed         = "Unable to join the AI coach's call. The conversation link is still available."
)

func insufficientWordsNotice(words int) string {
	return fmt.Sprintf("Cannot create conversation: Only %d words were detected. Please speak more during your presentation to provide enough content for the AI to discuss.", words)
}

// speechNotice turns a recognition error into the message shown to the presenter.
func speechNotice(err error) string {
	if errors.Is(err, speech.ErrStoppedUnexpectedly) {
		return NoticeStoppedUnexpectedly
	}
	switch errorsx.Reason(err) {
	case errorsx.ReasonPermissionDenied:
		return NoticeMicrophoneDenied
	case errorsx.ReasonNoSpeech:
		return NoticeNoSpeech
	}
	code := "unknown"
	var engineErr *speech.EngineError
	if errors.As(err, &engineErr) && engineErr.Code != "" {
		code = engineErr.Code
	}
	return fmt.Sprintf("Speech recognition error: %s. Please try again.", code)
}
