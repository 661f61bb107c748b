package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCapabilityUnsupported ReasonCode = "capability_unsupported"
	ReasonPermissionDenied      ReasonCode = "permission_denied"
	ReasonNoSpeech              ReasonCode = "no_speech"
	ReasonSpeechEngine          ReasonCode = "speech_engine"
	ReasonMediaUnavailable      ReasonCode = "media_unavailable"

	ReasonMissingToken      ReasonCode = "validation_missing_token"
	ReasonEmptyTranscript   ReasonCode = "validation_empty_transcript"
	ReasonInsufficientWords ReasonCode = "validation_insufficient_words"

	ReasonNetwork   ReasonCode = "network"
	ReasonAPIStatus ReasonCode = "api_status"
	ReasonAPIDecode ReasonCode = "api_decode"

	ReasonBusy            ReasonCode = "busy"
	ReasonSettingsPersist ReasonCode = "settings_persist"
	ReasonCallJoin        ReasonCode = "call_join"
	ReasonNotifySend      ReasonCode = "notify_send"
)

// IsValidation reports whether the reason belongs to the end-of-presentation checks.
func (r ReasonCode) IsValidation() bool {
	switch r {
	case ReasonMissingToken, ReasonEmptyTranscript, ReasonInsufficientWords:
		return true
	default:
		return false
	}
}
