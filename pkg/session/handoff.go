package session

import (
	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/settings"
	"github.com/harunnryd/rehearsal/pkg/tavus"
	"github.com/harunnryd/rehearsal/pkg/transcript"
)

// ValidateHandoff checks a frozen transcript against the hand-off rules, in order:
// a token must be set, the transcript must not be empty, and it needs minWords words.
func ValidateHandoff(current settings.Settings, text string, minWords int) *ValidationError {
	if minWords <= 0 {
		minWords = DefaultMinWords
	}
	words := transcript.WordCount(text)
	switch {
	case !current.HasToken():
		return &ValidationError{Reason: errorsx.ReasonMissingToken, Words: words, Message: NoticeHandoffMissingToken}
	case text == "":
		return &ValidationError{Reason: errorsx.ReasonEmptyTranscript, Message: NoticeHandoffEmptyTranscript}
	case words < minWords:
		return &ValidationError{Reason: errorsx.ReasonInsufficientWords, Words: words, Message: insufficientWordsNotice(words)}
	}
	return nil
}

// ApplyHandoff stores the transcript as the conversational context and fills the coach
// defaults for fields left unset.
func ApplyHandoff(st *settings.Settings, text string) {
	st.Context = text
	if st.Greeting == "" {
		st.Greeting = HandoffGreeting
	}
	if st.Persona == "" {
		st.Persona = tavus.DefaultPersona
	}
	if st.Replica == "" {
		st.Replica = tavus.DefaultReplica
	}
}
