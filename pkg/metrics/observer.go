package metrics

import "time"

// Event names recorded by the presentation session.
const (
	EventPresentationStarted = "presentation_started"
	EventPresentationEnded   = "presentation_ended"
	EventHandoffRejected     = "handoff_rejected"
	EventConversationCreated = "conversation_created"
	EventConversationFailed  = "conversation_failed"
	EventSpeechRestarted     = "speech_restarted"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record stamps and forwards an event; a nil observer drops it.
func Record(obs Observer, name string, value float64, tags map[string]string, fields map[string]any) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   tags,
		Fields: fields,
	})
}
