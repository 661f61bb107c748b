package mock

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/rehearsal/pkg/speech"
	"github.com/harunnryd/rehearsal/pkg/transcript"
)

type accumulatingListener struct {
	acc   *transcript.Accumulator
	ended chan struct{}
}

func (l *accumulatingListener) OnSegment(text string) { l.acc.Append(text) }
func (l *accumulatingListener) OnError(error)         {}
func (l *accumulatingListener) OnEnded()              { close(l.ended) }

func TestMockEngineSurvivesSpontaneousEnd(t *testing.T) {
	engine := NewSTT(STTConfig{
		Segments: []string{"Hello", "world", "again"},
		Interval: 5 * time.Millisecond,
		EndAfter: 1,
	})
	listener := &accumulatingListener{acc: transcript.NewAccumulator(), ended: make(chan struct{})}
	capture := speech.NewCapture(engine, listener, speech.CaptureConfig{})

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for listener.acc.String() != "Hello world again " {
		if time.Now().After(deadline) {
			t.Fatalf("transcript incomplete: %q", listener.acc.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if engine.Starts() != 2 {
		t.Fatalf("expected one transparent restart, got %d starts", engine.Starts())
	}
	if err := capture.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-listener.ended:
	case <-time.After(time.Second):
		t.Fatalf("expected run to end")
	}
}

func TestMockProviderAlwaysAvailable(t *testing.T) {
	p := Provider{}
	if !p.Available() {
		t.Fatalf("mock provider must be available")
	}
	engine, err := p.New(speech.DefaultOptions())
	if err != nil || engine == nil {
		t.Fatalf("new engine: %v", err)
	}
}
