package mock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/rehearsal/pkg/speech"
)

// STTConfig scripts what the mock engine hears.
type STTConfig struct {
	// Segments are emitted as final results, one per Interval.
	Segments []string
	// EmitInterim sends each segment's first word as an interim result before the final one.
	EmitInterim bool
	Interval    time.Duration
	// ErrorCode, when set, is reported once after the first start.
	ErrorCode string
	// EndAfter makes the engine end on its own after that many segments, once.
	EndAfter int
}

// StreamingSTT is a scripted speech engine.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan speech.Event
	mu      sync.Mutex
	cancel  context.CancelFunc
	active  bool
	next    int
	starts  int
	errSent bool
	ended   bool
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Interval <= 0 {
		cfg.Interval = 400 * time.Millisecond
	}
	return &StreamingSTT{cfg: cfg, out: make(chan speech.Event, 64)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return errors.New("already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.active = true
	s.starts++
	go s.emit(runCtx)
	return nil
}

func (s *StreamingSTT) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.cancel()
	s.mu.Unlock()
	s.send(speech.Event{Kind: speech.EventEnd})
	return nil
}

func (s *StreamingSTT) Events() <-chan speech.Event { return s.out }

// Starts reports how many times the engine was started.
func (s *StreamingSTT) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *StreamingSTT) emit(ctx context.Context) {
	s.mu.Lock()
	if s.cfg.ErrorCode != "" && !s.errSent {
		s.errSent = true
		s.mu.Unlock()
		s.send(speech.Event{Kind: speech.EventError, Code: s.cfg.ErrorCode})
	} else {
		s.mu.Unlock()
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.next >= len(s.cfg.Segments) {
			s.mu.Unlock()
			continue
		}
		text := s.cfg.Segments[s.next]
		s.next++
		endNow := s.cfg.EndAfter > 0 && !s.ended && s.next == s.cfg.EndAfter
		if endNow {
			s.ended = true
			s.active = false
		}
		s.mu.Unlock()

		if s.cfg.EmitInterim {
			if first := strings.Fields(text); len(first) > 0 {
				s.send(speech.Event{Kind: speech.EventResult, Segments: []speech.Segment{{Text: first[0]}}})
			}
		}
		s.send(speech.Event{Kind: speech.EventResult, Segments: []speech.Segment{{Text: text, Final: true}}})

		if endNow {
			s.send(speech.Event{Kind: speech.EventEnd})
			return
		}
	}
}

func (s *StreamingSTT) send(ev speech.Event) {
	select {
	case s.out <- ev:
	default:
	}
}

// Provider exposes the mock engine through the speech registry. It is always available.
type Provider struct {
	Config STTConfig
}

func (p Provider) Name() string    { return "mock" }
func (p Provider) Available() bool { return true }

func (p Provider) New(speech.Options) (speech.Engine, error) {
	return NewSTT(p.Config), nil
}

var (
	_ speech.Engine   = (*StreamingSTT)(nil)
	_ speech.Provider = Provider{}
)
