package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

type fakeEngine struct {
	mu         sync.Mutex
	events     chan Event
	starts     int
	stops      int
	failStarts map[int]error
	endOnStop  bool
	// onStart runs after the nth start succeeds, outside the lock.
	onStart func(n int)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan Event, 16), endOnStop: true, failStarts: map[int]error{}}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	n := f.starts
	err, failed := f.failStarts[n]
	hook := f.onStart
	f.mu.Unlock()
	if failed {
		return err
	}
	if hook != nil {
		hook(n)
	}
	return nil
}

func (f *fakeEngine) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	f.stops++
	endOnStop := f.endOnStop
	f.mu.Unlock()
	if endOnStop {
		f.events <- Event{Kind: EventEnd}
	}
	return nil
}

func (f *fakeEngine) Events() <-chan Event { return f.events }

func (f *fakeEngine) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type recordingListener struct {
	mu       sync.Mutex
	segments []string
	interims []string
	errs     []error
	ended    int
}

func (l *recordingListener) OnSegment(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segments = append(l.segments, text)
}

func (l *recordingListener) OnInterim(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interims = append(l.interims, text)
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) OnEnded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended++
}

func (l *recordingListener) snapshot() ([]string, []error, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.segments...), append([]error(nil), l.errs...), l.ended
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCaptureDeliversFinalSegmentsWithSeparator(t *testing.T) {
	engine := newFakeEngine()
	listener := &recordingListener{}
	c := NewCapture(engine, listener, CaptureConfig{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	engine.events <- Event{Kind: EventResult, Segments: []Segment{{Text: "Hel", Final: false}}}
	engine.events <- Event{Kind: EventResult, Segments: []Segment{{Text: "Hello", Final: true}}}
	engine.events <- Event{Kind: EventResult, Segments: []Segment{{Text: "world", Final: true}, {Text: "", Final: true}}}

	waitFor(t, func() bool {
		segs, _, _ := listener.snapshot()
		return len(segs) == 2
	})
	segs, _, _ := listener.snapshot()
	if segs[0] != "Hello " || segs[1] != "world " {
		t.Fatalf("unexpected segments %q", segs)
	}
	listener.mu.Lock()
	interims := append([]string(nil), listener.interims...)
	listener.mu.Unlock()
	if len(interims) != 1 || interims[0] != "Hel" {
		t.Fatalf("expected one interim, got %q", interims)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCaptureRestartsOnUnexpectedEnd(t *testing.T) {
	engine := newFakeEngine()
	listener := &recordingListener{}
	restarts := 0
	c := NewCapture(engine, listener, CaptureConfig{OnRestart: func() { restarts++ }})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	engine.events <- Event{Kind: EventEnd}
	waitFor(t, func() bool { return engine.Starts() == 2 })

	if !c.Recording() {
		t.Fatalf("expected recording flag to stay set after restart")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if restarts != 1 {
		t.Fatalf("expected one restart callback, got %d", restarts)
	}
	_, _, ended := listener.snapshot()
	if ended != 1 {
		t.Fatalf("expected OnEnded once, got %d", ended)
	}
}

func TestCaptureStopThenLateEndDoesNotRestart(t *testing.T) {
	engine := newFakeEngine()
	listener := &recordingListener{}
	c := NewCapture(engine, listener, CaptureConfig{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.Recording() {
		t.Fatalf("recording flag must be clear after stop")
	}
	if engine.Starts() != 1 {
		t.Fatalf("expected no restart after stop, got %d starts", engine.Starts())
	}
	_, _, ended := listener.snapshot()
	if ended != 1 {
		t.Fatalf("expected OnEnded after stop, got %d", ended)
	}
}

func TestCaptureLateEndAfterStopTimeoutIsIgnored(t *testing.T) {
	engine := newFakeEngine()
	engine.endOnStop = false
	listener := &recordingListener{}
	c := NewCapture(engine, listener, CaptureConfig{StopTimeout: 10 * time.Millisecond})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// the engine's end arrives after stop gave up waiting
	engine.events <- Event{Kind: EventEnd}
	time.Sleep(20 * time.Millisecond)
	if engine.Starts() != 1 {
		t.Fatalf("late end must not restart, got %d starts", engine.Starts())
	}

	// a new recording must not consume the stale end as a restart trigger
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if engine.Starts() != 2 {
		t.Fatalf("expected exactly one new start, got %d", engine.Starts())
	}
	engine.endOnStop = true
	_ = c.Stop()
}

func TestCaptureRestartFailureReportsError(t *testing.T) {
	engine := newFakeEngine()
	engine.failStarts[2] = errors.New("socket closed")
	listener := &recordingListener{}
	c := NewCapture(engine, listener, CaptureConfig{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	engine.events <- Event{Kind: EventEnd}

	waitFor(t, func() bool {
		_, _, ended := listener.snapshot()
		return ended == 1
	})
	_, errs, _ := listener.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], ErrStoppedUnexpectedly) {
		t.Fatalf("expected stopped-unexpectedly error, got %v", errs)
	}
	if !errorsx.HasReason(errs[0], errorsx.ReasonSpeechEngine) {
		t.Fatalf("expected speech engine reason, got %s", errorsx.Reason(errs[0]))
	}
	if c.Recording() {
		t.Fatalf("recording flag must be cleared after failed restart")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop after failure: %v", err)
	}
}

func TestCaptureMapsErrorCodes(t *testing.T) {
	engine := newFakeEngine()
	listener := &recordingListener{}
	c := NewCapture(engine, listener, CaptureConfig{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	engine.events <- Event{Kind: EventError, Code: CodeNotAllowed}
	engine.events <- Event{Kind: EventError, Code: CodeNoSpeech}
	engine.events <- Event{Kind: EventError, Code: "audio-capture"}

	waitFor(t, func() bool {
		_, errs, _ := listener.snapshot()
		return len(errs) == 3
	})
	_, errs, _ := listener.snapshot()
	want := []errorsx.ReasonCode{errorsx.ReasonPermissionDenied, errorsx.ReasonNoSpeech, errorsx.ReasonSpeechEngine}
	for i, reason := range want {
		if got := errorsx.Reason(errs[i]); got != reason {
			t.Fatalf("error %d: expected %s, got %s", i, reason, got)
		}
	}
	_ = c.Stop()
}

func TestCaptureStartFailureLeavesFlagClear(t *testing.T) {
	engine := newFakeEngine()
	engine.failStarts[1] = errors.New("device busy")
	c := NewCapture(engine, &recordingListener{}, CaptureConfig{})
	err := c.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start error")
	}
	if c.Recording() {
		t.Fatalf("flag must be clear after failed start")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSpeechEngine) {
		t.Fatalf("expected speech engine reason")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop without run: %v", err)
	}
}

func TestCaptureRejectsDoubleStart(t *testing.T) {
	engine := newFakeEngine()
	c := NewCapture(engine, &recordingListener{}, CaptureConfig{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	_ = c.Stop()
}

func TestStopDuringRestartStopsRestartedEngine(t *testing.T) {
	engine := newFakeEngine()
	listener := &recordingListener{}
	restarts := 0
	capture := NewCapture(engine, listener, CaptureConfig{
		StopTimeout: 5 * time.Second,
		OnRestart:   func() { restarts++ },
	})
	// The flag is cleared after the End was judged but before the restart returned.
	engine.onStart = func(n int) {
		if n == 2 {
			capture.recording.Store(false)
		}
	}
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	engine.events <- Event{Kind: EventEnd}

	deadline := time.Now().Add(time.Second)
	for {
		listener.mu.Lock()
		ended := listener.ended
		listener.mu.Unlock()
		if ended == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run kept going after a stop raced the restart")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if engine.Starts() != 2 {
		t.Fatalf("expected one restart attempt, got %d starts", engine.Starts())
	}
	if engine.Stops() != 1 {
		t.Fatalf("expected the restarted engine to be stopped, got %d stops", engine.Stops())
	}
	if restarts != 0 {
		t.Fatalf("restart should not be reported, got %d", restarts)
	}
	if capture.Recording() {
		t.Fatalf("recording flag should stay cleared")
	}
}
