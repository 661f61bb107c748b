package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/logging"
)

// ErrAlreadyRecording is returned by Start while a run is still active.
var ErrAlreadyRecording = errors.New("speech capture already running")

// Listener receives what a capture run produces.
type Listener interface {
	// OnSegment receives each finalized segment followed by a single space.
	OnSegment(text string)
	// OnError receives non-fatal recognition errors.
	OnError(err error)
	// OnEnded fires once when the run is over.
	OnEnded()
}

// InterimListener is optionally implemented by listeners that show in-progress text.
type InterimListener interface {
	OnInterim(text string)
}

// CaptureConfig tunes a Capture.
type CaptureConfig struct {
	// StopTimeout bounds how long Stop waits for the engine's End event.
	StopTimeout time.Duration
	Logger      *slog.Logger
	// OnRestart is called after each transparent restart.
	OnRestart func()
}

// Capture drives an Engine for one recording at a time. While the desired-recording flag is set,
// an engine-initiated End is answered by restarting the engine.
type Capture struct {
	engine   Engine
	listener Listener
	cfg      CaptureConfig
	logger   *slog.Logger

	recording atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewCapture(engine Engine, listener Listener, cfg CaptureConfig) *Capture {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	return &Capture{
		engine:   engine,
		listener: listener,
		cfg:      cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "speech").With(
			slog.String("engine", engine.Name())),
	}
}

// Recording reports the desired-recording flag.
func (c *Capture) Recording() bool {
	return c.recording.Load()
}

// Start sets the desired-recording flag and starts the engine.
// ctx scopes the engine, not the call; cancelling it ends the run.
func (c *Capture) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRecording
	}

	c.drainStale()
	c.recording.Store(true)
	runCtx, cancel := context.WithCancel(ctx)
	if err := c.engine.Start(runCtx); err != nil {
		c.recording.Store(false)
		cancel()
		c.logger.Error("speech_start_failed", slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("start %s: %w", c.engine.Name(), err), errorsx.ReasonSpeechEngine)
	}

	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(runCtx, c.done)

	c.logger.Info("speech_started")
	return nil
}

// Stop clears the desired-recording flag, then stops the engine and waits for the run to end.
// If no End arrives within StopTimeout the run is cancelled, so a late End is never acted on.
func (c *Capture) Stop() error {
	c.recording.Store(false)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	done, cancel := c.done, c.cancel
	c.mu.Unlock()

	err := c.engine.Stop()

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn("speech_stop_timeout", slog.Duration("timeout", c.cfg.StopTimeout))
		cancel()
		<-done
	}
	cancel()

	if err != nil {
		return errorsx.Wrap(fmt.Errorf("stop %s: %w", c.engine.Name(), err), errorsx.ReasonSpeechEngine)
	}
	return nil
}

func (c *Capture) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
		c.listener.OnEnded()
		c.logger.Info("speech_ended")
	}()

	events := c.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !c.handle(ctx, ev) {
				return
			}
		}
	}
}

// handle reports whether the run continues.
func (c *Capture) handle(ctx context.Context, ev Event) bool {
	switch ev.Kind {
	case EventResult:
		for _, seg := range ev.Segments {
			if seg.Text == "" {
				continue
			}
			if seg.Final {
				c.listener.OnSegment(seg.Text + " ")
				continue
			}
			if il, ok := c.listener.(InterimListener); ok {
				il.OnInterim(seg.Text)
			}
		}
		return true

	case EventError:
		c.logger.Warn("speech_error", slog.String("code", ev.Code), slog.String("detail", ev.Detail))
		c.listener.OnError(&EngineError{Code: ev.Code, Detail: ev.Detail})
		return true

	case EventEnd:
		if !c.recording.Load() {
			return false
		}
		if err := c.engine.Start(ctx); err != nil {
			c.recording.Store(false)
			c.logger.Error("speech_restart_failed", slog.String("error", err.Error()))
			c.listener.OnError(fmt.Errorf("%w: %v", ErrStoppedUnexpectedly, err))
			return false
		}
		// A Stop that landed between the flag check and the restart must still win.
		if !c.recording.Load() {
			if err := c.engine.Stop(); err != nil {
				c.logger.Debug("speech_stop_after_restart_failed", slog.String("error", err.Error()))
			}
			return false
		}
		c.logger.Info("speech_restarted")
		if c.cfg.OnRestart != nil {
			c.cfg.OnRestart()
		}
		return true
	}
	return true
}

// must be called with c.mu held and no run active
func (c *Capture) drainStale() {
	events := c.engine.Events()
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
