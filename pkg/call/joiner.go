package call

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/browser"

	"github.com/harunnryd/rehearsal/pkg/logging"
)

// BrowserJoiner opens the conversation room in the system browser.
type BrowserJoiner struct {
	Logger *slog.Logger

	mu     sync.Mutex
	opened string
	open   func(string) error
}

func NewBrowserJoiner(logger *slog.Logger) *BrowserJoiner {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &BrowserJoiner{Logger: logging.NewComponentLogger(logger, "browser_joiner"), open: browser.OpenURL}
}

func (j *BrowserJoiner) Join(_ context.Context, url string, opts JoinOptions) error {
	if err := j.open(url); err != nil {
		return err
	}
	j.mu.Lock()
	j.opened = url
	j.mu.Unlock()
	j.Logger.Info("opened conversation room",
		slog.String("url", url),
		slog.Bool("video", opts.StartVideoOn),
		slog.Bool("audio", opts.StartAudioOn))
	return nil
}

// Leave forgets the room. The browser tab is left to the user.
func (j *BrowserJoiner) Leave() error {
	j.mu.Lock()
	j.opened = ""
	j.mu.Unlock()
	return nil
}

// Opened returns the room currently joined.
func (j *BrowserJoiner) Opened() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.opened
}

// NoopJoiner joins nothing, for headless runs.
type NoopJoiner struct{}

func (NoopJoiner) Join(context.Context, string, JoinOptions) error { return nil }
func (NoopJoiner) Leave() error                                    { return nil }
