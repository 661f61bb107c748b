// Package screen tracks which flow screen is showing. Exactly one screen is current and
// there is no history: going to a screen replaces the current one.
package screen

import (
	"errors"
	"strings"
	"sync"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

type Screen string

const (
	IntroLoading   Screen = "introLoading"
	Outage         Screen = "outage"
	OutOfMinutes   Screen = "outOfMinutes"
	Intro          Screen = "intro"
	Settings       Screen = "settings"
	Instructions   Screen = "instructions"
	Conversation   Screen = "conversation"
	FinalScreen    Screen = "finalScreen"
	TeamsSimulator Screen = "teamsSimulator"
)

var all = []Screen{IntroLoading, Outage, OutOfMinutes, Intro, Settings, Instructions, Conversation, FinalScreen, TeamsSimulator}

// All lists every screen in flow order.
func All() []Screen {
	return append([]Screen(nil), all...)
}

// Parse resolves a screen name, case-insensitively. Unknown names resolve to IntroLoading.
func Parse(name string) Screen {
	name = strings.TrimSpace(name)
	for _, s := range all {
		if strings.EqualFold(string(s), name) {
			return s
		}
	}
	return IntroLoading
}

// Valid reports whether name is a known screen.
func Valid(name string) bool {
	name = strings.TrimSpace(name)
	for _, s := range all {
		if strings.EqualFold(string(s), name) {
			return true
		}
	}
	return false
}

// ShowsChrome reports whether the header and footer surround the screen.
func (s Screen) ShowsChrome() bool {
	return s != IntroLoading && s != TeamsSimulator
}

// ErrTokenRequired is returned when the demo is started without an API token.
var ErrTokenRequired = errorsx.Wrap(errors.New("an API token is required to start the demo"), errorsx.ReasonMissingToken)

type Controller struct {
	mu      sync.Mutex
	current Screen
	subs    []func(from, to Screen)
}

func NewController(initial Screen) *Controller {
	if initial == "" {
		initial = IntroLoading
	}
	return &Controller{current: initial}
}

func (c *Controller) Current() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Go replaces the current screen. Going to the current screen is a no-op.
func (c *Controller) Go(next Screen) {
	c.mu.Lock()
	prev := c.current
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.current = next
	subs := append([]func(from, to Screen){}, c.subs...)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(prev, next)
	}
}

// StartDemo enters the meeting simulator once a token is present.
func (c *Controller) StartDemo(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrTokenRequired
	}
	c.Go(TeamsSimulator)
	return nil
}

func (c *Controller) Subscribe(fn func(from, to Screen)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}
