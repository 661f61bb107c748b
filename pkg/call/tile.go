// Package call manages the remote AI participant tile of the simulated meeting.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/resilience"
	"github.com/harunnryd/rehearsal/pkg/tavus"
)

type TileState int

const (
	Detached TileState = iota
	Joining
	Waiting
	Live
	Failed
)

func (s TileState) String() string {
	switch s {
	case Detached:
		return "detached"
	case Joining:
		return "joining"
	case Waiting:
		return "waiting"
	case Live:
		return "live"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// JoinOptions mirror the call object settings used when joining a conversation room.
type JoinOptions struct {
	StartVideoOn bool
	StartAudioOn bool
}

// Joiner enters and leaves a conversation room.
type Joiner interface {
	Join(ctx context.Context, url string, opts JoinOptions) error
	Leave() error
}

// Presence reports the remote side of a conversation.
type Presence interface {
	GetConversation(ctx context.Context, token, id string) (tavus.Conversation, error)
}

var errNotLive = errors.New("remote participant has not joined")

type TileConfig struct {
	// Retry paces presence polling; when attempts run out the tile stays Waiting.
	Retry  resilience.RetryPolicy
	Logger *slog.Logger
}

// Tile shows the remote participant of one conversation at a time.
type Tile struct {
	joiner   Joiner
	presence Presence
	retry    resilience.RetryPolicy
	logger   *slog.Logger

	mu     sync.Mutex
	state  TileState
	conv   tavus.Conversation
	joined bool
	gen    uint64
	cancel context.CancelFunc
	subs   []func(TileState)
	wg     sync.WaitGroup
}

func NewTile(joiner Joiner, presence Presence, cfg TileConfig) *Tile {
	if joiner == nil {
		joiner = NoopJoiner{}
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = resilience.NewRetryPolicy(10, 500*time.Millisecond)
	}
	return &Tile{
		joiner:   joiner,
		presence: presence,
		retry:    cfg.Retry,
		logger:   logging.NewComponentLogger(cfg.Logger, "call"),
	}
}

func (t *Tile) State() TileState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Conversation returns the attached conversation, zero when detached.
func (t *Tile) Conversation() tavus.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv
}

func (t *Tile) Subscribe(fn func(TileState)) {
	t.mu.Lock()
	t.subs = append(t.subs, fn)
	t.mu.Unlock()
}

// Attach joins the conversation room with camera on and microphone off, then waits for the
// remote participant in the background. Any previous conversation is detached first.
func (t *Tile) Attach(ctx context.Context, token string, conv tavus.Conversation) error {
	if conv.ConversationURL == "" {
		return errorsx.New(errorsx.ReasonCallJoin, "conversation has no join url")
	}
	t.Detach()

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.conv = conv
	t.mu.Unlock()
	t.set(gen, Joining)

	err := t.joiner.Join(ctx, conv.ConversationURL, JoinOptions{StartVideoOn: true, StartAudioOn: false})
	if err != nil {
		t.set(gen, Failed)
		t.logger.Warn("join failed",
			slog.String("conversation_id", conv.ConversationID),
			slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("join conversation: %w", err), errorsx.ReasonCallJoin)
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		cancel()
		return nil
	}
	t.joined = true
	t.cancel = cancel
	t.mu.Unlock()
	t.set(gen, Waiting)

	if conv.Active() || t.presence == nil {
		if conv.Active() {
			t.set(gen, Live)
		}
		return nil
	}
	t.wg.Add(1)
	go t.poll(pollCtx, gen, token, conv.ConversationID)
	return nil
}

func (t *Tile) poll(ctx context.Context, gen uint64, token, id string) {
	defer t.wg.Done()
	err := t.retry.Do(ctx, func(attempt int) error {
		current, err := t.presence.GetConversation(ctx, token, id)
		if err != nil {
			t.logger.Debug("presence check failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}
		if !current.Active() {
			return errNotLive
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Info("remote participant not live yet",
				slog.String("conversation_id", id),
				slog.String("error", err.Error()))
		}
		return
	}
	t.set(gen, Live)
}

// Detach leaves the room and clears the tile.
func (t *Tile) Detach() {
	t.mu.Lock()
	if t.state == Detached && !t.joined && t.cancel == nil {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	cancel := t.cancel
	joined := t.joined
	t.cancel = nil
	t.joined = false
	t.conv = tavus.Conversation{}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if joined {
		if err := t.joiner.Leave(); err != nil {
			t.logger.Warn("leave failed", slog.String("error", err.Error()))
		}
	}
	t.set(gen, Detached)
}

// Wait blocks until background presence polling has finished.
func (t *Tile) Wait() {
	t.wg.Wait()
}

func (t *Tile) set(gen uint64, next TileState) {
	t.mu.Lock()
	if t.gen != gen || t.state == next {
		t.mu.Unlock()
		return
	}
	t.state = next
	subs := append([]func(TileState){}, t.subs...)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}
