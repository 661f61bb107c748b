// Package session runs one presentation rehearsal: it records speech into a transcript, validates
// the transcript when the presentation ends and hands it to the conversation API so an AI coach
// can join the simulated meeting.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/rehearsal/pkg/call"
	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/media"
	"github.com/harunnryd/rehearsal/pkg/metrics"
	"github.com/harunnryd/rehearsal/pkg/notify"
	"github.com/harunnryd/rehearsal/pkg/redact"
	"github.com/harunnryd/rehearsal/pkg/screen"
	"github.com/harunnryd/rehearsal/pkg/settings"
	"github.com/harunnryd/rehearsal/pkg/speech"
	"github.com/harunnryd/rehearsal/pkg/tavus"
	"github.com/harunnryd/rehearsal/pkg/transcript"
)

// HandoffGreeting is the coach's opening line after a presentation.
const HandoffGreeting = "Hi! I just listened to your presentation and I'm curious to learn more about it. I have some questions I'd love to ask you about what you shared."

// DefaultMinWords is the shortest transcript worth discussing.
const DefaultMinWords = 5

// ConversationCreator creates the remote conversation for a hand-off.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, token string, s settings.Settings) (tavus.Conversation, error)
}

type Config struct {
	Settings      *settings.Store
	Screens       *screen.Controller
	Speech        speech.Provider
	SpeechOptions speech.Options
	Media         media.Acquirer
	Conversations ConversationCreator
	Tile          *call.Tile
	Notifier      notify.Notifier
	Metrics       metrics.Observer
	Logger        *slog.Logger
	MinWords      int
	StopTimeout   time.Duration
	Now           func() time.Time
}

// Controls are the enabled states of the presenter's buttons.
type Controls struct {
	CanStart bool `json:"can_start"`
	CanEnd   bool `json:"can_end"`
	CanExit  bool `json:"can_exit"`
	CanMute  bool `json:"can_mute"`
}

// Snapshot is a consistent view of the session for display.
type Snapshot struct {
	State           string              `json:"state"`
	Screen          string              `json:"screen"`
	Notice          string              `json:"notice,omitempty"`
	Transcript      string              `json:"transcript"`
	Words           int                 `json:"words"`
	Duration        string              `json:"duration"`
	DurationSeconds int                 `json:"duration_seconds"`
	Recording       bool                `json:"recording"`
	Muted           bool                `json:"muted"`
	SpeechSupported bool                `json:"speech_supported"`
	HasToken        bool                `json:"has_token"`
	TavusMode       bool                `json:"tavus_mode"`
	Questions       []string            `json:"questions,omitempty"`
	Conversation    *tavus.Conversation `json:"conversation,omitempty"`
	Tile            string              `json:"tile"`
	Controls        Controls            `json:"controls"`
}

// Session is the presentation state machine. Operations are serialized; a conversation request
// runs without blocking Exit, and its result is dropped if the session moved on meanwhile.
type Session struct {
	cfg    Config
	logger *slog.Logger
	fsm    *stateMachine
	acc    *transcript.Accumulator

	// op serializes operations; mu guards the fields below.
	op sync.Mutex
	mu sync.Mutex

	opened    bool
	supported bool
	stream    media.Stream
	capture   *speech.Capture
	gen       uint64
	notice    string
	startedAt time.Time
	endedAt   time.Time
	questions []string
	conv      *tavus.Conversation
	tavusMode bool

	subMu sync.Mutex
	subs  map[int]func(Snapshot)
	subID int
}

func New(cfg Config) (*Session, error) {
	if cfg.Settings == nil {
		return nil, errors.New("session requires a settings store")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("session requires a conversation client")
	}
	if cfg.MinWords <= 0 {
		cfg.MinWords = DefaultMinWords
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopObserver{}
	}
	if cfg.SpeechOptions.Language == "" {
		cfg.SpeechOptions = speech.DefaultOptions()
	}
	s := &Session{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "session"),
		fsm:    newStateMachine(),
		acc:    transcript.NewAccumulator(),
		subs:   make(map[int]func(Snapshot)),
	}
	s.fsm.AddListener(func(ev StateChange) {
		s.logger.Info("session state changed",
			slog.String("from", ev.FromState.String()),
			slog.String("to", ev.ToState.String()),
			slog.String("reason", ev.Reason))
	})
	s.acc.Subscribe(func(string) { s.changed() })
	cfg.Settings.Subscribe(func(settings.Settings) { s.changed() })
	if cfg.Tile != nil {
		cfg.Tile.Subscribe(func(call.TileState) { s.changed() })
	}
	if cfg.Screens != nil {
		cfg.Screens.Subscribe(s.onScreen)
	}
	return s, nil
}

func (s *Session) onScreen(from, to screen.Screen) {
	switch {
	case to == screen.TeamsSimulator:
		if err := s.Open(context.Background()); err != nil {
			s.logger.Warn("open on screen entry failed", slog.String("error", err.Error()))
		}
	case from == screen.TeamsSimulator:
		s.op.Lock()
		s.teardownLocked("left simulator")
		s.op.Unlock()
		s.changed()
	default:
		s.changed()
	}
}

// Open probes speech support and acquires the camera and microphone. It is a no-op while open.
func (s *Session) Open(ctx context.Context) error {
	s.op.Lock()
	defer s.changed()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	supported := s.cfg.Speech != nil && s.cfg.Speech.Available()
	var stream media.Stream
	var mediaErr error
	if s.cfg.Media != nil {
		stream, mediaErr = s.cfg.Media.Acquire(ctx, media.Constraints{Audio: true, Video: true})
	}

	s.mu.Lock()
	s.opened = true
	s.supported = supported
	s.stream = stream
	if !supported {
		s.notice = NoticeSpeechUnsupported
	}
	if mediaErr != nil {
		s.notice = NoticeMediaUnavailable
	}
	s.mu.Unlock()

	if !supported {
		s.logger.Warn("speech recognition unsupported")
	}
	if mediaErr != nil {
		s.logger.Warn("media unavailable",
			slog.String("reason", string(errorsx.Reason(mediaErr))),
			slog.String("error", mediaErr.Error()))
		return errorsx.Wrap(mediaErr, errorsx.ReasonMediaUnavailable)
	}
	return nil
}

// StartPresentation begins recording a new presentation, entering the meeting simulator first.
func (s *Session) StartPresentation(ctx context.Context) error {
	if s.cfg.Screens != nil && s.cfg.Screens.Current() != screen.TeamsSimulator {
		s.cfg.Screens.Go(screen.TeamsSimulator)
	}
	if err := s.Open(ctx); err != nil {
		s.logger.Debug("starting without media", slog.String("error", err.Error()))
	}

	s.op.Lock()
	defer s.changed()
	defer s.op.Unlock()

	s.setNotice("")
	from := s.fsm.State()
	if from == StateConversationPending {
		s.setNotice(NoticeBusy)
		return ErrBusy
	}
	if !CanTransition(from, StatePresenting) {
		return &InvalidTransitionError{From: from, To: StatePresenting}
	}
	if !s.cfg.Settings.Get().HasToken() {
		s.setNotice(NoticeStartMissingToken)
		return &ValidationError{Reason: errorsx.ReasonMissingToken, Message: NoticeStartMissingToken}
	}

	s.mu.Lock()
	supported := s.supported
	stream := s.stream
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	if !supported {
		s.setNotice(NoticeStartUnsupported)
		return ErrUnsupported
	}

	s.acc.Reset()
	opts := s.cfg.SpeechOptions
	opts.StreamID = uuid.NewString()
	if stream != nil {
		opts.Audio = stream.Audio()
	}
	engine, err := s.cfg.Speech.New(opts)
	if err != nil {
		s.setNotice(NoticeStartFailed)
		return errorsx.Wrap(fmt.Errorf("create speech engine: %w", err), errorsx.ReasonSpeechEngine)
	}
	capture := speech.NewCapture(engine, &captureListener{s: s, gen: gen}, speech.CaptureConfig{
		StopTimeout: s.cfg.StopTimeout,
		Logger:      s.cfg.Logger,
		OnRestart: func() {
			metrics.Record(s.cfg.Metrics, metrics.EventSpeechRestarted, 1, map[string]string{"engine": engine.Name()}, nil)
		},
	})
	// Recognition outlives the request that started it.
	if err := capture.Start(context.WithoutCancel(ctx)); err != nil {
		s.setNotice(NoticeStartFailed)
		s.logger.Warn("speech start failed", slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("start speech recognition: %w", err), errorsx.ReasonSpeechEngine)
	}

	if from == StateConversationReady || from == StateConversationFailed {
		s.discardConversation()
	}
	if err := s.fsm.Transition(StatePresenting, "presentation started"); err != nil {
		_ = capture.Stop()
		return err
	}

	s.mu.Lock()
	s.capture = capture
	s.startedAt = s.cfg.Now()
	s.endedAt = time.Time{}
	s.questions = nil
	s.mu.Unlock()

	s.logger.Info("presentation started", slog.String("stream_id", opts.StreamID), slog.String("engine", engine.Name()))
	metrics.Record(s.cfg.Metrics, metrics.EventPresentationStarted, 1, map[string]string{"engine": engine.Name()}, nil)
	return nil
}

// EndPresentation stops recording, validates the transcript and creates the coach conversation.
// It is also the retry path after a validation or conversation failure.
func (s *Session) EndPresentation(ctx context.Context) (tavus.Conversation, error) {
	s.op.Lock()
	state := s.fsm.State()
	switch state {
	case StatePresenting:
		s.stopPresentingLocked()
	case StateEnded:
	case StateConversationFailed:
		if err := s.fsm.Transition(StateEnded, "retrying hand-off"); err != nil {
			s.op.Unlock()
			return tavus.Conversation{}, err
		}
	case StateConversationPending:
		s.op.Unlock()
		s.setNotice(NoticeBusy)
		s.changed()
		return tavus.Conversation{}, ErrBusy
	default:
		s.op.Unlock()
		return tavus.Conversation{}, &InvalidTransitionError{From: state, To: StateEnded}
	}

	text := s.acc.Freeze()
	current := s.cfg.Settings.Get()
	words := transcript.WordCount(text)
	if verr := ValidateHandoff(current, text, s.cfg.MinWords); verr != nil {
		s.setNotice(verr.Message)
		s.op.Unlock()
		s.changed()
		metrics.Record(s.cfg.Metrics, metrics.EventHandoffRejected, 1, map[string]string{"reason": string(verr.Reason)}, map[string]any{"words": words})
		s.logger.Info("hand-off rejected", slog.String("reason", string(verr.Reason)), slog.Int("words", words))
		return tavus.Conversation{}, verr
	}

	updated, err := s.cfg.Settings.Update(func(st *settings.Settings) {
		ApplyHandoff(st, text)
	})
	if err != nil {
		s.setNotice(NoticeSettingsNotSaved)
		s.op.Unlock()
		s.changed()
		return tavus.Conversation{}, errorsx.Wrap(err, errorsx.ReasonSettingsPersist)
	}

	if err := s.fsm.Transition(StateConversationPending, "transcript handed off"); err != nil {
		s.op.Unlock()
		return tavus.Conversation{}, err
	}
	s.mu.Lock()
	s.questions = Questions(words)
	s.tavusMode = true
	gen := s.gen
	s.mu.Unlock()
	s.op.Unlock()
	s.changed()

	s.logger.Info("creating coach conversation",
		slog.Int("words", words),
		slog.String("transcript", redact.Preview(text, 100)))
	// The request is never cancelled once sent; a late result is dropped by finishHandoff.
	reqCtx := context.WithoutCancel(ctx)
	started := s.cfg.Now()
	conv, err := s.cfg.Conversations.CreateConversation(reqCtx, updated.APIToken, updated)
	return s.finishHandoff(reqCtx, gen, updated.APIToken, conv, err, s.cfg.Now().Sub(started))
}

func (s *Session) finishHandoff(ctx context.Context, gen uint64, token string, conv tavus.Conversation, err error, latency time.Duration) (tavus.Conversation, error) {
	s.op.Lock()
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if !stale && s.cfg.Screens != nil && s.cfg.Screens.Current() != screen.TeamsSimulator {
		s.teardownLocked("conversation result off simulator")
		stale = true
	}
	if stale {
		s.op.Unlock()
		s.changed()
		s.logger.Info("discarding late conversation result", slog.Bool("failed", err != nil))
		return tavus.Conversation{}, ErrDiscarded
	}

	if err != nil {
		_ = s.fsm.Transition(StateConversationFailed, "conversation request failed")
		s.mu.Lock()
		s.tavusMode = false
		s.notice = NoticeConversationFailed
		s.mu.Unlock()
		s.op.Unlock()
		s.changed()
		metrics.Record(s.cfg.Metrics, metrics.EventConversationFailed, 1, map[string]string{"reason": string(errorsx.Reason(err))}, nil)
		s.logger.Warn("conversation request failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		return tavus.Conversation{}, err
	}

	_ = s.fsm.Transition(StateConversationReady, "conversation created")
	s.mu.Lock()
	stored := conv
	s.conv = &stored
	s.mu.Unlock()
	s.op.Unlock()
	s.changed()
	metrics.Record(s.cfg.Metrics, metrics.EventConversationCreated, float64(latency.Milliseconds()),
		nil, map[string]any{"conversation_id": conv.ConversationID})

	if s.cfg.Tile != nil {
		if err := s.cfg.Tile.Attach(ctx, token, conv); err != nil {
			s.setNotice(NoticeCallJoinFailed)
			s.changed()
		}
	}
	if err := s.cfg.Notifier.ConversationReady(ctx, conv); err != nil {
		s.logger.Warn("join link notification failed", slog.String("error", err.Error()))
	}
	return conv, nil
}

// Exit leaves the simulator: speech stops, devices are released and any conversation is dropped.
func (s *Session) Exit() {
	s.op.Lock()
	s.teardownLocked("exit")
	s.op.Unlock()
	if s.cfg.Screens != nil {
		s.cfg.Screens.Go(screen.Intro)
	}
	s.changed()
}

// teardownLocked must be called with op held.
func (s *Session) teardownLocked(reason string) {
	s.mu.Lock()
	s.gen++
	capture := s.capture
	stream := s.stream
	s.capture = nil
	s.stream = nil
	s.opened = false
	s.conv = nil
	s.tavusMode = false
	s.questions = nil
	if s.endedAt.IsZero() && !s.startedAt.IsZero() {
		s.endedAt = s.cfg.Now()
	}
	s.mu.Unlock()

	if capture != nil {
		if err := capture.Stop(); err != nil {
			s.logger.Debug("speech stop failed", slog.String("error", err.Error()))
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Debug("media close failed", slog.String("error", err.Error()))
		}
	}
	if s.cfg.Tile != nil {
		s.cfg.Tile.Detach()
	}
	if s.fsm.State() != StateIdle {
		_ = s.fsm.Transition(StateIdle, reason)
	}
}

// stopPresentingLocked must be called with op held and the state Presenting.
func (s *Session) stopPresentingLocked() {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	s.endedAt = s.cfg.Now()
	elapsed := s.endedAt.Sub(s.startedAt)
	s.mu.Unlock()

	if capture != nil {
		if err := capture.Stop(); err != nil {
			s.logger.Debug("speech stop failed", slog.String("error", err.Error()))
		}
	}
	_ = s.fsm.Transition(StateEnded, "presentation ended")
	metrics.Record(s.cfg.Metrics, metrics.EventPresentationEnded, elapsed.Seconds(), nil,
		map[string]any{"words": transcript.WordCount(s.acc.String())})
}

func (s *Session) discardConversation() {
	s.mu.Lock()
	s.conv = nil
	s.tavusMode = false
	s.questions = nil
	s.mu.Unlock()
	if s.cfg.Tile != nil {
		s.cfg.Tile.Detach()
	}
}

// DismissNotice clears the current notice.
func (s *Session) DismissNotice() {
	s.setNotice("")
	s.changed()
}

// ToggleMute flips the microphone and returns whether it is now muted.
func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil || stream.Audio() == nil {
		return false, ErrNoMicrophone
	}
	stream.SetAudioEnabled(!stream.AudioEnabled())
	s.changed()
	return !stream.AudioEnabled(), nil
}

func (s *Session) State() State {
	return s.fsm.State()
}

func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

// Transcript returns the live transcript.
func (s *Session) Transcript() string {
	return s.acc.String()
}

// Duration is the time spent presenting, frozen once the presentation ends.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *Session) durationLocked() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	end := s.endedAt
	if end.IsZero() {
		end = s.cfg.Now()
	}
	if end.Before(s.startedAt) {
		return 0
	}
	return end.Sub(s.startedAt).Truncate(time.Second)
}

// FormatDuration renders whole seconds as mm:ss.
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Controls reports which actions are currently possible.
func (s *Session) Controls() Controls {
	state := s.fsm.State()
	hasToken := s.cfg.Settings.Get().HasToken()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlsLocked(state, hasToken)
}

func (s *Session) controlsLocked(state State, hasToken bool) Controls {
	return Controls{
		CanStart: s.supported && hasToken && CanTransition(state, StatePresenting),
		CanEnd:   state == StatePresenting || state == StateEnded || state == StateConversationFailed,
		CanExit:  true,
		CanMute:  s.stream != nil && s.stream.Audio() != nil,
	}
}

func (s *Session) Snapshot() Snapshot {
	state := s.fsm.State()
	hasToken := s.cfg.Settings.Get().HasToken()
	text := s.acc.String()
	current := ""
	if s.cfg.Screens != nil {
		current = string(s.cfg.Screens.Current())
	}
	tile := call.Detached
	if s.cfg.Tile != nil {
		tile = s.cfg.Tile.State()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.durationLocked()
	snap := Snapshot{
		State:           state.String(),
		Screen:          current,
		Notice:          s.notice,
		Transcript:      text,
		Words:           transcript.WordCount(text),
		Duration:        FormatDuration(d),
		DurationSeconds: int(d / time.Second),
		Recording:       s.capture != nil && s.capture.Recording(),
		SpeechSupported: s.supported,
		HasToken:        hasToken,
		TavusMode:       s.tavusMode,
		Questions:       append([]string(nil), s.questions...),
		Tile:            tile.String(),
		Controls:        s.controlsLocked(state, hasToken),
	}
	if s.stream != nil {
		snap.Muted = !s.stream.AudioEnabled()
	}
	if s.conv != nil {
		conv := *s.conv
		snap.Conversation = &conv
	}
	return snap
}

// Subscribe registers fn for snapshots after every change. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	s.subID++
	id := s.subID
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) changed() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Session) setNotice(msg string) {
	s.mu.Lock()
	s.notice = strings.TrimSpace(msg)
	s.mu.Unlock()
}

type captureListener struct {
	s   *Session
	gen uint64
}

func (l *captureListener) current() bool {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.gen == l.gen
}

func (l *captureListener) OnSegment(text string) {
	if l.current() {
		l.s.acc.Append(text)
	}
}

func (l *captureListener) OnError(err error) {
	if !l.current() {
		return
	}
	l.s.logger.Warn("speech recognition error",
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
	l.s.setNotice(speechNotice(err))
	l.s.changed()
}

func (l *captureListener) OnEnded() {
	if l.current() {
		l.s.changed()
	}
}
