package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/redact"
)

// Option configures a Store.
type Option func(*Store)

// WithTokenBackend keeps the API token in a separate backend, typically the OS keyring.
func WithTokenBackend(b Backend) Option {
	return func(s *Store) { s.tokens = b }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.NewComponentLogger(l, "settings") }
}

// Store is the process-wide settings holder.
type Store struct {
	mu      sync.RWMutex
	current Settings
	backend Backend
	tokens  Backend
	subs    map[int]func(Settings)
	nextSub int
	logger  *slog.Logger
}

// Open loads the token and settings object from the backends.
// A corrupt settings object is logged and replaced by zero values.
func Open(backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		subs:    make(map[int]func(Settings)),
		logger:  logging.NewComponentLogger(nil, "settings"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokens == nil {
		s.tokens = backend
	}

	raw, ok, err := backend.Get(KeySettings)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("load settings: %w", err), errorsx.ReasonSettingsPersist)
	}
	if ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &s.current); err != nil {
			s.logger.Warn("settings_corrupt_ignored", slog.String("error", err.Error()))
			s.current = Settings{}
		}
	}

	token, _, err := s.tokens.Get(KeyToken)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("load token: %w", err), errorsx.ReasonSettingsPersist)
	}
	s.current.APIToken = token

	s.logger.Debug("settings_loaded",
		slog.Bool("has_token", s.current.HasToken()),
		slog.String("token", redact.Token(token)),
		slog.Int("context_chars", len(s.current.Context)))
	return s, nil
}

// Get returns a snapshot of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the current API token.
func (s *Store) Token() string {
	return s.Get().APIToken
}

// Update applies fn to a copy of the settings, persists both keys and notifies subscribers.
// Nothing changes in memory when persisting fails.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	next := s.current
	fn(&next)
	if err := s.persist(next, next.APIToken != s.current.APIToken); err != nil {
		s.mu.Unlock()
		return s.Get(), err
	}
	s.current = next
	subs := s.subscribers()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next, nil
}

// SetToken stores a new API token.
func (s *Store) SetToken(token string) error {
	_, err := s.Update(func(st *Settings) { st.APIToken = strings.TrimSpace(token) })
	return err
}

// Subscribe registers fn for change notifications and returns a function that removes it.
func (s *Store) Subscribe(fn func(Settings)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// must be called with s.mu held
func (s *Store) persist(next Settings, tokenChanged bool) error {
	data, err := json.Marshal(next)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSettingsPersist)
	}
	if err := s.backend.Set(KeySettings, string(data)); err != nil {
		return errorsx.Wrap(fmt.Errorf("save settings: %w", err), errorsx.ReasonSettingsPersist)
	}
	if tokenChanged {
		if err := s.tokens.Set(KeyToken, next.APIToken); err != nil {
			return errorsx.Wrap(fmt.Errorf("save token: %w", err), errorsx.ReasonSettingsPersist)
		}
		s.logger.Info("token_saved", slog.String("token", redact.Token(next.APIToken)))
	}
	return nil
}

// must be called with s.mu held
func (s *Store) subscribers() []func(Settings) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Settings), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}
