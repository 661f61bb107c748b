// Package server exposes the rehearsal session over a local HTTP API and pushes session
// snapshots to websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/screen"
	"github.com/harunnryd/rehearsal/pkg/session"
	"github.com/harunnryd/rehearsal/pkg/settings"
)

type Config struct {
	Addr           string   `mapstructure:"addr"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8787"
	}
	return c
}

// Server is the local control surface for one session.
type Server struct {
	cfg      Config
	session  *session.Session
	settings *settings.Store
	screens  *screen.Controller
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
	handler  http.Handler

	mu      sync.Mutex
	clients map[string]*client

	draining    atomic.Bool
	unsubscribe func()
}

func New(cfg Config, sess *session.Session, store *settings.Store, screens *screen.Controller) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		session:  sess,
		settings: store,
		screens:  screens,
		logger:   logging.NewComponentLogger(cfg.Logger, "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[string]*client),
	}
	s.upgrader.CheckOrigin = s.checkOrigin

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/token", s.handleToken)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("POST /api/screen", s.handleScreen)
	mux.HandleFunc("POST /api/presentation/start", s.handleStart)
	mux.HandleFunc("POST /api/presentation/end", s.handleEnd)
	mux.HandleFunc("POST /api/exit", s.handleExit)
	mux.HandleFunc("POST /api/notice/dismiss", s.handleDismiss)
	mux.HandleFunc("POST /api/mute", s.handleMute)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.handler = mux
	s.unsubscribe = sess.Subscribe(s.broadcast)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// Start listens in the background until ctx ends or Drain is called.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.handler,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("control server listening", slog.String("addr", s.cfg.Addr))
	return nil
}

// Drain stops accepting requests, closes websocket clients and waits for in-flight requests.
func (s *Server) Drain(ctx context.Context) error {
	s.draining.Store(true)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.mu.Lock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	if originHost == r.Host {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.EqualFold(a, origin) || strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
