package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/redact"
	"github.com/harunnryd/rehearsal/pkg/screen"
	"github.com/harunnryd/rehearsal/pkg/session"
	"github.com/harunnryd/rehearsal/pkg/settings"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// statusFor maps an operation error to its HTTP status.
func statusFor(err error) int {
	var invalid *session.InvalidTransitionError
	switch {
	case errors.As(err, &invalid), errors.Is(err, session.ErrDiscarded):
		return http.StatusConflict
	}
	reason := errorsx.Reason(err)
	switch {
	case reason.IsValidation():
		return http.StatusBadRequest
	case reason == errorsx.ReasonBusy:
		return http.StatusConflict
	case reason == errorsx.ReasonNetwork, reason == errorsx.ReasonAPIStatus, reason == errorsx.ReasonAPIDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	reason := errorsx.Reason(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Reason: string(reason)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Reason: "bad_request"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

type tokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	HasToken bool   `json:"has_token"`
	Token    string `json:"token,omitempty"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid token payload")
		return
	}
	if err := s.settings.SetToken(req.Token); err != nil {
		s.writeError(w, r, errorsx.Wrap(err, errorsx.ReasonSettingsPersist))
		return
	}
	token := s.settings.Token()
	resp := tokenResponse{HasToken: strings.TrimSpace(token) != ""}
	if resp.HasToken {
		resp.Token = redact.Token(token)
	}
	writeJSON(w, http.StatusOK, resp)
}

// settingsRequest holds optional fields; absent fields are left unchanged.
type settingsRequest struct {
	Persona  *string `json:"persona"`
	Replica  *string `json:"replica"`
	Greeting *string `json:"greeting"`
	Context  *string `json:"context"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Get())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid settings payload")
		return
	}
	updated, err := s.settings.Update(func(st *settings.Settings) {
		if req.Persona != nil {
			st.Persona = strings.TrimSpace(*req.Persona)
		}
		if req.Replica != nil {
			st.Replica = strings.TrimSpace(*req.Replica)
		}
		if req.Greeting != nil {
			st.Greeting = *req.Greeting
		}
		if req.Context != nil {
			st.Context = *req.Context
		}
	})
	if err != nil {
		s.writeError(w, r, errorsx.Wrap(err, errorsx.ReasonSettingsPersist))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type screenRequest struct {
	Screen string `json:"screen"`
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := decodeJSON(w, r, &req); err != nil || !screen.Valid(req.Screen) {
		badRequest(w, "unknown screen")
		return
	}
	next := screen.Parse(req.Screen)
	if next == screen.TeamsSimulator {
		if err := s.screens.StartDemo(s.settings.Token()); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		s.screens.Go(next)
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.session.StartPresentation(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session.EndPresentation(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	s.session.Exit()
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.session.DismissNotice()
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

type muteResponse struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := s.session.ToggleMute()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, muteResponse{Muted: muted})
}
