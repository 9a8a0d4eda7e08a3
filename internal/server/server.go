package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"footyai/internal/app"
	"footyai/internal/chat"
	"footyai/internal/util"
	"footyai/pkg/domain"
)

// RateLimiter gates requests per client key.
type RateLimiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Limiter RateLimiter
}

// Server exposes the HTTP API.
type Server struct {
	app     *app.App
	limiter RateLimiter
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		limiter: cfg.Limiter,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/auth/signup", s.handleSignUp)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.Handle("/auth/logout", s.withSession(s.handleLogout))
	s.mux.Handle("/auth/me", s.withSession(s.handleMe))
	s.mux.Handle("/api/predict", s.withSession(s.handlePredict))
	s.mux.Handle("/api/chat", s.withSession(s.handleChat))
	s.mux.Handle("/api/transcripts/", s.withSession(s.handleTranscriptURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.SignUp(r.Context(), req.Username, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, app.ErrUsernameTaken) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: session.Token, User: session.User})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: session.Token, User: session.User})
}

type sessionHandler func(http.ResponseWriter, *http.Request, *domain.Session)

func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok := s.app.CurrentUser(r.Context(), token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, &domain.Session{Token: token, User: user})
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Logout(r.Context(), session.Token); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": session.User})
}

type predictRequest struct {
	TeamA domain.TeamStats `json:"teamA"`
	TeamB domain.TeamStats `json:"teamB"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req predictRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.Predict(r.Context(), session, req.TeamA, req.TeamB)
	if err != nil {
		if errors.Is(err, app.ErrMissingTeamName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	switch r.Method {
	case http.MethodGet:
		s.handleChatTranscript(w, r, session)
	case http.MethodPost:
		s.handleChatSend(w, r, session)
	case http.MethodDelete:
		s.handleChatReset(w, r, session)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChatTranscript(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	ctrl := s.app.Controller(session)
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":  ctrl.Messages(),
		"remaining": ctrl.Remaining(),
		"quota":     ctrl.QuotaSummary(),
	})
}

// handleTranscriptURL resolves /api/transcripts/{id} to a presigned
// download link for the archived transcript.
func (s *Server) handleTranscriptURL(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/transcripts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, app.ErrTranscriptNotFound.Error())
		return
	}
	url, err := s.app.TranscriptURL(r.Context(), session, id)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrTranscriptNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrTranscriptNotArchived):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrArchiveUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "transcript download failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	s.app.ResetChat(session)
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleChatSend streams the reply as server-sent events. Errors raised
// before the first delta go out as plain JSON with a proper status; after
// deltas have been flushed the stream ends with an error event instead.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	streaming := false
	onDelta := func(delta string) {
		if !streaming {
			streaming = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
		}
		writeEvent(w, map[string]any{"delta": delta})
		flusher.Flush()
	}

	_, err := s.app.SendChat(r.Context(), session, req.Message, onDelta)
	if err != nil {
		if streaming {
			writeEvent(w, map[string]any{"error": err.Error()})
			flusher.Flush()
			return
		}
		writeError(w, chatErrorStatus(err), err.Error())
		return
	}
	if !streaming {
		// Empty reply: still open the stream so the client sees the
		// terminal event.
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	ctrl := s.app.Controller(session)
	writeEvent(w, map[string]any{"done": true, "remaining": ctrl.Remaining(), "quota": ctrl.QuotaSummary()})
	flusher.Flush()
}

func chatErrorStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, chat.ErrQuotaExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrInferenceFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEvent(w http.ResponseWriter, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
