package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/auth"
	"tutorme/tutorchat/internal/chat"
	"tutorme/tutorchat/internal/config"
	"tutorme/tutorchat/internal/contacts"
	"tutorme/tutorchat/internal/dispatch"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/session"
	"tutorme/tutorchat/internal/tutors"
	"tutorme/tutorchat/internal/votes"
)

type Deps struct {
	Chat     *chat.Service
	Tutors   *tutors.Service
	Votes    *votes.Aggregator
	Contacts *contacts.Directory
	Hub      *dispatch.Hub
}

type Server struct {
	cfg      config.Config
	chat     *chat.Service
	tutors   *tutors.Service
	votes    *votes.Aggregator
	contacts *contacts.Directory
	hub      *dispatch.Hub
	limiter  *limiterPool
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		chat:     deps.Chat,
		tutors:   deps.Tutors,
		votes:    deps.Votes,
		contacts: deps.Contacts,
		hub:      deps.Hub,
		limiter:  newLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/tutors", s.handleListTutors)
		r.Get("/tutors/ranking", s.handleRanking)
		r.Get("/tutors/{email}", s.handleGetTutor)
		r.Get("/contacts", s.handleContacts)
		r.Get("/certificates", s.handleCertificates)
		r.Get("/conversations/{email}/messages", s.handleConversation)
		r.Post("/compose/assist", s.handleAssist)

		r.With(s.rateLimitMiddleware).Post("/tutors", s.handleRegisterTutor)
		r.With(s.rateLimitMiddleware).Post("/tutors/{email}/votes", s.handleCastVote)
		r.With(s.rateLimitMiddleware).Post("/conversations/{email}/messages", s.handleSendMessage)
		r.With(s.rateLimitMiddleware).Get("/ws/conversations/{email}", s.handleConversationStream)
	})

	return r
}

// Auth

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			// Browsers cannot set headers on a websocket handshake.
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		sess := session.FromClaims(claims)
		ctx := session.WithSession(r.Context(), sess)
		logger := logging.FromContext(ctx).With().Str("identity", sess.Identity).Logger()
		ctx = logging.WithContext(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess != nil && !s.limiter.Allow(sess.Identity) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeAppError maps the error taxonomy onto HTTP.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	event := logging.FromContext(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = logging.FromContext(r.Context()).Error()
	}
	event.Err(err).Int("status", status).Msg("request failed")
	writeError(w, status, code)
}

func errorStatus(err error) (int, string) {
	if errors.Is(err, tutors.ErrExists) {
		return http.StatusConflict, "already_exists"
	}
	switch apperr.KindOf(err) {
	case apperr.NotAuthenticated:
		return http.StatusUnauthorized, string(apperr.NotAuthenticated)
	case apperr.Forbidden:
		return http.StatusForbidden, string(apperr.Forbidden)
	case apperr.NotFound:
		return http.StatusNotFound, string(apperr.NotFound)
	case apperr.InvalidCommand:
		return http.StatusUnprocessableEntity, string(apperr.InvalidCommand)
	case apperr.Invalid:
		return http.StatusBadRequest, string(apperr.Invalid)
	case apperr.TransportFailure:
		return http.StatusServiceUnavailable, string(apperr.TransportFailure)
	case apperr.InvariantViolation:
		return http.StatusInternalServerError, string(apperr.InvariantViolation)
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func pathIdentity(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))
}

func requestSession(r *http.Request) *session.Session {
	return session.FromContext(r.Context())
}

const wsWriteWait = 10 * time.Second
