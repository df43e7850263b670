package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"hustl/internal/ratelimit"
	"hustl/internal/util"
	"hustl/pkg/storage"
	"hustl/pkg/store"
	"hustl/services/api/internal/app"
	"hustl/services/api/internal/security"
)

const (
	defaultSignupPerMinute  = 5
	defaultLoginPerMinute   = 10
	defaultMessagePerMinute = 60
	defaultKeepAlive        = 25 * time.Second
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiters default to in-process counters when nil.
	SignupLimiter  ratelimit.Limiter
	LoginLimiter   ratelimit.Limiter
	MessageLimiter ratelimit.Limiter
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
	// Uploads serves locally stored images under /uploads/ when set.
	Uploads *storage.FileStore
	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
	// Alerter escalates repeated failures; nil disables alerting.
	Alerter *security.AuditAlerter
}

// Server exposes the marketplace HTTP API.
type Server struct {
	app            *app.App
	router         *mux.Router
	signupLimiter  ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
	messageLimiter ratelimit.Limiter
	allowedOrigins []string
	trustedProxies *util.TrustedProxies
	uploads        *storage.FileStore
	keepAlive      time.Duration
	alerter        *security.AuditAlerter
	streams        context.Context
	closeStreams   context.CancelFunc
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	var err error
	if cfg.SignupLimiter == nil {
		if cfg.SignupLimiter, err = ratelimit.NewMemoryFixedWindowLimiter(defaultSignupPerMinute, time.Minute); err != nil {
			return nil, err
		}
	}
	if cfg.LoginLimiter == nil {
		if cfg.LoginLimiter, err = ratelimit.NewMemoryFixedWindowLimiter(defaultLoginPerMinute, time.Minute); err != nil {
			return nil, err
		}
	}
	if cfg.MessageLimiter == nil {
		if cfg.MessageLimiter, err = ratelimit.NewMemoryFixedWindowLimiter(defaultMessagePerMinute, time.Minute); err != nil {
			return nil, err
		}
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	s := &Server{
		app:            cfg.App,
		router:         mux.NewRouter(),
		signupLimiter:  cfg.SignupLimiter,
		loginLimiter:   cfg.LoginLimiter,
		messageLimiter: cfg.MessageLimiter,
		allowedOrigins: cfg.AllowedOrigins,
		trustedProxies: cfg.TrustedProxies,
		uploads:        cfg.Uploads,
		keepAlive:      cfg.KeepAlive,
		alerter:        cfg.Alerter,
	}
	s.streams, s.closeStreams = context.WithCancel(context.Background())
	s.routes()
	return s, nil
}

// CloseStreams ends every open event stream. Register it with
// http.Server.RegisterOnShutdown so Shutdown does not wait on them.
func (s *Server) CloseStreams() {
	s.closeStreams()
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.router
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		methodNotAllowed(w)
	})
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.uploads != nil {
		r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.HandlerFunc(s.handleUpload))).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	// auth
	api.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", s.handleSignin).Methods(http.MethodPost)
	api.HandleFunc("/auth/signout", s.handleSignout).Methods(http.MethodPost)
	api.Handle("/auth/session", s.authenticated(s.handleSession)).Methods(http.MethodGet)

	api.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)

	// profiles
	api.Handle("/profiles/me", s.authenticated(s.handleGetMe)).Methods(http.MethodGet)
	api.Handle("/profiles/me", s.authenticated(s.handleUpdateMe)).Methods(http.MethodPatch)
	api.Handle("/profiles/me/avatar", s.authenticated(s.handleAvatar)).Methods(http.MethodPost)
	api.Handle("/profiles/{id}", s.authenticated(s.handleGetProfile)).Methods(http.MethodGet)
	api.Handle("/profiles/{id}/reviews", s.authenticated(s.handleProfileReviews)).Methods(http.MethodGet)

	// tasks
	api.Handle("/tasks", s.authenticated(s.handleListTasks)).Methods(http.MethodGet)
	api.Handle("/tasks", s.authenticated(s.handleCreateTask)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}", s.authenticated(s.handleGetTask)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}", s.authenticated(s.handleUpdateTask)).Methods(http.MethodPatch)
	api.Handle("/tasks/{id}", s.authenticated(s.handleDeleteTask)).Methods(http.MethodDelete)
	api.Handle("/tasks/{id}/complete", s.authenticated(s.handleCompleteTask)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/image", s.authenticated(s.handleTaskImage)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/applications", s.authenticated(s.handleListApplications)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}/applications", s.authenticated(s.handleApply)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/messages", s.authenticated(s.handleListMessages)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}/messages", s.authenticated(s.handleSendMessage)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/messages/stream", s.authenticated(s.handleMessageStream)).Methods(http.MethodGet)
	api.Handle("/me/tasks/posted", s.authenticated(s.handlePostedTasks)).Methods(http.MethodGet)
	api.Handle("/me/tasks/assigned", s.authenticated(s.handleAssignedTasks)).Methods(http.MethodGet)
	api.Handle("/me/applications", s.authenticated(s.handleMyApplications)).Methods(http.MethodGet)

	// applications
	api.Handle("/applications/{id}/accept", s.authenticated(s.handleAcceptApplication)).Methods(http.MethodPost)
	api.Handle("/applications/{id}/withdraw", s.authenticated(s.handleWithdrawApplication)).Methods(http.MethodPost)

	// messages
	api.Handle("/messages/{id}/read", s.authenticated(s.handleMarkMessageRead)).Methods(http.MethodPost)
	api.Handle("/conversations", s.authenticated(s.handleConversations)).Methods(http.MethodGet)

	// notifications
	api.Handle("/notifications", s.authenticated(s.handleListNotifications)).Methods(http.MethodGet)
	api.Handle("/notifications/unread-count", s.authenticated(s.handleUnreadCount)).Methods(http.MethodGet)
	api.Handle("/notifications/read-all", s.authenticated(s.handleMarkAllRead)).Methods(http.MethodPost)
	api.Handle("/notifications/stream", s.authenticated(s.handleNotificationStream)).Methods(http.MethodGet)
	api.Handle("/notifications/{id}/read", s.authenticated(s.handleMarkNotificationRead)).Methods(http.MethodPost)

	// reviews & wallet
	api.Handle("/reviews", s.authenticated(s.handleCreateReview)).Methods(http.MethodPost)
	api.Handle("/wallet/transactions", s.authenticated(s.handleTransactions)).Methods(http.MethodGet)
	api.Handle("/wallet/summary", s.authenticated(s.handleWalletSummary)).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	f, err := s.uploads.Open(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", storage.ContentTypeFor(info.Name()))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.app.Auth.GetSession(r.Context(), token)
		if err != nil {
			if errors.Is(err, app.ErrNoAuthenticatedUser) {
				s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "api.authorize", "success", "user_id", sess.UserID)
		ctx := app.WithUserID(r.Context(), sess.UserID)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", sess.UserID))
		next(w, r.WithContext(ctx), sess.UserID)
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// writeAppError maps app and store errors to statuses. Unknown errors are
// logged and answered with a generic 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid input", "fields": verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrNoAuthenticatedUser):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrUserDisabled):
		writeError(w, http.StatusUnauthorized, app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrInvalidTransition),
		errors.Is(err, app.ErrAlreadyApplied),
		errors.Is(err, app.ErrAlreadyReviewed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	alert, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if alert.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", alert.Count,
			"threshold", alert.Threshold,
			"window", alert.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, key, msg string) bool {
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}
