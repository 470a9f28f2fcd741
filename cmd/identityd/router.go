package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/middleware"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	engine *goIdentity.Engine
	db     pinger
	redis  redis.UniversalClient
	logger *slog.Logger
}

func newRouter(engine *goIdentity.Engine, db pinger, rdb redis.UniversalClient, logger *slog.Logger) http.Handler {
	s := &server{engine: engine, db: db, redis: rdb, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", prometheus.NewExporter(engine).Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Post("/refresh", s.refresh)
		r.Post("/otp", s.requestOTP)
		r.Post("/otp/{requestID}/verify", s.verifyOTP)
		r.Post("/password/reset", s.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(engine))
			r.Post("/logout", s.logout)
			r.Post("/password/change", s.changePassword)
			r.Get("/me/permissions", s.permissions)
			r.Get("/me/sessions", s.sessions)
		})
	})
	return r
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": err.Error()})
		return
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "redis": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "audit_dropped": s.engine.AuditDropped()})
}

type loginBody struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	DeviceType string `json:"device_type"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Login(requestContext(r), goIdentity.LoginRequest{
		Identifier: body.Identifier,
		Password:   body.Password,
		DeviceType: body.DeviceType,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":            res.UserID,
		"session_id":         res.SessionID,
		"access_token":       res.AccessToken,
		"refresh_token":      res.RefreshToken,
		"expires_at":         res.ExpiresAt,
		"session_expires_at": res.SessionExpiresAt,
		"first_login":        res.FirstLogin,
	})
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Refresh(requestContext(r), body.RefreshToken)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": res.AccessToken,
		"expires_at":   res.ExpiresAt,
		"session_id":   res.SessionID,
	})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), claims.SID); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) requestOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
		Purpose    string `json:"purpose"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Purpose == "" {
		body.Purpose = goIdentity.PurposeResetPassword
	}
	res, err := s.engine.RequestOTP(requestContext(r), body.Identifier, body.Purpose)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id":         res.RequestID,
		"masked_destination": res.MaskedDestination,
		"expires_at":         res.ExpiresAt,
		"remaining_attempts": res.RemainingAttempts,
	})
}

func (s *server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.VerifyOTP(requestContext(r), chi.URLParam(r, "requestID"), body.Code)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reset_token": res.ResetToken,
		"expires_at":  res.ExpiresAt,
	})
}

func (s *server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResetToken      string `json:"reset_token"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.ResetPassword(requestContext(r), body.ResetToken, body.NewPassword, body.ConfirmPassword); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := s.engine.ChangePassword(r.Context(), claims.Subject, body.CurrentPassword, body.NewPassword, body.ConfirmPassword); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) permissions(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	set, err := s.engine.GetPermissions(r.Context(), claims.Subject)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *server) sessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	list, err := s.engine.ListActiveSessions(r.Context(), claims.Subject)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, sess := range list {
		out = append(out, map[string]any{
			"session_id":    sess.ID,
			"ip_address":    sess.IPAddress,
			"user_agent":    sess.UserAgent,
			"device_type":   sess.DeviceType,
			"created_at":    sess.CreatedAt,
			"last_activity": sess.LastActivityAt,
			"expires_at":    sess.ExpiresAt,
			"current":       sess.ID == claims.SID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// fail maps engine errors to status codes. Unexpected errors are logged;
// the client only sees a generic message.
func (s *server) fail(w http.ResponseWriter, err error) {
	var (
		locked     *goIdentity.LockedError
		creds      *goIdentity.CredentialsError
		otpErr     *goIdentity.OTPError
		validation *goIdentity.ValidationError
	)
	switch {
	case errors.Is(err, goIdentity.ErrOTPMaxAttemptsExceeded):
		writeJSON(w, http.StatusLocked, map[string]any{"error": "otp_attempts_exceeded"})
	case errors.As(err, &otpErr):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":              "otp_invalid",
			"remaining_attempts": otpErr.RemainingAttempts,
			"locked":             !otpErr.LockedUntil.IsZero(),
		})
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(locked.RemainingMinutes*60))
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":             "account_locked",
			"remaining_minutes": locked.RemainingMinutes,
		})
	case errors.As(err, &creds):
		body := map[string]any{"error": "invalid_credentials"}
		if creds.RemainingAttempts >= 0 {
			body["remaining_attempts"] = creds.RemainingAttempts
		}
		writeJSON(w, http.StatusUnauthorized, body)
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "validation",
			"problems": validation.Problems,
		})
	case errors.Is(err, goIdentity.ErrOTPExpired):
		writeJSON(w, http.StatusGone, map[string]any{"error": "otp_expired"})
	case errors.Is(err, goIdentity.ErrTokenInvalid),
		errors.Is(err, goIdentity.ErrSessionInactive):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	case errors.Is(err, goIdentity.ErrSessionNotFound),
		errors.Is(err, goIdentity.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
	case errors.Is(err, goIdentity.ErrStoreUnavailable),
		errors.Is(err, goIdentity.ErrCacheUnavailable):
		s.logger.Error("identityd: backend unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "unavailable"})
	default:
		s.logger.Error("identityd: request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := goIdentity.WithClientIP(r.Context(), remoteIP(r))
	return goIdentity.WithUserAgent(ctx, r.UserAgent())
}

func remoteIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
