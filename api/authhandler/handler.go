// Package authhandler serves the authentication surface: password login,
// proof-of-possession login, logout, and session introspection. It also
// provides the session middleware consumed by the payroll handlers.
package authhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/civitas-pay/payroll-provisioning-backend/api"
	"github.com/civitas-pay/payroll-provisioning-backend/identity"
	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/session"
)

type contextKey struct{}

// ClaimsFromContext returns the verified session claims installed by the
// middleware, or nil outside an authenticated request.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(contextKey{}).(*session.Claims)
	return claims
}

// Handler processes authentication requests against the identity engine
// and the session gateway.
type Handler struct {
	engine   *identity.Engine
	sessions *session.Gateway
	secure   bool
	log      *slog.Logger
}

// NewHandler creates an authentication handler. When secure is true the
// session cookie is marked Secure.
func NewHandler(engine *identity.Engine, sessions *session.Gateway, secure bool, log *slog.Logger) *Handler {
	return &Handler{engine: engine, sessions: sessions, secure: secure, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/login", h.HandleLogin)
	r.Post("/api/auth/zk-login", h.HandleZKLogin)
	r.Post("/api/auth/logout", h.HandleLogout)
	r.With(h.Middleware).Get("/api/auth/me", h.HandleMe)
}

// Middleware verifies the session token from the Authorization header or
// the session cookie and installs the claims into the request context.
// Requests without a valid session are rejected uniformly.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(session.CookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			api.WriteError(w, interfaces.ErrUnauthorized)
			return
		}

		claims, err := h.sessions.Verify(token)
		if err != nil {
			api.WriteError(w, interfaces.ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

// HandleLogin processes a username/password login.
//
// URL format: POST /api/auth/login
//
// Response: session token, cookie, and the sanitized identity.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: malformed request body", interfaces.ErrValidation))
		return
	}

	record, err := h.engine.AuthenticateByPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	h.issueSession(w, r, record)
}

// HandleZKLogin processes a proof-of-possession login. Method "tag"
// expects the private nonce, method "credential" the full encrypted
// bundle. Neither path discloses which check failed.
//
// URL format: POST /api/auth/zk-login
func (h *Handler) HandleZKLogin(w http.ResponseWriter, r *http.Request) {
	var req api.ZKLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: malformed request body", interfaces.ErrValidation))
		return
	}

	var record *interfaces.IdentityRecord
	var err error
	switch req.Method {
	case "tag":
		record, err = h.engine.AuthenticateByTag(r.Context(), req.Tag, req.Nonce)
	case "credential":
		record, err = h.engine.AuthenticateByCredential(r.Context(), req.Tag, req.Credential)
	default:
		api.WriteError(w, fmt.Errorf("%w: unknown login method %q", interfaces.ErrValidation, req.Method))
		return
	}
	if err != nil {
		api.WriteError(w, err)
		return
	}
	h.issueSession(w, r, record)
}

func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, record *interfaces.IdentityRecord) {
	token, err := h.sessions.Issue(record)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	h.log.Info("Session issued",
		slog.String("identityID", record.ID.String()),
		slog.String("role", string(record.Role)))

	api.WriteJSON(w, http.StatusOK, api.SessionResponse{
		Token:    token,
		Identity: identity.Sanitize(record),
	})
}

// HandleLogout clears the session cookie. Tokens are stateless, so an
// already-captured bearer token stays valid until it expires.
//
// URL format: POST /api/auth/logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	api.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleMe echoes the sanitized record behind the session.
//
// URL format: GET /api/auth/me
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	record, err := h.engine.Get(r.Context(), claims.IdentityID())
	if err != nil {
		api.WriteError(w, interfaces.ErrUnauthorized)
		return
	}
	api.WriteJSON(w, http.StatusOK, identity.Sanitize(record))
}
