// ABOUTME: HTTP handler package for the passkey and token auth surface
// ABOUTME: Wires ceremonies, device registry, tokens, and the guard into routes

package webadmin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bakhmaro/gurulo-gateway/internal/ceremony"
	"github.com/bakhmaro/gurulo-gateway/internal/claims"
	"github.com/bakhmaro/gurulo-gateway/internal/device"
	"github.com/bakhmaro/gurulo-gateway/internal/guard"
	"github.com/bakhmaro/gurulo-gateway/internal/ratelimit"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
	"github.com/bakhmaro/gurulo-gateway/internal/token"
)

const (
	// SessionCookieName is the name of the login session cookie.
	SessionCookieName = "gurulo_session"

	// CeremonyCookieName keys pending WebAuthn ceremonies for clients
	// that have no session yet.
	CeremonyCookieName = "gurulo_ceremony"

	// SessionDuration is how long sessions last.
	SessionDuration = 7 * 24 * time.Hour
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userContextKey contextKey = "auth_user"

// Store combines the user and session operations the handler needs.
type Store interface {
	store.UserStore
	store.SessionStore
}

// Handler serves the authentication and device-trust HTTP routes.
type Handler struct {
	store      Store
	ceremonies *ceremony.Orchestrator
	devices    *device.Registry
	tokens     *token.Service
	guard      *guard.Guard
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

// New creates a Handler. limiter throttles password attempts; passkey
// ceremonies carry their own limiter inside the orchestrator.
func New(s Store, ceremonies *ceremony.Orchestrator, devices *device.Registry,
	tokens *token.Service, g *guard.Guard, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		store:      s,
		ceremonies: ceremonies,
		devices:    devices,
		tokens:     tokens,
		guard:      g,
		limiter:    limiter,
		logger:     slog.Default().With("component", "webadmin"),
	}
}

// RegisterRoutes registers all auth routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Ceremony routes (no auth required; login is how auth starts)
	mux.HandleFunc("POST /auth/passkey/registration/options", h.handleRegistrationOptions)
	mux.HandleFunc("POST /auth/passkey/registration/verify", h.handleRegistrationVerify)
	mux.HandleFunc("POST /auth/passkey/login/options", h.handleLoginOptions)
	mux.HandleFunc("POST /auth/passkey/login/verify", h.handleLoginVerify)

	// Password fallback and token lifecycle
	mux.HandleFunc("POST /auth/token", h.handlePasswordToken)
	mux.HandleFunc("POST /auth/token/refresh", h.handleTokenRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)

	// Device management (auth required)
	mux.Handle("GET /auth/devices", h.requireUser(http.HandlerFunc(h.handleDevicesList)))
	mux.Handle("POST /auth/devices/{id}/trust", h.requireUser(http.HandlerFunc(h.handleDeviceTrust)))
	mux.Handle("DELETE /auth/devices/{id}", h.requireUser(http.HandlerFunc(h.handleDeviceRemove)))
	mux.Handle("POST /auth/device/recognize", h.requireUser(http.HandlerFunc(h.handleDeviceRecognize)))

	// Passkey management (auth required)
	mux.Handle("DELETE /auth/passkey/{id}", h.requireUser(http.HandlerFunc(h.handleCredentialRevoke)))

	// Demo destructive admin route, fully guarded
	clearCache := h.guard.Require(guard.Requirement{
		Action:      "admin.cache.clear",
		Privileged:  true,
		Destructive: true,
	})(http.HandlerFunc(h.handleCacheClear))
	mux.Handle("POST /admin/cache/clear", h.attachUser(clearCache))
}

// attachUser resolves the caller from the session cookie or a bearer
// token and, when found, attaches the user and its claims to the
// request context. Unauthenticated requests pass through untouched.
func (h *Handler) attachUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := h.resolveUser(r)
		if user != nil {
			ctx := context.WithValue(r.Context(), userContextKey, user)
			ctx = guard.WithClaims(ctx, claims.ClaimSet{
				PersonalID: user.PersonalID,
				Roles:      []string{user.Role},
			})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser is attachUser plus a 401 for anonymous callers.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return h.attachUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userFromContext(r) == nil {
			h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// resolveUser tries the session cookie first, then a bearer access token.
func (h *Handler) resolveUser(r *http.Request) *store.User {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if session, err := h.store.GetSession(r.Context(), cookie.Value); err == nil {
			if user, err := h.store.GetUser(r.Context(), session.UserID); err == nil {
				return user
			}
		}
	}

	raw := token.ExtractFromRequest(r)
	if raw == "" {
		return nil
	}
	subject, err := h.tokens.Verify(raw, token.TypeAccess)
	if err != nil {
		return nil
	}
	user, err := h.store.GetUser(r.Context(), subject.UserID)
	if err != nil {
		return nil
	}
	return user
}

func userFromContext(r *http.Request) *store.User {
	user, _ := r.Context().Value(userContextKey).(*store.User)
	return user
}

// createSession persists a login session and sets the session cookie.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, userID string) error {
	sessionID, err := generateSecureToken(32)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	session := &store.Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionDuration),
	}
	if err := h.store.CreateSession(r.Context(), session); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ceremonyKey returns the key pending ceremonies are filed under for
// this client. A logged-in session reuses its session id; anonymous
// clients get a dedicated ceremony cookie.
func (h *Handler) ceremonyKey(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	if cookie, err := r.Cookie(CeremonyCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	key, err := generateSecureToken(16)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CeremonyCookieName,
		Value:    key,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return key, nil
}

// deviceInfoFromRequest collects the client context forwarded on the
// request. Fingerprint and client id are client-supplied hints, the
// rest comes from standard headers.
func deviceInfoFromRequest(r *http.Request) device.Info {
	return device.Info{
		ClientID:    r.Header.Get("x-client-id"),
		Fingerprint: r.Header.Get("x-device-fingerprint"),
		UserAgent:   r.UserAgent(),
		Platform:    r.Header.Get("sec-ch-ua-platform"),
		RemoteAddr:  r.RemoteAddr,
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	ErrorID string `json:"errorId"`
}

// writeError sends the generic error shape. The errorId correlates the
// response with server logs; details never reach the client.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	errorID := uuid.New().String()
	h.logger.Warn("request failed", "code", code, "status", status, "error_id", errorID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: message, Code: code, ErrorID: errorID}); err != nil {
		h.logger.Error("failed to write error response", "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
