// ABOUTME: Password-fallback token issuance, refresh, and logout handlers
// ABOUTME: Password checks are rate limited and constant-time against user enumeration

package webadmin

import (
	"errors"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/bakhmaro/gurulo-gateway/internal/device"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
	"github.com/bakhmaro/gurulo-gateway/internal/token"
)

// dummyHash keeps bcrypt timing uniform when the user or hash is missing.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMye.IjPeGvGzjND0M7S5xwI.9nW8rZZvKu"

type passwordTokenRequest struct {
	PersonalID string `json:"personalId"`
	Password   string `json:"password"`
}

func (h *Handler) handlePasswordToken(w http.ResponseWriter, r *http.Request) {
	limitKey := device.TruncateAddress(r.RemoteAddr) + "|password"
	if ok, retryAfter := h.limiter.Allow(limitKey); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		h.writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts")
		return
	}

	var req passwordTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.PersonalID == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "personal id and password required")
		return
	}

	user, err := h.store.GetUserByPersonalID(r.Context(), req.PersonalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
			h.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid personal id or password")
			return
		}
		h.logger.Error("failed to get user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "login failed")
		return
	}

	if user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
		h.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid personal id or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid personal id or password")
		return
	}

	h.limiter.Reset(limitKey)

	if err := h.createSession(w, r, user.ID); err != nil {
		h.logger.Error("failed to create session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "login failed")
		return
	}

	access, refresh, err := h.issueTokenPair(user)
	if err != nil {
		h.logger.Error("failed to issue tokens", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "login failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"user":         publicUser(user),
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "refresh token required")
		return
	}

	access, refresh, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "refresh token rejected")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.store.DeleteSession(r.Context(), cookie.Value); err != nil {
			h.logger.Error("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) issueTokenPair(user *store.User) (access, refresh string, err error) {
	subject := token.Subject{
		UserID:     user.ID,
		PersonalID: user.PersonalID,
		Role:       user.Role,
	}
	access, err = h.tokens.IssueAccess(subject)
	if err != nil {
		return "", "", err
	}
	refresh, err = h.tokens.IssueRefresh(subject)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
