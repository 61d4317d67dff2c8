// ABOUTME: Passkey registration and login HTTP handlers
// ABOUTME: Thin route layer over the ceremony orchestrator

package webadmin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bakhmaro/gurulo-gateway/internal/audit"
	"github.com/bakhmaro/gurulo-gateway/internal/ceremony"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
)

type registrationOptionsRequest struct {
	PersonalID  string `json:"personalId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (h *Handler) handleRegistrationOptions(w http.ResponseWriter, r *http.Request) {
	var req registrationOptionsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	// A logged-in user registers passkeys against its own identity,
	// whatever the body claims.
	if user := h.resolveUser(r); user != nil {
		req.PersonalID = user.PersonalID
		if req.Email == "" {
			req.Email = user.Email
		}
		if req.DisplayName == "" {
			req.DisplayName = user.DisplayName
		}
	}

	key, err := h.ceremonyKey(w, r)
	if err != nil {
		h.logger.Error("failed to derive ceremony key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to start registration")
		return
	}

	options, err := h.ceremonies.BeginRegistration(r.Context(), key, req.PersonalID, req.Email, req.DisplayName)
	if err != nil {
		h.writeCeremonyError(w, err, codeRegistrationFailed, "failed to start registration")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"options": options,
	})
}

func (h *Handler) handleRegistrationVerify(w http.ResponseWriter, r *http.Request) {
	key, err := h.ceremonyKey(w, r)
	if err != nil {
		h.logger.Error("failed to derive ceremony key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to verify registration")
		return
	}

	result, err := h.ceremonies.FinishRegistration(r.Context(), key, r.Body, deviceInfoFromRequest(r))
	if err != nil {
		h.writeCeremonyError(w, err, codeRegistrationFailed, "failed to verify registration")
		return
	}

	h.finishAuthenticated(w, r, result)
}

func (h *Handler) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	key, err := h.ceremonyKey(w, r)
	if err != nil {
		h.logger.Error("failed to derive ceremony key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to start login")
		return
	}

	var body struct {
		PersonalID string `json:"personalId"`
	}
	// The body is optional; without a personal id the ceremony is
	// discoverable and the authenticator picks the account.
	_ = decodeJSON(r, &body)

	options, err := h.ceremonies.BeginLogin(r.Context(), key, body.PersonalID)
	if err != nil {
		h.writeCeremonyError(w, err, codeLoginFailed, "failed to start login")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"options": options,
	})
}

func (h *Handler) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	key, err := h.ceremonyKey(w, r)
	if err != nil {
		h.logger.Error("failed to derive ceremony key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to verify login")
		return
	}

	result, err := h.ceremonies.FinishLogin(r.Context(), key, r.Body, deviceInfoFromRequest(r))
	if err != nil {
		h.writeCeremonyError(w, err, codeLoginFailed, "failed to verify login")
		return
	}

	h.finishAuthenticated(w, r, result)
}

func (h *Handler) handleCredentialRevoke(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	credentialID := r.PathValue("id")

	err := h.ceremonies.RevokeCredential(r.Context(), user.ID, credentialID)
	if err != nil {
		if errors.Is(err, ceremony.ErrCredentialNotFound) {
			h.writeError(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "passkey not found")
			return
		}
		h.logger.Error("failed to revoke credential", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to revoke passkey")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// finishAuthenticated turns a completed ceremony into a session cookie
// plus a fresh token pair.
func (h *Handler) finishAuthenticated(w http.ResponseWriter, r *http.Request, result *ceremony.Result) {
	if err := h.createSession(w, r, result.User.ID); err != nil {
		h.logger.Error("failed to create session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to create session")
		return
	}

	access, refresh, err := h.issueTokenPair(result.User)
	if err != nil {
		h.logger.Error("failed to issue tokens", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to issue tokens")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"user":         publicUser(result.User),
		"credentialId": result.CredentialID,
		"device": map[string]any{
			"id":      result.DeviceID,
			"trusted": result.DeviceTrusted,
		},
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

// Verification-failure codes, one per ceremony flow.
const (
	codeRegistrationFailed = "REGISTRATION_VERIFICATION_FAILED"
	codeLoginFailed        = "AUTHENTICATION_VERIFICATION_FAILED"
)

// writeCeremonyError maps orchestrator errors onto HTTP responses.
// failCode distinguishes which flow's verification failed.
func (h *Handler) writeCeremonyError(w http.ResponseWriter, err error, failCode, fallback string) {
	var rateLimited *ceremony.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		h.writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts")
	case errors.Is(err, ceremony.ErrInsufficientInput):
		h.writeError(w, http.StatusBadRequest, "INSUFFICIENT_INPUT", "personal id required")
	case errors.Is(err, ceremony.ErrStaleCeremony):
		h.writeError(w, http.StatusBadRequest, "STALE_CEREMONY", "no pending challenge, request new options")
	case errors.Is(err, store.ErrPersonalIDConflict), errors.Is(err, identity.ErrIdentityConflict):
		h.writeError(w, http.StatusConflict, "IDENTITY_CONFLICT", "personal id belongs to another account")
	case errors.Is(err, ceremony.ErrUnknownUser):
		h.writeError(w, http.StatusNotFound, "UNKNOWN_USER", "unknown user")
	case errors.Is(err, ceremony.ErrNoCredentials):
		h.writeError(w, http.StatusNotFound, "NO_CREDENTIALS", "no passkeys registered")
	case errors.Is(err, ceremony.ErrCredentialNotFound):
		h.writeError(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "passkey not found")
	case errors.Is(err, ceremony.ErrCredentialRevoked),
		errors.Is(err, ceremony.ErrVerificationFailed):
		h.writeError(w, http.StatusBadRequest, failCode, "passkey verification failed")
	default:
		h.logger.Error("ceremony failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", fallback)
	}
}

// publicUser shapes a user for responses. Personal ids never leave the
// server unredacted.
func publicUser(user *store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"personalId":  audit.Redact(user.PersonalID),
		"email":       user.Email,
		"displayName": user.DisplayName,
		"role":        user.Role,
	}
}
