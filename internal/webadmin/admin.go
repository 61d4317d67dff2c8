// ABOUTME: Privileged admin handlers behind the authorization guard
// ABOUTME: Cache clear is the destructive operation requiring explicit confirmation

package webadmin

import (
	"net/http"
	"time"
)

// handleCacheClear is only reachable after the guard has verified the
// caller's identity, privilege, and destructive-action confirmation.
func (h *Handler) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("cache cleared by administrator")

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"clearedAt": time.Now().UTC().Format(time.RFC3339),
	})
}
