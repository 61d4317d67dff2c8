// ABOUTME: Trusted-device HTTP handlers: list, trust, remove, recognize
// ABOUTME: All routes operate on the authenticated user's own devices

package webadmin

import (
	"errors"
	"net/http"
	"time"

	"github.com/bakhmaro/gurulo-gateway/internal/device"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
)

func (h *Handler) handleDevicesList(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	devices, err := h.devices.List(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list devices", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list devices")
		return
	}

	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, publicDevice(d))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"devices": out,
	})
}

type deviceTrustRequest struct {
	Trusted bool `json:"trusted"`
}

func (h *Handler) handleDeviceTrust(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	deviceID := r.PathValue("id")

	var req deviceTrustRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.devices.SetTrust(r.Context(), user.ID, deviceID, req.Trusted); err != nil {
		h.writeDeviceError(w, err, "failed to update device trust")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"trusted": req.Trusted,
	})
}

func (h *Handler) handleDeviceRemove(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	deviceID := r.PathValue("id")

	if err := h.devices.Remove(r.Context(), user.ID, deviceID); err != nil {
		h.writeDeviceError(w, err, "failed to remove device")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type recognizeRequest struct {
	Fingerprint string `json:"fingerprint"`
	ClientID    string `json:"clientId"`
}

func (h *Handler) handleDeviceRecognize(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	var req recognizeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	info := deviceInfoFromRequest(r)
	if req.Fingerprint != "" {
		info.Fingerprint = req.Fingerprint
	}
	if req.ClientID != "" {
		info.ClientID = req.ClientID
	}

	recognition, err := h.devices.Recognize(r.Context(), user.ID, info)
	if errors.Is(err, device.ErrInsufficientInput) {
		h.writeError(w, http.StatusBadRequest, "INSUFFICIENT_INPUT", "not enough device identity to recognize")
		return
	}
	if err != nil {
		h.logger.Error("failed to recognize device", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to recognize device")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"recognized":      recognition.Recognized,
		"trusted":         recognition.Trusted,
		"deviceId":        recognition.DeviceID,
		"suggestedMethod": recognition.SuggestedMethod,
	})
}

func (h *Handler) writeDeviceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrNotOwner):
		h.writeError(w, http.StatusForbidden, "NOT_OWNER", "device does not belong to this account")
	case errors.Is(err, device.ErrDeviceNotFound):
		h.writeError(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
	default:
		h.logger.Error(fallback, "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", fallback)
	}
}

func publicDevice(d *store.Device) map[string]any {
	return map[string]any{
		"id":         d.ID,
		"platform":   d.Platform,
		"os":         d.OS,
		"browser":    d.Browser,
		"trusted":    d.Trusted,
		"loginCount": d.LoginCount,
		"firstSeen":  d.FirstSeen.Format(time.RFC3339),
		"lastSeen":   d.LastSeen.Format(time.RFC3339),
	}
}
