// ABOUTME: Token extraction from HTTP requests
// ABOUTME: Checks Authorization bearer, x-api-key header, then query string

package token

import (
	"net/http"
	"strings"
)

// ExtractFromRequest pulls a token string from the request, checking in
// order: the Authorization header (Bearer scheme), the x-api-key header,
// and the "token" query parameter. Returns empty when none is present.
func ExtractFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
