// ABOUTME: Detection of the explicit confirmation signal on destructive requests
// ABOUTME: Accepts header, body, and query variants with lenient truthiness

package guard

import (
	"net/http"
	"strings"
)

// Confirmation signal aliases. Clients across generations have used
// different spellings; all remain accepted.
var (
	confirmHeaders = []string{
		"x-gurulo-super-admin-confirmed",
		"x-super-admin-confirmed",
		"x-gurulo-confirmed",
	}
	confirmBodyKeys = []string{
		"superAdminConfirmed",
		"confirmSuperAdmin",
		"super_admin_confirmed",
		"super_admin_confirmation",
	}
	confirmQueryKeys = []string{
		"superAdminConfirmed",
		"confirmSuperAdmin",
		"super_admin_confirmed",
	}
)

// Truthy reports whether a confirmation value counts as affirmative.
// Booleans, the number one, and a fixed set of strings qualify; anything
// else, including absent values, does not.
func Truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val == 1
	case float64:
		return val == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true", "yes", "y", "ok", "confirm", "confirmed":
			return true
		}
	}
	return false
}

// ConfirmationFromHTTP detects the confirmation signal on a request. The
// decoded JSON body, if any, is passed in by the caller; the request body
// itself is not read here.
func ConfirmationFromHTTP(r *http.Request, body map[string]any) bool {
	for _, h := range confirmHeaders {
		if Truthy(r.Header.Get(h)) {
			return true
		}
	}
	for _, k := range confirmBodyKeys {
		if v, ok := body[k]; ok && Truthy(v) {
			return true
		}
	}
	query := r.URL.Query()
	for _, k := range confirmQueryKeys {
		if Truthy(query.Get(k)) {
			return true
		}
	}
	return false
}
