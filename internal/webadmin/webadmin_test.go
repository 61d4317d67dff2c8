// ABOUTME: Handler tests for the auth HTTP surface using a real sqlite store
// ABOUTME: Covers password login, refresh, devices, guard wiring, and logout

package webadmin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bakhmaro/gurulo-gateway/internal/audit"
	"github.com/bakhmaro/gurulo-gateway/internal/ceremony"
	"github.com/bakhmaro/gurulo-gateway/internal/device"
	"github.com/bakhmaro/gurulo-gateway/internal/guard"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
	"github.com/bakhmaro/gurulo-gateway/internal/ratelimit"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
	"github.com/bakhmaro/gurulo-gateway/internal/token"
)

func newTestHandler(t *testing.T) (*Handler, *store.SQLiteStore, *http.ServeMux) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	resolver := identity.NewResolver(identity.Config{})
	recorder := audit.NewRecorder("webadmin-test", nil)
	registry := device.NewRegistry(st, "test-salt")
	orchestrator, err := ceremony.New(ceremony.Config{BaseURL: "http://localhost:8080"},
		st, st, registry, resolver, ratelimit.New(10, time.Minute), recorder)
	require.NoError(t, err)

	tokens := token.NewService(token.Config{Secret: []byte("test-secret-0123456789")})
	g := guard.New("webadmin-test", recorder)

	h := New(st, orchestrator, registry, tokens, g, ratelimit.New(3, time.Minute))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, st, mux
}

func createTestUser(t *testing.T, st *store.SQLiteStore, id, personalID, password string) *store.User {
	t.Helper()

	user := &store.User{
		ID:          id,
		PersonalID:  personalID,
		Email:       id + "@example.com",
		DisplayName: "Test User",
		Role:        identity.RoleUser,
	}
	if identity.IsSuperAdmin(personalID) {
		user.Role = identity.RoleSuperAdmin
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		require.NoError(t, err)
		user.PasswordHash = string(hash)
	}
	require.NoError(t, st.CreateUser(t.Context(), user))
	return user
}

func createTestSession(t *testing.T, st *store.SQLiteStore, userID string) *http.Cookie {
	t.Helper()

	sessionID, err := generateSecureToken(32)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, st.CreateSession(t.Context(), &store.Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))
	return &http.Cookie{Name: SessionCookieName, Value: sessionID}
}

func postJSON(mux *http.ServeMux, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.10:5000"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPasswordTokenLogin(t *testing.T) {
	h, st, mux := newTestHandler(t)
	createTestUser(t, st, "u1", "12345678901", "hunter22")

	rec := postJSON(mux, "/auth/token", map[string]string{
		"personalId": "12345678901",
		"password":   "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])

	// Personal id comes back redacted
	user := body["user"].(map[string]any)
	assert.Equal(t, "123******01", user["personalId"])

	// Session cookie is set and the access token verifies
	cookies := rec.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == SessionCookieName && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found, "session cookie should be set")

	subject, err := h.tokens.Verify(body["accessToken"].(string), token.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject.UserID)
}

func TestPasswordTokenInvalid(t *testing.T) {
	_, st, mux := newTestHandler(t)
	createTestUser(t, st, "u1", "12345678901", "hunter22")

	tests := []struct {
		name string
		body map[string]string
		want int
		code string
	}{
		{"wrong password", map[string]string{"personalId": "12345678901", "password": "nope"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"unknown user", map[string]string{"personalId": "00000000000", "password": "nope"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"missing fields", map[string]string{"personalId": "12345678901"}, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(mux, "/auth/token", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestPasswordTokenPasskeyOnlyAccount(t *testing.T) {
	_, st, mux := newTestHandler(t)
	createTestUser(t, st, "u1", "12345678901", "")

	rec := postJSON(mux, "/auth/token", map[string]string{
		"personalId": "12345678901",
		"password":   "anything",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeBody(t, rec)["code"])
}

func TestPasswordTokenRateLimited(t *testing.T) {
	_, st, mux := newTestHandler(t)
	createTestUser(t, st, "u1", "12345678901", "hunter22")

	bad := map[string]string{"personalId": "12345678901", "password": "nope"}
	for i := 0; i < 3; i++ {
		rec := postJSON(mux, "/auth/token", bad)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := postJSON(mux, "/auth/token", bad)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeBody(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestTokenRefresh(t *testing.T) {
	_, st, mux := newTestHandler(t)
	createTestUser(t, st, "u1", "12345678901", "hunter22")

	login := postJSON(mux, "/auth/token", map[string]string{
		"personalId": "12345678901",
		"password":   "hunter22",
	})
	require.Equal(t, http.StatusOK, login.Code)
	refreshToken := decodeBody(t, login)["refreshToken"].(string)

	rec := postJSON(mux, "/auth/token/refresh", map[string]string{"refreshToken": refreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])

	// An access token cannot be used as a refresh token
	access := decodeBody(t, login)["accessToken"].(string)
	rec = postJSON(mux, "/auth/token/refresh", map[string]string{"refreshToken": access})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeBody(t, rec)["code"])

	rec = postJSON(mux, "/auth/token/refresh", map[string]string{"refreshToken": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDevicesRequireAuth(t *testing.T) {
	_, _, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/devices", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeBody(t, rec)["code"])
}

func TestDeviceLifecycleOverHTTP(t *testing.T) {
	h, st, mux := newTestHandler(t)
	user := createTestUser(t, st, "u1", "12345678901", "")
	cookie := createTestSession(t, st, user.ID)

	dev, err := h.devices.Register(t.Context(), user.ID, device.Info{
		ClientID:    "client-a",
		Fingerprint: "fp-a",
		UserAgent:   "TestAgent/1.0",
		Platform:    "macOS",
		RemoteAddr:  "203.0.113.10:5000",
	})
	require.NoError(t, err)

	// List shows the device, untrusted
	req := httptest.NewRequest(http.MethodGet, "/auth/devices", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	devices := decodeBody(t, rec)["devices"].([]any)
	require.Len(t, devices, 1)
	assert.Equal(t, false, devices[0].(map[string]any)["trusted"])

	// Trust it
	rec = postJSON(mux, "/auth/devices/"+dev.ID+"/trust", map[string]bool{"trusted": true}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Remove it
	delReq := httptest.NewRequest(http.MethodDelete, "/auth/devices/"+dev.ID, nil)
	delReq.AddCookie(cookie)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, delReq)
	require.Equal(t, http.StatusOK, rec.Code)

	// Gone from the list, and the tombstoned id no longer answers as owned
	req = httptest.NewRequest(http.MethodGet, "/auth/devices", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Empty(t, decodeBody(t, rec)["devices"])

	delReq = httptest.NewRequest(http.MethodDelete, "/auth/devices/"+dev.ID, nil)
	delReq.AddCookie(cookie)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, delReq)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_OWNER", decodeBody(t, rec)["code"])
}

func TestDeviceTrustNotOwned(t *testing.T) {
	h, st, mux := newTestHandler(t)
	owner := createTestUser(t, st, "u1", "12345678901", "")
	other := createTestUser(t, st, "u2", "12345678902", "")
	cookie := createTestSession(t, st, other.ID)

	dev, err := h.devices.Register(t.Context(), owner.ID, device.Info{
		ClientID: "client-a", Fingerprint: "fp-a", UserAgent: "TestAgent/1.0",
	})
	require.NoError(t, err)

	rec := postJSON(mux, "/auth/devices/"+dev.ID+"/trust", map[string]bool{"trusted": true}, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DEVICE_NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestDeviceRecognize(t *testing.T) {
	h, st, mux := newTestHandler(t)
	user := createTestUser(t, st, "u1", "12345678901", "")
	cookie := createTestSession(t, st, user.ID)

	_, err := h.devices.Register(t.Context(), user.ID, device.Info{
		ClientID:    "client-a",
		Fingerprint: "fp-a",
		UserAgent:   "TestAgent/1.0",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/device/recognize",
		bytes.NewReader([]byte(`{"fingerprint":"fp-a","clientId":"client-a"}`)))
	req.Header.Set("User-Agent", "TestAgent/1.0")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["recognized"])
	assert.Equal(t, false, body["trusted"])
	assert.NotEmpty(t, body["deviceId"])
	assert.Equal(t, "password", body["suggestedMethod"])

	// Different fingerprint is not recognized
	req = httptest.NewRequest(http.MethodPost, "/auth/device/recognize",
		bytes.NewReader([]byte(`{"fingerprint":"fp-other","clientId":"client-other"}`)))
	req.Header.Set("User-Agent", "TestAgent/1.0")
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, false, decodeBody(t, rec)["recognized"])

	// No client identity at all cannot derive a device id
	req = httptest.NewRequest(http.MethodPost, "/auth/device/recognize",
		bytes.NewReader([]byte(`{"fingerprint":"fp-a"}`)))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INSUFFICIENT_INPUT", decodeBody(t, rec)["code"])
}

func TestRegistrationOptions(t *testing.T) {
	_, _, mux := newTestHandler(t)

	rec := postJSON(mux, "/auth/passkey/registration/options", map[string]string{
		"personalId":  "12345678901",
		"displayName": "New User",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	options := body["options"].(map[string]any)["publicKey"].(map[string]any)
	assert.NotEmpty(t, options["challenge"])

	// Missing personal id
	rec = postJSON(mux, "/auth/passkey/registration/options", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INSUFFICIENT_INPUT", decodeBody(t, rec)["code"])
}

func TestLoginOptions(t *testing.T) {
	_, _, mux := newTestHandler(t)

	rec := postJSON(mux, "/auth/passkey/login/options", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	options := decodeBody(t, rec)["options"].(map[string]any)["publicKey"].(map[string]any)
	assert.NotEmpty(t, options["challenge"])
}

func TestLoginOptionsWithIdentifier(t *testing.T) {
	_, st, mux := newTestHandler(t)
	createTestUser(t, st, "u1", "12345678901", "")

	// Unknown personal id.
	rec := postJSON(mux, "/auth/passkey/login/options", map[string]string{"personalId": "99999999999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_USER", decodeBody(t, rec)["code"])

	// Known user but no passkeys enrolled.
	rec = postJSON(mux, "/auth/passkey/login/options", map[string]string{"personalId": "12345678901"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_CREDENTIALS", decodeBody(t, rec)["code"])
}

func TestLoginVerifyWithoutOptions(t *testing.T) {
	_, _, mux := newTestHandler(t)

	rec := postJSON(mux, "/auth/passkey/login/verify", map[string]string{"id": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "STALE_CEREMONY", decodeBody(t, rec)["code"])
}

func TestCacheClearGuard(t *testing.T) {
	_, st, mux := newTestHandler(t)
	admin := createTestUser(t, st, "admin", identity.SuperAdminPersonalID, "")
	regular := createTestUser(t, st, "u2", "12345678902", "")
	adminCookie := createTestSession(t, st, admin.ID)
	regularCookie := createTestSession(t, st, regular.ID)

	// Anonymous
	rec := postJSON(mux, "/admin/cache/clear", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Regular user, even confirmed
	req := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	req.AddCookie(regularCookie)
	req.Header.Set("x-super-admin-confirmed", "true")
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusForbidden, rec2.Code)

	// Super admin without confirmation
	req = httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	req.AddCookie(adminCookie)
	rec3 := httptest.NewRecorder()
	mux.ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusPreconditionRequired, rec3.Code)

	// Super admin with confirmation
	req = httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	req.AddCookie(adminCookie)
	req.Header.Set("x-super-admin-confirmed", "true")
	rec4 := httptest.NewRecorder()
	mux.ServeHTTP(rec4, req)
	require.Equal(t, http.StatusOK, rec4.Code, rec4.Body.String())
	assert.Equal(t, true, decodeBody(t, rec4)["success"])
}

func TestBearerTokenAuth(t *testing.T) {
	h, st, mux := newTestHandler(t)
	user := createTestUser(t, st, "u1", "12345678901", "")

	access, _, err := h.issueTokenPair(user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/devices", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLogout(t *testing.T) {
	_, st, mux := newTestHandler(t)
	user := createTestUser(t, st, "u1", "12345678901", "")
	cookie := createTestSession(t, st, user.ID)

	rec := postJSON(mux, "/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	// Session is gone: devices now rejects the old cookie
	req := httptest.NewRequest(http.MethodGet, "/auth/devices", nil)
	req.AddCookie(cookie)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestExpiredSessionRejected(t *testing.T) {
	_, st, mux := newTestHandler(t)
	user := createTestUser(t, st, "u1", "12345678901", "")

	sessionID, err := generateSecureToken(32)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, st.CreateSession(t.Context(), &store.Session{
		ID:        sessionID,
		UserID:    user.ID,
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/devices", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
