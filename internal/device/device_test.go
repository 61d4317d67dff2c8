// ABOUTME: Tests for device id derivation, fingerprint hashing, IP truncation
// ABOUTME: Pure-function table tests, no store involved

package device

import (
	"strings"
	"testing"
)

func mustDeriveID(t *testing.T, credentialID []byte, clientID, uaHash string) string {
	t.Helper()
	id, err := DeriveID(credentialID, clientID, uaHash)
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	return id
}

func TestDeriveIDFromCredential(t *testing.T) {
	a := mustDeriveID(t, []byte("credential-1"), "", "")
	b := mustDeriveID(t, []byte("credential-1"), "ignored", "ignored")
	if a != b {
		t.Error("credential-based id should ignore client fields")
	}
	if len(a) != 64 {
		t.Errorf("id length = %d, want 64 hex chars", len(a))
	}
	if a == mustDeriveID(t, []byte("credential-2"), "", "") {
		t.Error("different credentials produced the same id")
	}
}

func TestDeriveIDFallback(t *testing.T) {
	a := mustDeriveID(t, nil, "client-1", "ua-hash-1")
	b := mustDeriveID(t, nil, "client-1", "ua-hash-1")
	if a != b {
		t.Error("fallback id not stable")
	}
	if a == mustDeriveID(t, nil, "client-2", "ua-hash-1") {
		t.Error("different clients produced the same id")
	}
	if a == mustDeriveID(t, nil, "client-1", "ua-hash-2") {
		t.Error("different user agents produced the same id")
	}
	// Separator prevents ambiguous concatenation.
	if mustDeriveID(t, nil, "ab", "c") == mustDeriveID(t, nil, "a", "bc") {
		t.Error("ambiguous client/ua concatenation")
	}
}

func TestDeriveIDInsufficientInput(t *testing.T) {
	tests := []struct {
		name         string
		credentialID []byte
		clientID     string
		uaHash       string
		wantErr      bool
	}{
		{"all empty", nil, "", "", true},
		{"client id alone", nil, "client-1", "", true},
		{"ua hash alone", nil, "", "ua-hash-1", true},
		{"client id and ua hash", nil, "client-1", "ua-hash-1", false},
		{"credential alone", []byte("credential-1"), "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveID(tt.credentialID, tt.clientID, tt.uaHash)
			if tt.wantErr && err != ErrInsufficientInput {
				t.Errorf("err = %v, want ErrInsufficientInput", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestHashFingerprint(t *testing.T) {
	if HashFingerprint("salt", "") != "" {
		t.Error("empty fingerprint should hash to empty")
	}
	a := HashFingerprint("salt", "fp")
	if a == HashFingerprint("other-salt", "fp") {
		t.Error("salt not mixed into hash")
	}
	if a == "fp" || strings.Contains(a, "fp") {
		t.Error("raw fingerprint leaked into hash")
	}
}

func TestTruncateAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4", "192.168.1.42", "192.168.1.0"},
		{"ipv4 with port", "192.168.1.42:8443", "192.168.1.0"},
		{"ipv4 already truncated", "10.0.0.0", "10.0.0.0"},
		{"ipv6", "2001:db8:1:2:3:4:5:6", "2001:db8:1::"},
		{"ipv6 compressed", "2001:db8::1", "2001:db8::"},
		{"ipv6 with port", "[2001:db8:1::1]:443", "2001:db8:1::"},
		{"ipv4-mapped ipv6", "::ffff:192.168.1.42", "192.168.1.0"},
		{"empty", "", ""},
		{"garbage", "not-an-ip", ""},
		{"hostname", "example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateAddress(tt.in); got != tt.want {
				t.Errorf("TruncateAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
