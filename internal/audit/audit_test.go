// ABOUTME: Tests for audit redaction and recorder dispatch
// ABOUTME: Covers mask boundaries, hook delivery, and fail-safe fallback

package audit

import (
	"context"
	"errors"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"short fully masked", "1234", "***"},
		{"single char", "7", "***"},
		{"five chars", "12345", "123******45"},
		{"national id", "01019062020", "010******20"},
		{"trims before masking", "  01019062020  ", "010******20"},
		{"multi-byte runes stay whole", "ギウリ@例.jp", "ギウリ******jp"},
		{"short multi-byte fully masked", "例例例", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.input); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRecorderDeliversToHook(t *testing.T) {
	var got Event
	rec := NewRecorder("gateway", func(ctx context.Context, e Event) error {
		got = e
		return nil
	})

	rec.Record(context.Background(), Event{
		Action:     "admin.cache.clear",
		Allowed:    true,
		PersonalID: "01019062020",
	})

	if got.Action != "admin.cache.clear" {
		t.Fatalf("hook never received event, got action %q", got.Action)
	}
	if got.PersonalID != "010******20" {
		t.Errorf("personal id not redacted before hook: %q", got.PersonalID)
	}
	if got.ID == "" {
		t.Error("expected generated event id")
	}
	if got.Service != "gateway" {
		t.Errorf("service = %q, want gateway", got.Service)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled")
	}
}

func TestRecorderFallbackOnHookError(t *testing.T) {
	calls := 0
	rec := NewRecorder("gateway", func(ctx context.Context, e Event) error {
		calls++
		return errors.New("sink down")
	})

	// Must not panic or drop; fallback is the structured log.
	rec.Record(context.Background(), Event{Action: "auth.login", Allowed: false})
	if calls != 1 {
		t.Fatalf("hook calls = %d, want 1", calls)
	}
}

func TestRecorderFallbackOnHookPanic(t *testing.T) {
	rec := NewRecorder("gateway", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	rec.Record(context.Background(), Event{Action: "auth.login", Allowed: false})
}

func TestRecorderNilHook(t *testing.T) {
	rec := NewRecorder("gateway", nil)
	rec.Record(context.Background(), Event{Action: "auth.login", Allowed: true})
}

func TestRecorderPreservesExplicitFields(t *testing.T) {
	var got Event
	rec := NewRecorder("gateway", func(ctx context.Context, e Event) error {
		got = e
		return nil
	})

	rec.Record(context.Background(), Event{
		ID:      "fixed-id",
		Service: "other",
		Action:  "x",
	})
	if got.ID != "fixed-id" {
		t.Errorf("id overwritten: %q", got.ID)
	}
	if got.Service != "other" {
		t.Errorf("service overwritten: %q", got.Service)
	}
}

func TestRecordPasskeyVerification(t *testing.T) {
	var got Event
	rec := NewRecorder("gateway", func(ctx context.Context, e Event) error {
		got = e
		return nil
	})

	rec.RecordPasskeyVerification(context.Background(), "01019062020", "cred-1", false)
	if got.Allowed {
		t.Error("expected denied event for failed verification")
	}
	if got.Reason != "verification_failed" {
		t.Errorf("reason = %q", got.Reason)
	}
	if got.Action != "auth.passkey.verify" {
		t.Errorf("action = %q", got.Action)
	}
}
