// ABOUTME: Security audit recorder with privacy redaction and hook fallback
// ABOUTME: Every authorization decision and ceremony outcome produces one event

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a single append-only audit record. PersonalID is stored redacted;
// the raw value never reaches the trail.
type Event struct {
	ID                   string
	Action               string
	Allowed              bool
	Destructive          bool
	Reason               string // decision reason code, empty when allowed
	Service              string
	Route                string
	Method               string
	ConfirmationProvided bool
	CorrelationID        string
	PersonalID           string // redacted
	Roles                []string
	RiskFlags            []string
	Timestamp            time.Time
}

// Hook receives every event. Hooks are best-effort: an error or panic falls
// back to the default structured log line, never dropping the event.
type Hook func(ctx context.Context, event Event) error

// Recorder redacts and dispatches audit events.
type Recorder struct {
	hook    Hook
	service string
	logger  *slog.Logger
}

// NewRecorder creates a recorder for the named service. hook may be nil, in
// which case events go straight to the structured log.
func NewRecorder(service string, hook Hook) *Recorder {
	return &Recorder{
		hook:    hook,
		service: service,
		logger:  slog.Default().With("component", "audit"),
	}
}

// Redact masks a personal id for storage: first 3 and last 2 characters stay
// visible, the middle is replaced with a fixed mask. Values of 4 characters
// or fewer are fully masked.
func Redact(personalID string) string {
	runes := []rune(strings.TrimSpace(personalID))
	if len(runes) == 0 {
		return ""
	}
	if len(runes) <= 4 {
		return "***"
	}
	return string(runes[:3]) + "******" + string(runes[len(runes)-2:])
}

// Record finalizes and dispatches an event. The personal id on the incoming
// event is treated as raw and redacted here; id, service, and timestamp are
// filled when absent. Record never returns an error and never drops the
// event: hook failures fall back to the structured log.
func (r *Recorder) Record(ctx context.Context, event Event) {
	event.PersonalID = Redact(event.PersonalID)
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Service == "" {
		event.Service = r.service
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if r.hook != nil {
		if err := r.safeHook(ctx, event); err == nil {
			return
		}
	}
	r.logFallback(event)
}

// safeHook invokes the hook, converting panics into errors.
func (r *Recorder) safeHook(ctx context.Context, event Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("audit hook panic: %v", rec)
		}
	}()
	if err = r.hook(ctx, event); err != nil {
		r.logger.Warn("audit hook failed", "error", err, "action", event.Action)
	}
	return err
}

// logFallback writes the event as a structured log line. Severity follows
// the outcome: info for allowed, warn for denied.
func (r *Recorder) logFallback(event Event) {
	attrs := []any{
		"action", event.Action,
		"allowed", event.Allowed,
		"destructive", event.Destructive,
		"reason", event.Reason,
		"service", event.Service,
		"route", event.Route,
		"method", event.Method,
		"confirmation_provided", event.ConfirmationProvided,
		"correlation_id", event.CorrelationID,
		"personal_id", event.PersonalID,
		"roles", event.Roles,
	}
	if event.Allowed {
		r.logger.Info("audit", attrs...)
	} else {
		r.logger.Warn("audit", attrs...)
	}
}

// RecordPasskeyVerification is a convenience wrapper used by the ceremony
// orchestrator for registration/login verification outcomes.
func (r *Recorder) RecordPasskeyVerification(ctx context.Context, personalID, credentialID string, success bool) {
	reason := ""
	if !success {
		reason = "verification_failed"
	}
	r.Record(ctx, Event{
		Action:        "auth.passkey.verify",
		Allowed:       success,
		Reason:        reason,
		PersonalID:    personalID,
		CorrelationID: credentialID,
	})
}
