// ABOUTME: Tests for the append-only audit trail
// ABOUTME: Covers filtering by action, personal id, and denial

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendTestRecord(t *testing.T, s *SQLiteStore, id, action, personalID string, allowed bool, ts time.Time) {
	t.Helper()
	require.NoError(t, s.AppendAuditRecord(context.Background(), &AuditRecord{
		ID:         id,
		Action:     action,
		Allowed:    allowed,
		PersonalID: personalID,
		Timestamp:  ts,
	}))
}

func TestAppendAndListAuditRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	appendTestRecord(t, s, "a1", "auth.login", "010******20", true, now.Add(-2*time.Minute))
	appendTestRecord(t, s, "a2", "admin.cache.clear", "010******20", false, now.Add(-time.Minute))
	appendTestRecord(t, s, "a3", "auth.login", "123******01", true, now)

	records, err := s.ListAuditRecords(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first.
	assert.Equal(t, "a3", records[0].ID)
	assert.Equal(t, "a1", records[2].ID)
}

func TestListAuditRecordsFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	appendTestRecord(t, s, "a1", "auth.login", "010******20", true, now)
	appendTestRecord(t, s, "a2", "admin.cache.clear", "010******20", false, now)
	appendTestRecord(t, s, "a3", "auth.login", "123******01", false, now)

	byAction, err := s.ListAuditRecords(ctx, AuditFilter{Action: "auth.login"})
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	byPersonal, err := s.ListAuditRecords(ctx, AuditFilter{PersonalID: "010******20"})
	require.NoError(t, err)
	assert.Len(t, byPersonal, 2)

	denied, err := s.ListAuditRecords(ctx, AuditFilter{OnlyDenied: true})
	require.NoError(t, err)
	assert.Len(t, denied, 2)

	both, err := s.ListAuditRecords(ctx, AuditFilter{PersonalID: "010******20", OnlyDenied: true})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "a2", both[0].ID)
}

func TestListAuditRecordsLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		appendTestRecord(t, s, string(rune('a'+i)), "auth.login", "x", true, now.Add(time.Duration(i)*time.Second))
	}

	records, err := s.ListAuditRecords(ctx, AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestAuditRecordDefaults(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAuditRecord(ctx, &AuditRecord{
		ID:        "a1",
		Action:    "auth.login",
		Allowed:   true,
		Timestamp: time.Now(),
	}))

	records, err := s.ListAuditRecords(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "[]", records[0].Roles)
	assert.Equal(t, "[]", records[0].RiskFlags)
}
