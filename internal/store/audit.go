// ABOUTME: Append-only audit trail store methods on SQLiteStore
// ABOUTME: Records are written once and only ever read back filtered

package store

import (
	"context"
	"fmt"
	"time"
)

// AppendAuditRecord writes an audit record. The trail is append-only:
// there is no update or delete path.
func (s *SQLiteStore) AppendAuditRecord(ctx context.Context, rec *AuditRecord) error {
	query := `
		INSERT INTO audit_log
			(id, action, allowed, destructive, reason, service, route, method,
			 confirmation, correlation_id, personal_id, roles, risk_flags, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	roles := rec.Roles
	if roles == "" {
		roles = "[]"
	}
	riskFlags := rec.RiskFlags
	if riskFlags == "" {
		riskFlags = "[]"
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Action,
		boolToInt(rec.Allowed),
		boolToInt(rec.Destructive),
		rec.Reason,
		rec.Service,
		rec.Route,
		rec.Method,
		boolToInt(rec.Confirmation),
		rec.CorrelationID,
		rec.PersonalID,
		roles,
		riskFlags,
		rec.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// ListAuditRecords returns audit records matching the filter, newest
// first. A zero filter returns the most recent records up to the default
// limit of 100.
func (s *SQLiteStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	query := `
		SELECT id, action, allowed, destructive, reason, service, route, method,
		       confirmation, correlation_id, personal_id, roles, risk_flags, ts
		FROM audit_log
		WHERE 1=1
	`
	var args []any

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.PersonalID != "" {
		query += " AND personal_id = ?"
		args = append(args, filter.PersonalID)
	}
	if filter.OnlyDenied {
		query += " AND allowed = 0"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var allowed, destructive, confirmation int
		var tsStr string

		if err := rows.Scan(&rec.ID, &rec.Action, &allowed, &destructive, &rec.Reason,
			&rec.Service, &rec.Route, &rec.Method, &confirmation, &rec.CorrelationID,
			&rec.PersonalID, &rec.Roles, &rec.RiskFlags, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}

		rec.Allowed = allowed != 0
		rec.Destructive = destructive != 0
		rec.Confirmation = confirmation != 0
		rec.Timestamp, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing ts: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return records, nil
}
