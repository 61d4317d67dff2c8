// ABOUTME: Passkey credential store methods on SQLiteStore
// ABOUTME: Soft revocation and compare-and-swap counter updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateCredential stores a new passkey credential. Returns ErrDuplicate
// when the credential id is already registered.
func (s *SQLiteStore) CreateCredential(ctx context.Context, cred *Credential) error {
	query := `
		INSERT INTO webauthn_credentials
			(id, user_id, credential_id, public_key, attestation_type, transports,
			 sign_count, aaguid, backup_eligible, backup_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.CredentialID,
		cred.PublicKey,
		cred.AttestationType,
		cred.Transports,
		cred.SignCount,
		cred.AAGUID,
		boolToInt(cred.BackupEligible),
		boolToInt(cred.BackupState),
		cred.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Info("created credential", "id", cred.ID, "user_id", cred.UserID)
	return nil
}

// GetCredentialByCredentialID retrieves a credential by its raw WebAuthn
// credential id. Revoked credentials are still returned; callers decide
// whether a revoked credential is usable.
func (s *SQLiteStore) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error) {
	query := credentialSelect + ` WHERE credential_id = ?`

	row := s.db.QueryRowContext(ctx, query, credentialID)
	cred, err := scanCredential(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return cred, nil
}

// ListCredentialsByUser retrieves all non-revoked credentials for a user,
// oldest first.
func (s *SQLiteStore) ListCredentialsByUser(ctx context.Context, userID string) ([]*Credential, error) {
	query := credentialSelect + `
		WHERE user_id = ? AND revoked_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// UpdateCredentialCounter advances the sign counter from expectedPrev to
// next. The WHERE clause makes the update a compare-and-swap: a concurrent
// writer or a cloned authenticator replaying an old assertion leaves the
// row untouched and gets ErrCounterRegression.
func (s *SQLiteStore) UpdateCredentialCounter(ctx context.Context, id string, expectedPrev, next uint32) error {
	query := `
		UPDATE webauthn_credentials
		SET sign_count = ?
		WHERE id = ? AND sign_count = ? AND revoked_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, next, id, expectedPrev)
	if err != nil {
		return fmt.Errorf("updating credential counter: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCounterRegression
	}
	return nil
}

// TouchCredential records the last successful use of a credential.
func (s *SQLiteStore) TouchCredential(ctx context.Context, id string, usedAt time.Time) error {
	query := `UPDATE webauthn_credentials SET last_used_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, usedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeCredential soft-revokes a credential. The row is kept with
// revoked_at set; revoking an already-revoked credential is a no-op error.
func (s *SQLiteStore) RevokeCredential(ctx context.Context, id string, revokedAt time.Time) error {
	query := `
		UPDATE webauthn_credentials
		SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, revokedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("revoked credential", "id", id)
	return nil
}

const credentialSelect = `
	SELECT id, user_id, credential_id, public_key, attestation_type, transports,
	       sign_count, aaguid, backup_eligible, backup_state, created_at,
	       last_used_at, revoked_at
	FROM webauthn_credentials`

func scanCredential(scan func(dest ...any) error) (*Credential, error) {
	var cred Credential
	var attestationType, transports sql.NullString
	var backupEligible, backupState int
	var createdAtStr string
	var lastUsedStr, revokedStr sql.NullString

	err := scan(
		&cred.ID,
		&cred.UserID,
		&cred.CredentialID,
		&cred.PublicKey,
		&attestationType,
		&transports,
		&cred.SignCount,
		&cred.AAGUID,
		&backupEligible,
		&backupState,
		&createdAtStr,
		&lastUsedStr,
		&revokedStr,
	)
	if err != nil {
		return nil, err
	}

	cred.AttestationType = attestationType.String
	cred.Transports = transports.String
	cred.BackupEligible = backupEligible != 0
	cred.BackupState = backupState != 0

	cred.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastUsedStr.Valid {
		t, err := time.Parse(time.RFC3339, lastUsedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		cred.LastUsedAt = &t
	}
	if revokedStr.Valid {
		t, err := time.Parse(time.RFC3339, revokedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing revoked_at: %w", err)
		}
		cred.RevokedAt = &t
	}

	return &cred, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
