// ABOUTME: SQLite implementation of the store interfaces using modernc.org/sqlite
// ABOUTME: Schema is created automatically on open, WAL mode enabled

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the store interfaces using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Interface assertions
var (
	_ UserStore       = (*SQLiteStore)(nil)
	_ CredentialStore = (*SQLiteStore)(nil)
	_ DeviceStore     = (*SQLiteStore)(nil)
	_ SessionStore    = (*SQLiteStore)(nil)
	_ AuditStore      = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			personal_id TEXT UNIQUE NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'USER',
			password_hash TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (role IN ('SUPER_ADMIN', 'USER'))
		);

		CREATE INDEX IF NOT EXISTS idx_users_personal_id ON users(personal_id);
		CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

		-- WebAuthn credentials for passkeys. Revocation is soft: rows keep
		-- revoked_at so the history survives removal.
		CREATE TABLE IF NOT EXISTS webauthn_credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			credential_id BLOB UNIQUE NOT NULL,
			public_key BLOB NOT NULL,
			attestation_type TEXT,
			transports TEXT,
			sign_count INTEGER NOT NULL DEFAULT 0,
			aaguid BLOB,
			backup_eligible INTEGER NOT NULL DEFAULT 0,
			backup_state INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_webauthn_user ON webauthn_credentials(user_id);

		-- Trusted devices. Removal is a tombstone (removed_at set, row kept)
		-- so a removed device id cannot silently re-enter as trusted.
		CREATE TABLE IF NOT EXISTS trusted_devices (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			fingerprint_hash TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			os TEXT NOT NULL DEFAULT '',
			browser TEXT NOT NULL DEFAULT '',
			ua_hash TEXT NOT NULL DEFAULT '',
			aaguid TEXT NOT NULL DEFAULT '',
			roles_snapshot TEXT NOT NULL DEFAULT '[]',
			trusted INTEGER NOT NULL DEFAULT 0,
			login_count INTEGER NOT NULL DEFAULT 0,
			ip_history TEXT NOT NULL DEFAULT '[]',
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			removed_at TEXT,

			PRIMARY KEY (user_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_devices_user ON trusted_devices(user_id);
		CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON trusted_devices(last_seen);

		-- Web sessions (cookie-based)
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		-- Append-only audit trail. personal_id is stored redacted.
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			allowed INTEGER NOT NULL,
			destructive INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL DEFAULT '',
			route TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL DEFAULT '',
			confirmation INTEGER NOT NULL DEFAULT 0,
			correlation_id TEXT NOT NULL DEFAULT '',
			personal_id TEXT NOT NULL DEFAULT '',
			roles TEXT NOT NULL DEFAULT '[]',
			risk_flags TEXT NOT NULL DEFAULT '[]',
			ts TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
		CREATE INDEX IF NOT EXISTS idx_audit_personal ON audit_log(personal_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}
