// ABOUTME: Trusted-device store methods on SQLiteStore
// ABOUTME: Tombstone removal and capped truncated-IP history per device

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ipHistoryCap bounds how many truncated addresses a device row retains.
const ipHistoryCap = 10

// UpsertDevice inserts a device or refreshes the metadata of an existing
// one. A tombstoned device keeps its removed_at: re-registering a removed
// device id does not resurrect its trust.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, dev *Device) error {
	history, err := json.Marshal(dev.IPHistory)
	if err != nil {
		return fmt.Errorf("encoding ip history: %w", err)
	}
	snapshot, err := json.Marshal(dev.RolesSnapshot)
	if err != nil {
		return fmt.Errorf("encoding roles snapshot: %w", err)
	}

	query := `
		INSERT INTO trusted_devices
			(id, user_id, fingerprint_hash, platform, os, browser, ua_hash, aaguid,
			 roles_snapshot, trusted, login_count, ip_history, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			fingerprint_hash = excluded.fingerprint_hash,
			platform = excluded.platform,
			os = excluded.os,
			browser = excluded.browser,
			ua_hash = excluded.ua_hash,
			aaguid = excluded.aaguid,
			roles_snapshot = excluded.roles_snapshot,
			last_seen = excluded.last_seen
	`

	_, err = s.db.ExecContext(ctx, query,
		dev.ID,
		dev.UserID,
		dev.FingerprintHash,
		dev.Platform,
		dev.OS,
		dev.Browser,
		dev.UAHash,
		dev.AAGUID,
		string(snapshot),
		boolToInt(dev.Trusted),
		dev.LoginCount,
		string(history),
		dev.FirstSeen.UTC().Format(time.RFC3339),
		dev.LastSeen.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	s.logger.Debug("upserted device", "id", dev.ID, "user_id", dev.UserID)
	return nil
}

// GetDevice retrieves a device by user and device id, including tombstoned
// rows. Callers check RemovedAt.
func (s *SQLiteStore) GetDevice(ctx context.Context, userID, deviceID string) (*Device, error) {
	query := deviceSelect + ` WHERE user_id = ? AND id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, deviceID)
	dev, err := scanDevice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return dev, nil
}

// ListDevicesByUser returns a user's active (non-removed) devices, most
// recently seen first.
func (s *SQLiteStore) ListDevicesByUser(ctx context.Context, userID string) ([]*Device, error) {
	query := deviceSelect + `
		WHERE user_id = ? AND removed_at IS NULL
		ORDER BY last_seen DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []*Device
	for rows.Next() {
		dev, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, dev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// RecordDeviceLogin bumps the login counter, refreshes last_seen, and
// appends the truncated address to the device's history, dropping the
// oldest entries beyond the cap. Repeat logins from the same truncated
// address do not grow the history. Tombstoned devices are not updated.
func (s *SQLiteStore) RecordDeviceLogin(ctx context.Context, userID, deviceID, truncatedIP string, seenAt time.Time) error {
	dev, err := s.GetDevice(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	if dev.RemovedAt != nil {
		return ErrNotFound
	}

	history := dev.IPHistory
	if truncatedIP != "" && (len(history) == 0 || history[len(history)-1] != truncatedIP) {
		history = append(history, truncatedIP)
		if len(history) > ipHistoryCap {
			history = history[len(history)-ipHistoryCap:]
		}
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encoding ip history: %w", err)
	}

	query := `
		UPDATE trusted_devices
		SET login_count = login_count + 1, ip_history = ?, last_seen = ?
		WHERE user_id = ? AND id = ? AND removed_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query,
		string(encoded), seenAt.UTC().Format(time.RFC3339), userID, deviceID)
	if err != nil {
		return fmt.Errorf("recording device login: %w", err)
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

// SetDeviceTrust flips the trust bit on an active device.
func (s *SQLiteStore) SetDeviceTrust(ctx context.Context, userID, deviceID string, trusted bool) error {
	query := `
		UPDATE trusted_devices
		SET trusted = ?
		WHERE user_id = ? AND id = ? AND removed_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, boolToInt(trusted), userID, deviceID)
	if err != nil {
		return fmt.Errorf("setting device trust: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("set device trust", "device_id", deviceID, "user_id", userID, "trusted", trusted)
	return nil
}

// RemoveDevice tombstones a device: removed_at is set, trust revoked, and
// the row kept for the audit trail. Removing an already-removed device
// returns ErrNotFound.
func (s *SQLiteStore) RemoveDevice(ctx context.Context, userID, deviceID string, removedAt time.Time) error {
	query := `
		UPDATE trusted_devices
		SET removed_at = ?, trusted = 0
		WHERE user_id = ? AND id = ? AND removed_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query,
		removedAt.UTC().Format(time.RFC3339), userID, deviceID)
	if err != nil {
		return fmt.Errorf("removing device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("removed device", "device_id", deviceID, "user_id", userID)
	return nil
}

const deviceSelect = `
	SELECT id, user_id, fingerprint_hash, platform, os, browser, ua_hash, aaguid,
	       roles_snapshot, trusted, login_count, ip_history, first_seen, last_seen, removed_at
	FROM trusted_devices`

func scanDevice(scan func(dest ...any) error) (*Device, error) {
	var dev Device
	var trusted int
	var snapshot, history string
	var firstSeenStr, lastSeenStr string
	var removedStr sql.NullString

	err := scan(
		&dev.ID,
		&dev.UserID,
		&dev.FingerprintHash,
		&dev.Platform,
		&dev.OS,
		&dev.Browser,
		&dev.UAHash,
		&dev.AAGUID,
		&snapshot,
		&trusted,
		&dev.LoginCount,
		&history,
		&firstSeenStr,
		&lastSeenStr,
		&removedStr,
	)
	if err != nil {
		return nil, err
	}

	dev.Trusted = trusted != 0
	if err := json.Unmarshal([]byte(snapshot), &dev.RolesSnapshot); err != nil {
		return nil, fmt.Errorf("decoding roles snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &dev.IPHistory); err != nil {
		return nil, fmt.Errorf("decoding ip history: %w", err)
	}

	dev.FirstSeen, err = time.Parse(time.RFC3339, firstSeenStr)
	if err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	dev.LastSeen, err = time.Parse(time.RFC3339, lastSeenStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if removedStr.Valid {
		t, err := time.Parse(time.RFC3339, removedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing removed_at: %w", err)
		}
		dev.RemovedAt = &t
	}

	return &dev, nil
}
