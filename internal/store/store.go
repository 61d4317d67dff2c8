// ABOUTME: Core store types and interfaces for auth persistence
// ABOUTME: Users, passkey credentials, trusted devices, sessions, audit trail

package store

import (
	"context"
	"errors"
	"time"
)

// Common store errors
var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("already exists")
	ErrCounterRegression  = errors.New("credential counter regression")
	ErrPersonalIDConflict = errors.New("personal id already registered")
)

// User is an authenticated account keyed by national personal id.
type User struct {
	ID           string
	PersonalID   string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string // bcrypt hash, empty if passkey-only
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential is a stored WebAuthn passkey. Revoked credentials keep their
// row with RevokedAt set so the trail survives removal.
type Credential struct {
	ID              string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      string // JSON array
	SignCount       uint32
	AAGUID          []byte
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
	RevokedAt       *time.Time
}

// Device is a trust-registry entry for a browser or authenticator a user
// has signed in from. Removal is a tombstone: RemovedAt set, row kept.
type Device struct {
	ID              string // derived device id, stable across logins
	UserID          string
	FingerprintHash string
	Platform        string
	OS              string
	Browser         string
	UAHash          string
	AAGUID          string
	RolesSnapshot   []string // owner's roles at registration time
	Trusted         bool
	LoginCount      int
	IPHistory       []string // truncated addresses, most recent last
	FirstSeen       time.Time
	LastSeen        time.Time
	RemovedAt       *time.Time
}

// Session is a cookie-backed authenticated web session.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AuditRecord is a persisted audit event. PersonalID is stored redacted.
type AuditRecord struct {
	ID            string
	Action        string
	Allowed       bool
	Destructive   bool
	Reason        string
	Service       string
	Route         string
	Method        string
	Confirmation  bool
	CorrelationID string
	PersonalID    string
	Roles         string // JSON array
	RiskFlags     string // JSON array
	Timestamp     time.Time
}

// AuditFilter narrows ListAuditRecords. Zero values match everything.
type AuditFilter struct {
	Action     string
	PersonalID string
	OnlyDenied bool
	Limit      int
}

// UserStore defines user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByPersonalID(ctx context.Context, personalID string) (*User, error)
	UpdateUserProfile(ctx context.Context, id, email, displayName string) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	ListUsersByRole(ctx context.Context, role string) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
}

// CredentialStore defines passkey credential persistence.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *Credential) error
	GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]*Credential, error)
	UpdateCredentialCounter(ctx context.Context, id string, expectedPrev, next uint32) error
	TouchCredential(ctx context.Context, id string, usedAt time.Time) error
	RevokeCredential(ctx context.Context, id string, revokedAt time.Time) error
}

// DeviceStore defines trusted-device persistence.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, dev *Device) error
	GetDevice(ctx context.Context, userID, deviceID string) (*Device, error)
	ListDevicesByUser(ctx context.Context, userID string) ([]*Device, error)
	RecordDeviceLogin(ctx context.Context, userID, deviceID, truncatedIP string, seenAt time.Time) error
	SetDeviceTrust(ctx context.Context, userID, deviceID string, trusted bool) error
	RemoveDevice(ctx context.Context, userID, deviceID string, removedAt time.Time) error
}

// SessionStore defines web session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) error
}

// AuditStore defines append-only audit persistence.
type AuditStore interface {
	AppendAuditRecord(ctx context.Context, rec *AuditRecord) error
	ListAuditRecords(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error)
}
