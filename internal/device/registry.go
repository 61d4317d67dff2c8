// ABOUTME: Trusted-device registry service over the device store
// ABOUTME: Registration, recognition, trust flips, and tombstone removal

package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bakhmaro/gurulo-gateway/internal/identity"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
)

// Registry errors
var (
	ErrNotOwner       = errors.New("device does not belong to user")
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceRemoved  = errors.New("device was removed")
)

// Info describes the client context of a registration or login. Roles is
// the owner's role set at the time of the call; it is snapshotted onto the
// device row during registration.
type Info struct {
	CredentialID []byte
	ClientID     string
	Fingerprint  string
	UserAgent    string
	Platform     string
	OS           string
	Browser      string
	AAGUID       string
	RemoteAddr   string
	Roles        []string
}

// Login methods suggested by Recognize.
const (
	MethodPasskey  = "passkey"
	MethodPassword = "password"
	MethodRegister = "register"
)

// Recognition is the outcome of a recognize check. SuggestedMethod is
// a hint for the client: passkey on devices that registered one or whose
// roles snapshot is privileged, password otherwise, register when the
// device is unknown.
type Recognition struct {
	Recognized      bool
	Trusted         bool
	DeviceID        string
	SuggestedMethod string
}

// Registry manages the trusted-device lifecycle.
type Registry struct {
	store  store.DeviceStore
	salt   string
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry. salt is the server-side fingerprint salt.
func NewRegistry(deviceStore store.DeviceStore, salt string) *Registry {
	return &Registry{
		store:  deviceStore,
		salt:   salt,
		logger: slog.Default().With("component", "device"),
		now:    time.Now,
	}
}

// Register records a device for a user and counts the current login. The
// device id is derived from the credential or client identity, so repeat
// registrations converge on the same row. A tombstoned device id stays
// removed and returns ErrDeviceRemoved.
func (r *Registry) Register(ctx context.Context, userID string, info Info) (*store.Device, error) {
	id, err := DeriveID(info.CredentialID, info.ClientID, HashUserAgent(info.UserAgent))
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()

	dev := &store.Device{
		ID:              id,
		UserID:          userID,
		FingerprintHash: HashFingerprint(r.salt, info.Fingerprint),
		Platform:        info.Platform,
		OS:              info.OS,
		Browser:         info.Browser,
		UAHash:          HashUserAgent(info.UserAgent),
		AAGUID:          info.AAGUID,
		RolesSnapshot:   append([]string(nil), info.Roles...),
		IPHistory:       []string{},
		FirstSeen:       now,
		LastSeen:        now,
	}
	if err := r.store.UpsertDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}

	stored, err := r.store.GetDevice(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("loading device: %w", err)
	}
	if stored.RemovedAt != nil {
		return nil, ErrDeviceRemoved
	}

	if err := r.store.RecordDeviceLogin(ctx, userID, id, TruncateAddress(info.RemoteAddr), now); err != nil {
		return nil, fmt.Errorf("recording device login: %w", err)
	}

	r.logger.Info("registered device", "device_id", id, "user_id", userID)
	return r.store.GetDevice(ctx, userID, id)
}

// Recognize checks whether the presented client matches a known device.
// Recognition requires the derived device id and the fingerprint hash to
// match; either alone is not enough to call the device known, and a
// missing fingerprint on either side fails closed.
func (r *Registry) Recognize(ctx context.Context, userID string, info Info) (Recognition, error) {
	id, err := DeriveID(info.CredentialID, info.ClientID, HashUserAgent(info.UserAgent))
	if err != nil {
		return Recognition{}, err
	}

	dev, err := r.store.GetDevice(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return Recognition{DeviceID: id, SuggestedMethod: MethodRegister}, nil
	}
	if err != nil {
		return Recognition{}, fmt.Errorf("looking up device: %w", err)
	}
	if dev.RemovedAt != nil {
		return Recognition{DeviceID: id, SuggestedMethod: MethodRegister}, nil
	}

	supplied := HashFingerprint(r.salt, info.Fingerprint)
	if supplied == "" || dev.FingerprintHash == "" || dev.FingerprintHash != supplied {
		return Recognition{DeviceID: id, SuggestedMethod: MethodRegister}, nil
	}

	method := MethodPassword
	if dev.AAGUID != "" || len(info.CredentialID) > 0 || snapshotHasRole(dev.RolesSnapshot, identity.RoleSuperAdmin) {
		method = MethodPasskey
	}
	return Recognition{
		Recognized:      true,
		Trusted:         dev.Trusted,
		DeviceID:        id,
		SuggestedMethod: method,
	}, nil
}

func snapshotHasRole(snapshot []string, role string) bool {
	for _, r := range snapshot {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// RecordLogin counts a successful login on a known device.
func (r *Registry) RecordLogin(ctx context.Context, userID, deviceID, remoteAddr string) error {
	err := r.store.RecordDeviceLogin(ctx, userID, deviceID, TruncateAddress(remoteAddr), r.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrDeviceNotFound
	}
	return err
}

// SetTrust flips the trust bit on a user's device.
func (r *Registry) SetTrust(ctx context.Context, userID, deviceID string, trusted bool) error {
	err := r.store.SetDeviceTrust(ctx, userID, deviceID, trusted)
	if errors.Is(err, store.ErrNotFound) {
		return ErrDeviceNotFound
	}
	return err
}

// List returns a user's active devices.
func (r *Registry) List(ctx context.Context, userID string) ([]*store.Device, error) {
	return r.store.ListDevicesByUser(ctx, userID)
}

// Remove tombstones a device. The row is kept so the same device id
// cannot silently re-enter as trusted. Removing a device the user does
// not own fails with ErrNotOwner.
func (r *Registry) Remove(ctx context.Context, userID, deviceID string) error {
	err := r.store.RemoveDevice(ctx, userID, deviceID, r.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotOwner
	}
	return err
}
