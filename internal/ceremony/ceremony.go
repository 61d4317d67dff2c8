// ABOUTME: WebAuthn ceremony orchestrator for passkey registration and login
// ABOUTME: Coordinates challenges, verification, stores, and the device registry

package ceremony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/bakhmaro/gurulo-gateway/internal/audit"
	"github.com/bakhmaro/gurulo-gateway/internal/device"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
	"github.com/bakhmaro/gurulo-gateway/internal/ratelimit"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
)

// Ceremony errors
var (
	ErrRateLimited        = errors.New("too many verification attempts")
	ErrStaleCeremony      = errors.New("no pending ceremony for session")
	ErrUnknownUser        = errors.New("unknown user")
	ErrNoCredentials      = errors.New("user has no registered passkeys")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialRevoked  = errors.New("credential revoked")
	ErrVerificationFailed = errors.New("verification failed")
	ErrInsufficientInput  = errors.New("personal id required")
)

// RateLimitedError wraps ErrRateLimited with the window remaining.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many verification attempts, retry in %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Config controls the orchestrator's relying-party identity.
type Config struct {
	BaseURL       string
	RPDisplayName string
}

// Result is the outcome of a completed ceremony.
type Result struct {
	User          *store.User
	CredentialID  string
	DeviceID      string
	DeviceTrusted bool
}

// Orchestrator drives passkey registration and login ceremonies.
type Orchestrator struct {
	webauthn *webauthn.WebAuthn
	users    store.UserStore
	creds    store.CredentialStore
	devices  *device.Registry
	resolver *identity.Resolver
	pending  *pendingStore
	limiter  *ratelimit.Limiter
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an orchestrator. The relying-party id and origins are
// derived from cfg.BaseURL.
func New(cfg Config, users store.UserStore, creds store.CredentialStore,
	devices *device.Registry, resolver *identity.Resolver,
	limiter *ratelimit.Limiter, recorder *audit.Recorder) (*Orchestrator, error) {

	rpID, rpOrigins := deriveRelyingParty(cfg.BaseURL)
	displayName := cfg.RPDisplayName
	if displayName == "" {
		displayName = "gurulo"
	}

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: displayName,
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}

	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}

	return &Orchestrator{
		webauthn: w,
		users:    users,
		creds:    creds,
		devices:  devices,
		resolver: resolver,
		pending:  newPendingStore(),
		limiter:  limiter,
		recorder: recorder,
		logger:   slog.Default().With("component", "ceremony"),
		now:      time.Now,
	}, nil
}

// deriveRelyingParty extracts rpID and rpOrigins from a base URL.
// Returns localhost defaults if the URL is empty or invalid.
func deriveRelyingParty(baseURL string) (rpID string, rpOrigins []string) {
	rpID = "localhost"
	rpOrigins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, rpOrigins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return rpID, rpOrigins
	}

	host := parsed.Hostname()
	if host == "" {
		return rpID, rpOrigins
	}

	rpID = host
	rpOrigins = []string{baseURL}
	if parsed.Scheme == "https" {
		rpOrigins = append(rpOrigins, "http://"+parsed.Host)
	} else {
		rpOrigins = append(rpOrigins, "https://"+parsed.Host)
	}
	return rpID, rpOrigins
}

// BeginRegistration issues creation options for the given personal id,
// creating the account on first contact. Existing credentials are excluded
// so an authenticator is not registered twice. The challenge is bound to
// sessionKey; issuing a new challenge invalidates any pending one.
func (o *Orchestrator) BeginRegistration(ctx context.Context, sessionKey, personalID, email, displayName string) (*protocol.CredentialCreation, error) {
	if personalID == "" {
		return nil, ErrInsufficientInput
	}

	user, err := o.findOrCreateUser(ctx, personalID, email, displayName)
	if err != nil {
		return nil, err
	}

	existing, err := o.creds.ListCredentialsByUser(ctx, user.ID)
	if err != nil {
		o.logger.Error("failed to list existing credentials", "error", err)
		existing = nil
	}

	waUser := &webAuthnUser{user: user, creds: existing}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, c := range existing {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.CredentialID,
		})
	}

	options, session, err := o.webauthn.BeginRegistration(waUser,
		webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}

	o.pending.Put(sessionKey, kindRegistration, session, user.ID)
	return options, nil
}

// FinishRegistration verifies the attestation response, persists the new
// credential, and registers the device. The pending challenge is consumed
// on entry: a failed attempt requires a fresh BeginRegistration.
func (o *Orchestrator) FinishRegistration(ctx context.Context, sessionKey string, response io.Reader, info device.Info) (*Result, error) {
	if err := o.checkRateLimit(info.RemoteAddr, "register"); err != nil {
		return nil, err
	}

	session, userID, ok := o.pending.Take(sessionKey, kindRegistration)
	if !ok {
		return nil, ErrStaleCeremony
	}

	user, err := o.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		o.auditVerify(ctx, user.PersonalID, "", false)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	existing, _ := o.creds.ListCredentialsByUser(ctx, user.ID)
	waUser := &webAuthnUser{user: user, creds: existing}

	credential, err := o.webauthn.CreateCredential(waUser, *session, parsed)
	if err != nil {
		o.auditVerify(ctx, user.PersonalID, "", false)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	credID, err := o.storeCredential(ctx, user.ID, credential)
	if err != nil {
		return nil, err
	}

	info.CredentialID = credential.ID
	info.AAGUID = fmt.Sprintf("%x", credential.Authenticator.AAGUID)
	info.Roles = []string{user.Role}
	dev, err := o.devices.Register(ctx, user.ID, info)
	if err != nil {
		// Credential registration stands even when device bookkeeping fails.
		o.logger.Warn("failed to register device", "error", err, "user_id", user.ID)
	}

	o.limiter.Reset(o.rateLimitKey(info.RemoteAddr, "register"))
	o.auditVerify(ctx, user.PersonalID, credID, true)
	o.logger.Info("passkey registered", "user_id", user.ID, "credential_id", credID)

	result := &Result{User: user, CredentialID: credID}
	if dev != nil {
		result.DeviceID = dev.ID
		result.DeviceTrusted = dev.Trusted
	}
	return result, nil
}

// BeginLogin issues assertion options. With an empty personalID the
// ceremony is discoverable: the account is determined from the credential
// the authenticator presents. With a personalID the options carry an
// allow-list of that account's credentials.
func (o *Orchestrator) BeginLogin(ctx context.Context, sessionKey, personalID string) (*protocol.CredentialAssertion, error) {
	if personalID == "" {
		options, session, err := o.webauthn.BeginDiscoverableLogin()
		if err != nil {
			return nil, fmt.Errorf("beginning login: %w", err)
		}
		o.pending.Put(sessionKey, kindLogin, session, "")
		return options, nil
	}

	// Aliases of the privileged profile (email, configured aliases) resolve
	// to its personal id before lookup.
	if o.resolver.Matches(personalID) {
		personalID = identity.SuperAdminPersonalID
	}

	user, err := o.users.GetUserByPersonalID(ctx, personalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	creds, err := o.creds.ListCredentialsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}

	waUser := &webAuthnUser{user: user, creds: creds}
	options, session, err := o.webauthn.BeginLogin(waUser)
	if err != nil {
		return nil, fmt.Errorf("beginning login: %w", err)
	}

	o.pending.Put(sessionKey, kindLogin, session, user.ID)
	return options, nil
}

// FinishLogin verifies the assertion response, advances the credential
// counter, and reconciles the device registry. A counter that does not
// strictly increase fails the login: a cloned authenticator replaying an
// old assertion is indistinguishable from a concurrent race, and both are
// rejected.
func (o *Orchestrator) FinishLogin(ctx context.Context, sessionKey string, response io.Reader, info device.Info) (*Result, error) {
	if err := o.checkRateLimit(info.RemoteAddr, "login"); err != nil {
		return nil, err
	}

	session, expectedUserID, ok := o.pending.Take(sessionKey, kindLogin)
	if !ok {
		return nil, ErrStaleCeremony
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		o.auditVerify(ctx, "", "", false)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	stored, err := o.creds.GetCredentialByCredentialID(ctx, parsed.RawID)
	if errors.Is(err, store.ErrNotFound) {
		o.auditVerify(ctx, "", "", false)
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}
	if stored.RevokedAt != nil {
		o.auditVerify(ctx, "", stored.ID, false)
		return nil, ErrCredentialRevoked
	}
	if expectedUserID != "" && stored.UserID != expectedUserID {
		o.auditVerify(ctx, "", stored.ID, false)
		return nil, fmt.Errorf("%w: credential owner mismatch", ErrVerificationFailed)
	}

	user, err := o.users.GetUser(ctx, stored.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	allCreds, _ := o.creds.ListCredentialsByUser(ctx, user.ID)
	waUser := &webAuthnUser{user: user, creds: allCreds}

	var credential *webauthn.Credential
	if expectedUserID != "" {
		credential, err = o.webauthn.ValidateLogin(waUser, *session, parsed)
	} else {
		credential, err = o.webauthn.ValidateDiscoverableLogin(
			func(rawID, userHandle []byte) (webauthn.User, error) {
				if len(userHandle) > 0 && string(userHandle) != user.ID {
					return nil, errors.New("user handle mismatch")
				}
				return waUser, nil
			}, *session, parsed)
	}
	if err != nil {
		o.auditVerify(ctx, user.PersonalID, stored.ID, false)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	newCount := credential.Authenticator.SignCount
	if newCount > 0 || stored.SignCount > 0 {
		if newCount <= stored.SignCount {
			o.auditVerify(ctx, user.PersonalID, stored.ID, false)
			return nil, fmt.Errorf("%w: counter did not advance", ErrVerificationFailed)
		}
		if err := o.creds.UpdateCredentialCounter(ctx, stored.ID, stored.SignCount, newCount); err != nil {
			o.auditVerify(ctx, user.PersonalID, stored.ID, false)
			return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
	}
	if err := o.creds.TouchCredential(ctx, stored.ID, o.now()); err != nil {
		o.logger.Warn("failed to touch credential", "error", err)
	}

	info.CredentialID = parsed.RawID
	recognition, err := o.devices.Recognize(ctx, user.ID, info)
	if err != nil {
		o.logger.Warn("device recognition failed", "error", err, "user_id", user.ID)
	}
	if recognition.Recognized {
		if err := o.devices.RecordLogin(ctx, user.ID, recognition.DeviceID, info.RemoteAddr); err != nil {
			o.logger.Warn("failed to record device login", "error", err)
		}
	}

	o.limiter.Reset(o.rateLimitKey(info.RemoteAddr, "login"))
	o.auditVerify(ctx, user.PersonalID, stored.ID, true)
	o.logger.Info("passkey login successful", "user_id", user.ID)

	return &Result{
		User:          user,
		CredentialID:  stored.ID,
		DeviceID:      recognition.DeviceID,
		DeviceTrusted: recognition.Trusted,
	}, nil
}

// RevokeCredential revokes one of the user's own passkeys.
func (o *Orchestrator) RevokeCredential(ctx context.Context, userID, credentialID string) error {
	creds, err := o.creds.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}
	for _, c := range creds {
		if c.ID == credentialID {
			return o.creds.RevokeCredential(ctx, credentialID, o.now())
		}
	}
	return ErrCredentialNotFound
}

func (o *Orchestrator) findOrCreateUser(ctx context.Context, personalID, email, displayName string) (*store.User, error) {
	user, err := o.users.GetUserByPersonalID(ctx, personalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	now := o.now().UTC()
	user = &store.User{
		ID:          uuid.New().String(),
		PersonalID:  personalID,
		Email:       email,
		DisplayName: displayName,
		Role:        o.resolver.ResolveRole(personalID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrPersonalIDConflict) {
			// Lost a create race; the row exists now.
			return o.users.GetUserByPersonalID(ctx, personalID)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

func (o *Orchestrator) storeCredential(ctx context.Context, userID string, cred *webauthn.Credential) (string, error) {
	transportsJSON, err := json.Marshal(cred.Transport)
	if err != nil {
		return "", fmt.Errorf("encoding transports: %w", err)
	}

	stored := &store.Credential{
		ID:              uuid.New().String(),
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      string(transportsJSON),
		SignCount:       cred.Authenticator.SignCount,
		AAGUID:          cred.Authenticator.AAGUID,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		CreatedAt:       o.now(),
	}
	if err := o.creds.CreateCredential(ctx, stored); err != nil {
		return "", fmt.Errorf("storing credential: %w", err)
	}
	return stored.ID, nil
}

func (o *Orchestrator) rateLimitKey(remoteAddr, endpoint string) string {
	return device.TruncateAddress(remoteAddr) + "|" + endpoint
}

func (o *Orchestrator) checkRateLimit(remoteAddr, endpoint string) error {
	ok, retryAfter := o.limiter.Allow(o.rateLimitKey(remoteAddr, endpoint))
	if !ok {
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

func (o *Orchestrator) auditVerify(ctx context.Context, personalID, credentialID string, success bool) {
	if o.recorder != nil {
		o.recorder.RecordPasskeyVerification(ctx, personalID, credentialID, success)
	}
}
