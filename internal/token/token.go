// ABOUTME: JWT access/refresh token service with a type discriminator claim
// ABOUTME: Uses HS256 signing with configurable secret, issuer, and audience

package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bakhmaro/gurulo-gateway/internal/identity"
)

// Token errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token expired")
	ErrMissingClaim     = errors.New("missing required claim")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrIdentityMismatch = errors.New("token identity does not match claimed role")
)

// Token type discriminator values.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const (
	defaultIssuer     = "bakhmaro-api"
	defaultAudience   = "bakhmaro-clients"
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Subject is the identity a token asserts.
type Subject struct {
	UserID      string
	PersonalID  string
	Role        string
	Permissions []string
}

// Config controls token issuance. Zero values fall back to defaults.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service issues and verifies HS256 tokens.
type Service struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService creates a token service from config.
func NewService(cfg Config) *Service {
	s := &Service{
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if s.issuer == "" {
		s.issuer = defaultIssuer
	}
	if s.audience == "" {
		s.audience = defaultAudience
	}
	if s.accessTTL <= 0 {
		s.accessTTL = defaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = defaultRefreshTTL
	}
	return s
}

// IssueAccess creates a short-lived access token for the subject.
func (s *Service) IssueAccess(sub Subject) (string, error) {
	return s.issue(sub, TypeAccess, s.accessTTL)
}

// IssueRefresh creates a long-lived refresh token for the subject.
func (s *Service) IssueRefresh(sub Subject) (string, error) {
	return s.issue(sub, TypeRefresh, s.refreshTTL)
}

func (s *Service) issue(sub Subject, tokenType string, ttl time.Duration) (string, error) {
	if sub.UserID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  sub.UserID,
		"type": tokenType,
		"iss":  s.issuer,
		"aud":  s.audience,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if sub.PersonalID != "" {
		claims["personal_id"] = sub.PersonalID
	}
	if sub.Role != "" {
		claims["role"] = sub.Role
	}
	if len(sub.Permissions) > 0 {
		claims["permissions"] = sub.Permissions
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Verify validates the token signature, issuer, audience, and type
// discriminator, and returns the subject it asserts. A token whose type
// claim does not equal wantType fails with ErrWrongTokenType: refresh
// tokens are never accepted where access tokens are expected, and vice
// versa. A token claiming the super-admin role with a personal id other
// than the registered owner fails with ErrIdentityMismatch.
func (s *Service) Verify(tokenString, wantType string) (Subject, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Subject{}, ErrExpiredToken
		}
		return Subject{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return Subject{}, ErrInvalidToken
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Subject{}, ErrInvalidToken
	}

	gotType, _ := claims["type"].(string)
	if gotType != wantType {
		return Subject{}, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, gotType, wantType)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Subject{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	subject := Subject{UserID: sub}
	subject.PersonalID, _ = claims["personal_id"].(string)
	subject.Role, _ = claims["role"].(string)
	if raw, ok := claims["permissions"].([]interface{}); ok {
		for _, p := range raw {
			if str, ok := p.(string); ok {
				subject.Permissions = append(subject.Permissions, str)
			}
		}
	}

	// A super-admin role claim is only honored for the registered owner.
	if strings.EqualFold(subject.Role, identity.RoleSuperAdmin) &&
		!identity.IsSuperAdmin(subject.PersonalID) {
		return Subject{}, ErrIdentityMismatch
	}

	return subject, nil
}

// Refresh verifies a refresh token and issues a fresh access/refresh pair
// for the same subject. The new tokens carry exactly the old token's role
// and permissions, so refreshing can never escalate privileges.
func (s *Service) Refresh(refreshToken string) (access, refresh string, err error) {
	sub, err := s.Verify(refreshToken, TypeRefresh)
	if err != nil {
		return "", "", err
	}
	access, err = s.IssueAccess(sub)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.IssueRefresh(sub)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
