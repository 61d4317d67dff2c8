// ABOUTME: Device identity derivation, fingerprint hashing, IP truncation
// ABOUTME: Pure helpers used by the trust registry and ceremony flows

package device

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/netip"
	"strings"
)

// ErrInsufficientInput means the client sent too little identity material
// to derive a stable device id.
var ErrInsufficientInput = errors.New("insufficient device identity input")

// DeriveID computes a stable device id. A passkey credential id is the
// preferred basis; without one both the client id and the user-agent hash
// are required. Either way the result is a hex sha256 digest, so raw
// client identifiers never appear in storage.
func DeriveID(credentialID []byte, clientID, uaHash string) (string, error) {
	h := sha256.New()
	switch {
	case len(credentialID) > 0:
		h.Write(credentialID)
	case clientID != "" && uaHash != "":
		h.Write([]byte(clientID))
		h.Write([]byte("|"))
		h.Write([]byte(uaHash))
	default:
		return "", ErrInsufficientInput
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFingerprint hashes a client-supplied fingerprint with a server-side
// salt. Fingerprints are opaque to us; only the salted hash is stored.
func HashFingerprint(salt, fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	h := sha256.Sum256([]byte(salt + fingerprint))
	return hex.EncodeToString(h[:])
}

// HashUserAgent hashes a user-agent string for storage.
func HashUserAgent(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	h := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(h[:])
}

// TruncateAddress coarsens an IP address before it is stored: IPv4 keeps
// the first three octets (/24), IPv6 the first three groups (/48). Anything
// unparseable comes back empty.
func TruncateAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	// Accept "host:port" and "[v6]:port" forms too.
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		addr = ap.Addr().String()
	}

	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return ""
	}
	ip = ip.Unmap()

	bits := 48
	if ip.Is4() {
		bits = 24
	}
	prefix, err := ip.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}
