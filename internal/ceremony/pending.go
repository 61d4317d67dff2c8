// ABOUTME: In-memory pending-challenge store for in-flight WebAuthn ceremonies
// ABOUTME: One slot per session, last write wins, one-shot consumption

package ceremony

import (
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// Ceremony kinds for pending slots.
const (
	kindRegistration = "registration"
	kindLogin        = "login"
)

// pendingTTL bounds how long a challenge stays valid.
const pendingTTL = 5 * time.Minute

type pendingCeremony struct {
	kind      string
	session   *webauthn.SessionData
	userID    string
	expiresAt time.Time
}

// pendingStore holds at most one in-flight ceremony per session key.
// Beginning a new ceremony overwrites the previous slot, so a stale
// challenge can never be completed after a newer one was issued. Expired
// entries are pruned opportunistically on writes.
type pendingStore struct {
	mu    sync.Mutex
	slots map[string]*pendingCeremony
	now   func() time.Time
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		slots: make(map[string]*pendingCeremony),
		now:   time.Now,
	}
}

// Put stores the ceremony for the session key, replacing any pending one.
func (p *pendingStore) Put(sessionKey, kind string, session *webauthn.SessionData, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for k, v := range p.slots {
		if now.After(v.expiresAt) {
			delete(p.slots, k)
		}
	}

	p.slots[sessionKey] = &pendingCeremony{
		kind:      kind,
		session:   session,
		userID:    userID,
		expiresAt: now.Add(pendingTTL),
	}
}

// Take consumes the pending ceremony for the session key. The slot is
// removed on the first call whether or not it matches, so a failed verify
// attempt burns the challenge.
func (p *pendingStore) Take(sessionKey, kind string) (*webauthn.SessionData, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, ok := p.slots[sessionKey]
	if !ok {
		return nil, "", false
	}
	delete(p.slots, sessionKey)

	if data.kind != kind || p.now().After(data.expiresAt) {
		return nil, "", false
	}
	return data.session, data.userID, true
}
