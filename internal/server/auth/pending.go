package auth

import (
	"sync"
	"time"

	"github.com/iudanet/authron/internal/crypto"
	"github.com/iudanet/authron/internal/models"
)

// PendingStore keeps "password verified, 2FA outstanding" logins in memory.
// Expiry is checked on every read; Sweep only reclaims memory.
type PendingStore struct {
	logins      map[string]*models.PendingLogin
	ttl         time.Duration
	maxAttempts int
	mu          sync.Mutex
}

// NewPendingStore creates a store with the given lifetime and attempt budget.
func NewPendingStore(ttl time.Duration, maxAttempts int) *PendingStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &PendingStore{
		logins:      make(map[string]*models.PendingLogin),
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

// Create registers a pending login for accountID and returns a copy of it.
func (p *PendingStore) Create(accountID string, now time.Time) models.PendingLogin {
	pl := &models.PendingLogin{
		ID:        crypto.RandomToken(32),
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(p.ttl),
	}

	p.mu.Lock()
	p.logins[pl.ID] = pl
	p.mu.Unlock()

	return *pl
}

// Get returns a copy of a live pending login.
func (p *PendingStore) Get(id string, now time.Time) (models.PendingLogin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pl, ok := p.logins[id]
	if !ok {
		return models.PendingLogin{}, false
	}
	if pl.Expired(now) {
		delete(p.logins, id)
		return models.PendingLogin{}, false
	}
	return *pl, true
}

// Consume removes a live pending login. Only one caller can consume a given id.
func (p *PendingStore) Consume(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pl, ok := p.logins[id]
	if !ok {
		return false
	}
	delete(p.logins, id)
	return !pl.Expired(now)
}

// Fail records a wrong code and reports how many attempts are left.
// The pending login is discarded once the budget is spent.
func (p *PendingStore) Fail(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	pl, ok := p.logins[id]
	if !ok {
		return 0
	}

	pl.Attempts++
	left := p.maxAttempts - pl.Attempts
	if left <= 0 {
		delete(p.logins, id)
		return 0
	}
	return left
}

// Sweep drops expired entries and returns how many were removed.
func (p *PendingStore) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, pl := range p.logins {
		if pl.Expired(now) {
			delete(p.logins, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (p *PendingStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.logins)
}
