package auth

import (
	"sync"
	"time"
)

// Revocations remembers logged-out token IDs until the tokens would have
// expired anyway. It lives in memory, so a restart forgets it.
type Revocations struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func NewRevocations() *Revocations {
	return &Revocations{ids: map[string]time.Time{}}
}

func (r *Revocations) Revoke(id string, expiresAt, now time.Time) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
	r.ids[id] = expiresAt
}

func (r *Revocations) IsRevoked(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.ids[id]
	if !ok {
		return false
	}
	if now.After(exp) {
		delete(r.ids, id)
		return false
	}
	return true
}

func (r *Revocations) pruneLocked(now time.Time) {
	for id, exp := range r.ids {
		if now.After(exp) {
			delete(r.ids, id)
		}
	}
}
