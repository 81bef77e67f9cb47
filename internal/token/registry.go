// Package token owns the bearer token lifecycle pieces that stay inside
// this process: the revocation registry and the JWT issue/validate
// service built on it.
package token

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"security-service/internal/util"
)

// RevocationRegistry tracks blacklisted tokens until their forget-after
// instant. Membership and the deadline live in separate concurrent maps
// so lookups stay lock-free; a membership entry is always written after
// its deadline so it is never observed unbacked.
//
// The registry is a process-wide resource constructed once at startup.
// It is deliberately not persisted: every token also carries a signed
// expiry, so losing the blacklist on restart only re-validates tokens
// that were revoked before their natural expiry.
type RevocationRegistry struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	blacklist   sync.Map // token -> struct{}
	forgetAfter sync.Map // token -> time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRevocationRegistry starts the registry and its periodic sweep.
// ttl is how long a revoked token is remembered (independent of the
// token's own expiry claim, so memory stays bounded even for malformed
// tokens); interval is the sweep cadence.
func NewRevocationRegistry(ttl, interval time.Duration) *RevocationRegistry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	r := &RevocationRegistry{
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Revoke blacklists a token. Empty tokens are ignored; revoking an
// already-revoked token keeps its original forget-after deadline.
func (r *RevocationRegistry) Revoke(token string) {
	if token == "" {
		return
	}
	deadline := r.now().Add(r.ttl)
	// Deadline first, membership second: IsRevoked readers may see the
	// deadline without the member, never the reverse. Idempotence is
	// keyed off the deadline map, and membership is re-stored
	// unconditionally, so a revoke landing between the sweep's two
	// phases cannot be swept away as an orphan.
	if existing, loaded := r.forgetAfter.LoadOrStore(token, deadline); loaded {
		if t, ok := existing.(time.Time); ok && t.Before(r.now()) {
			// The loaded deadline already lapsed and the sweep may drop
			// it at any moment; back this revoke with a fresh one.
			r.forgetAfter.Store(token, deadline)
		}
	}
	r.blacklist.Store(token, struct{}{})
	util.Debug("Token blacklisted", zap.Time("forget_after", deadline))
}

// IsRevoked is an O(1) membership test.
func (r *RevocationRegistry) IsRevoked(token string) bool {
	if token == "" {
		return false
	}
	_, revoked := r.blacklist.Load(token)
	return revoked
}

// sweep drops deadline entries that have passed, then membership
// entries left without a deadline. Runs concurrently with Revoke and
// IsRevoked; per-entry map operations are the only synchronization.
func (r *RevocationRegistry) sweep() {
	now := r.now()
	removed := 0

	r.forgetAfter.Range(func(key, value any) bool {
		if deadline, ok := value.(time.Time); ok && deadline.Before(now) {
			r.forgetAfter.Delete(key)
			removed++
		}
		return true
	})
	r.blacklist.Range(func(key, _ any) bool {
		if _, backed := r.forgetAfter.Load(key); !backed {
			r.blacklist.Delete(key)
		}
		return true
	})

	if removed > 0 {
		util.Info("Revocation sweep completed", zap.Int("removed", removed))
	}
}

func (r *RevocationRegistry) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

// Close cancels the sweep task. Safe to call more than once.
func (r *RevocationRegistry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}
