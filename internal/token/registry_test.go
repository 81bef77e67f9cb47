package token

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, ttl time.Duration) *RevocationRegistry {
	t.Helper()
	// Long sweep interval so tests drive sweep() directly.
	r := NewRevocationRegistry(ttl, time.Hour)
	t.Cleanup(r.Close)
	return r
}

func TestRevokeThenIsRevoked(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	r.Revoke("tok1")
	assert.True(t, r.IsRevoked("tok1"))
	assert.False(t, r.IsRevoked("tok2"))
}

func TestRevokeEmptyTokenIsNoop(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	r.Revoke("")
	assert.False(t, r.IsRevoked(""))
}

func TestRevokeIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	r.Revoke("tok1")
	deadline1, ok := r.forgetAfter.Load("tok1")
	require.True(t, ok)

	// A second revoke must not refresh the forget-after deadline.
	r.now = func() time.Time { return time.Now().Add(30 * time.Minute) }
	r.Revoke("tok1")
	deadline2, ok := r.forgetAfter.Load("tok1")
	require.True(t, ok)

	assert.Equal(t, deadline1, deadline2)
	assert.True(t, r.IsRevoked("tok1"))
}

func TestSweepForgetsPastDeadline(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	r.Revoke("tok1")
	require.True(t, r.IsRevoked("tok1"))

	// Jump past the forget-after instant and sweep.
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	r.sweep()

	assert.False(t, r.IsRevoked("tok1"))
	_, hasDeadline := r.forgetAfter.Load("tok1")
	assert.False(t, hasDeadline)
}

func TestSweepKeepsLiveEntries(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	r.Revoke("tok1")
	r.sweep()

	assert.True(t, r.IsRevoked("tok1"))
	_, hasDeadline := r.forgetAfter.Load("tok1")
	assert.True(t, hasDeadline)
}

func TestMembershipAlwaysBackedByDeadline(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	for i := 0; i < 100; i++ {
		r.Revoke(fmt.Sprintf("tok-%d", i))
	}
	r.sweep()

	r.blacklist.Range(func(key, _ any) bool {
		_, backed := r.forgetAfter.Load(key)
		assert.True(t, backed, "member %v has no forget-after entry", key)
		return true
	})
}

func TestRevokeBetweenSweepPhasesIsNotLost(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	r.Revoke("tok1")

	// The sweep removes the deadline first and the member second. A
	// revoke landing between those phases must survive the sweep.
	r.forgetAfter.Delete("tok1")
	r.Revoke("tok1")
	r.sweep()

	assert.True(t, r.IsRevoked("tok1"))
	_, backed := r.forgetAfter.Load("tok1")
	assert.True(t, backed)
}

func TestRevokeRefreshesLapsedDeadline(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	r.Revoke("tok1")

	// Re-revoking once the original deadline has passed must install a
	// fresh deadline instead of leaving the entry for the sweep.
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	r.Revoke("tok1")
	r.sweep()

	assert.True(t, r.IsRevoked("tok1"))
	_, backed := r.forgetAfter.Load("tok1")
	assert.True(t, backed)
}

func TestConcurrentRevokeSweepLookup(t *testing.T) {
	r := newTestRegistry(t, time.Millisecond)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tok := fmt.Sprintf("tok-%d-%d", g, i)
				r.Revoke(tok)
				r.IsRevoked(tok)
				if i%50 == 0 {
					r.sweep()
				}
			}
		}(g)
	}
	wg.Wait()

	// Everything is past its deadline by now; a final sweep must leave a
	// consistent, empty registry.
	time.Sleep(5 * time.Millisecond)
	r.sweep()
	count := 0
	r.blacklist.Range(func(key, _ any) bool {
		_, backed := r.forgetAfter.Load(key)
		assert.True(t, backed)
		count++
		return true
	})
	assert.Zero(t, count)
}

func TestCloseStopsSweepLoop(t *testing.T) {
	r := NewRevocationRegistry(time.Hour, time.Millisecond)
	r.Close()
	// Second close must not panic.
	r.Close()
}
