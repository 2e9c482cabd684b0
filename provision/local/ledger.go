package local

import (
	"sync"
	"time"

	"github.com/gammadia/devicepool/pool"
)

// ledgerEntry pairs a provision snapshot with its wall-clock expiry.
type ledgerEntry struct {
	output    pool.ProvisionOutput
	expiresAt time.Time
}

// ledger is the map of live provisions. A single mutex serializes all
// transitions; operations on the same id are linearizable, and snapshots
// handed out are copies so callers never observe in-flight mutation.
type ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

func newLedger() *ledger {
	return &ledger{entries: make(map[string]*ledgerEntry)}
}

// getOrInsert returns the provision for id, creating a fresh REQUESTED entry
// expiring at now+ttl on first sight. The second return value reports
// whether the entry was inserted by this call.
func (l *ledger) getOrInsert(id string, ttl time.Duration, now time.Time) (pool.ProvisionOutput, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.entries[id]; ok {
		return snapshot(entry.output), false
	}

	entry := &ledgerEntry{
		output:    pool.ProvisionOutput{ID: id, Status: pool.StatusRequested},
		expiresAt: now.Add(ttl),
	}
	l.entries[id] = entry
	return snapshot(entry.output), true
}

// transition applies fn to the provision's output, preserving its expiry.
// Returns false when the id is no longer live.
func (l *ledger) transition(id string, fn func(pool.ProvisionOutput) pool.ProvisionOutput) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return false
	}
	entry.output = fn(snapshot(entry.output))
	return true
}

// extend pushes the expiry of id by delta. No-op when the id is absent.
func (l *ledger) extend(id string, delta time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return false
	}
	entry.expiresAt = entry.expiresAt.Add(delta)
	return true
}

// get snapshots the provision for id.
func (l *ledger) get(id string) (pool.ProvisionOutput, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return pool.ProvisionOutput{}, false
	}
	return snapshot(entry.output), true
}

// remove deletes and returns the provision for id.
func (l *ledger) remove(id string) (pool.ProvisionOutput, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return pool.ProvisionOutput{}, false
	}
	delete(l.entries, id)
	return snapshot(entry.output), true
}

// expired snapshots, without removing, every provision whose expiry has
// passed.
func (l *ledger) expired(now time.Time) []pool.ProvisionOutput {
	l.mu.Lock()
	defer l.mu.Unlock()

	var outputs []pool.ProvisionOutput
	for _, entry := range l.entries {
		if entry.expiresAt.Before(now) {
			outputs = append(outputs, snapshot(entry.output))
		}
	}
	return outputs
}

// snapshot deep-copies an output so ledger internals never alias caller
// slices.
func snapshot(output pool.ProvisionOutput) pool.ProvisionOutput {
	copied := output
	copied.Reservations = append([]pool.Reservation(nil), output.Reservations...)
	return copied
}
