package local

import (
	"testing"
	"time"

	"github.com/gammadia/devicepool/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerGetOrInsert(t *testing.T) {
	l := newLedger()
	now := time.Now()

	output, inserted := l.getOrInsert("p1", time.Hour, now)
	require.True(t, inserted)
	assert.Equal(t, "p1", output.ID)
	assert.Equal(t, pool.StatusRequested, output.Status)
	assert.Empty(t, output.Reservations)

	repeat, inserted := l.getOrInsert("p1", time.Hour, now.Add(time.Minute))
	assert.False(t, inserted)
	assert.Equal(t, output, repeat)
}

func TestLedgerTransitionPreservesExpiry(t *testing.T) {
	l := newLedger()
	now := time.Now()
	l.getOrInsert("p1", time.Second, now)

	ok := l.transition("p1", func(o pool.ProvisionOutput) pool.ProvisionOutput {
		o.Status = pool.StatusProvisioning
		return o
	})
	require.True(t, ok)

	output, ok := l.get("p1")
	require.True(t, ok)
	assert.Equal(t, pool.StatusProvisioning, output.Status)

	// Still expires at the original instant.
	assert.Len(t, l.expired(now.Add(2*time.Second)), 1)
}

func TestLedgerTransitionAbsent(t *testing.T) {
	l := newLedger()
	ok := l.transition("ghost", func(o pool.ProvisionOutput) pool.ProvisionOutput { return o })
	assert.False(t, ok)
}

func TestLedgerExtend(t *testing.T) {
	l := newLedger()
	now := time.Now()
	l.getOrInsert("p1", time.Second, now)

	require.True(t, l.extend("p1", time.Hour))
	assert.Empty(t, l.expired(now.Add(time.Minute)))
	assert.Len(t, l.expired(now.Add(2*time.Hour)), 1)

	assert.False(t, l.extend("ghost", time.Hour))
}

func TestLedgerRemove(t *testing.T) {
	l := newLedger()
	l.getOrInsert("p1", time.Hour, time.Now())

	output, ok := l.remove("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", output.ID)

	_, ok = l.get("p1")
	assert.False(t, ok)

	_, ok = l.remove("p1")
	assert.False(t, ok)
}

func TestLedgerExpired(t *testing.T) {
	l := newLedger()
	now := time.Now()
	l.getOrInsert("soon", time.Second, now)
	l.getOrInsert("later", time.Hour, now)

	expired := l.expired(now.Add(2 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, "soon", expired[0].ID)

	// expired does not remove.
	_, ok := l.get("soon")
	assert.True(t, ok)
}

func TestLedgerSnapshotsDoNotAlias(t *testing.T) {
	l := newLedger()
	l.getOrInsert("p1", time.Hour, time.Now())
	l.transition("p1", func(o pool.ProvisionOutput) pool.ProvisionOutput {
		o.Reservations = append(o.Reservations, pool.Reservation{DeviceID: "d1", Status: pool.StatusSucceeded})
		return o
	})

	output, _ := l.get("p1")
	output.Reservations[0].DeviceID = "mutated"

	fresh, _ := l.get("p1")
	assert.Equal(t, "d1", fresh.Reservations[0].DeviceID)
}
