package local

import (
	"context"

	"github.com/gammadia/devicepool/pool"
)

// inventory is the bounded FIFO of available hosts plus the immutable set
// of known hosts. A host is either queued in available or held by exactly
// one live reservation; offer refuses anything else.
type inventory struct {
	known map[string]pool.Host

	// available is buffered to the size of the known set, so a legitimate
	// offer never blocks.
	available chan pool.Host

	// queued guards against double-queueing: membership means the host is
	// currently in available. Writes are serialized by sending/receiving on
	// available plus the mutex inside offer/take.
	queued *hostSet
}

func newInventory(hosts []pool.Host) *inventory {
	inv := &inventory{
		known:     make(map[string]pool.Host, len(hosts)),
		available: make(chan pool.Host, len(hosts)),
		queued:    newHostSet(),
	}
	for _, host := range hosts {
		inv.known[host.DeviceID] = host
	}
	for _, host := range hosts {
		inv.offer(host)
	}
	return inv
}

// take blocks until a host becomes available or ctx is done.
func (inv *inventory) take(ctx context.Context) (pool.Host, error) {
	select {
	case host := <-inv.available:
		inv.queued.remove(host.DeviceID)
		return host, nil
	case <-ctx.Done():
		return pool.Host{}, ctx.Err()
	}
}

// offer returns the host to the available queue. It reports false without
// side effect when the host is unknown or already queued.
func (inv *inventory) offer(host pool.Host) bool {
	known, ok := inv.known[host.DeviceID]
	if !ok {
		return false
	}
	if !inv.queued.add(known.DeviceID) {
		return false
	}
	inv.available <- known
	return true
}

// lookup resolves a device id over the known set.
func (inv *inventory) lookup(deviceID string) (pool.Host, bool) {
	host, ok := inv.known[deviceID]
	return host, ok
}

// size is the number of known hosts.
func (inv *inventory) size() int {
	return len(inv.known)
}
