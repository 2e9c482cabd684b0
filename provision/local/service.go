// Package local implements the device pool back-end for a fixed fleet of
// hosts. Provision requests queue FIFO behind an assignment loop that binds
// available hosts to requests; a reaper expires provisions past their TTL
// and returns their hosts to the pool.
package local

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gammadia/devicepool/pool"
	"github.com/samber/lo"
)

type Config struct {
	// Hosts seeds the pool. Required; device ids must be unique.
	Hosts []pool.Host
	// ProvisionTimeout is the TTL applied to new provisions and added again
	// by Extend. Defaults to one hour.
	ProvisionTimeout time.Duration
	// ExpireProvisions starts the reaper. DefaultConfig turns it on.
	ExpireProvisions bool
	// ReapInterval is the reaper cadence. Defaults to one second.
	ReapInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the stock configuration for a set of hosts:
// one hour provision timeout, expiry on, one second reap cadence.
func DefaultConfig(hosts ...pool.Host) Config {
	return Config{
		Hosts:            hosts,
		ProvisionTimeout: time.Hour,
		ExpireProvisions: true,
		ReapInterval:     time.Second,
	}
}

// Service is the local provisioning back-end. It serves both halves of the
// pool contract: provisioning against its in-memory ledger and reservation
// exchange against its seeded host set.
type Service struct {
	config Config
	log    *slog.Logger

	ledger    *ledger
	inventory *inventory
	queue     *requestQueue

	// assign is shared by the assignment loop and the reaper so they never
	// interleave: between taking hosts and writing reservations, the loop
	// owns hosts that are not yet visible in any ledger entry.
	assign sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ pool.ProvisionService = (*Service)(nil)
var _ pool.ReservationService = (*Service)(nil)

// New validates the configuration, seeds the inventory, and starts the
// background tasks.
func New(config Config) (*Service, error) {
	if len(config.Hosts) == 0 {
		return nil, pool.InvalidInputf("hosts must contain at least one entry")
	}
	seen := map[string]bool{}
	for _, host := range config.Hosts {
		if host.DeviceID == "" {
			return nil, pool.InvalidInputf("host '%s' has no device id", host.Hostname)
		}
		if seen[host.DeviceID] {
			return nil, pool.InvalidInputf("duplicate device id '%s'", host.DeviceID)
		}
		seen[host.DeviceID] = true
	}
	if config.ProvisionTimeout <= 0 {
		config.ProvisionTimeout = time.Hour
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config: config,
		log:    config.Logger.With("component", "local-pool"),

		ledger:    newLedger(),
		inventory: newInventory(config.Hosts),
		queue:     newRequestQueue(),

		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.runAssignments()

	if config.ExpireProvisions {
		s.wg.Add(1)
		go s.runReaper()
	}

	return s, nil
}

// Provision accepts a request and returns its current ledger state. The
// call is idempotent on input.ID: repeats observe the live entry without
// enqueueing anything.
func (s *Service) Provision(ctx context.Context, input pool.ProvisionInput) (pool.ProvisionOutput, error) {
	if err := s.alive(); err != nil {
		return pool.ProvisionOutput{}, err
	}
	if input.ID == "" {
		return pool.ProvisionOutput{}, pool.InvalidInputf("provision id must not be empty")
	}
	if input.Amount < 1 {
		return pool.ProvisionOutput{}, pool.InvalidInputf("amount must be at least 1, got %d", input.Amount)
	}

	output, inserted := s.ledger.getOrInsert(input.ID, s.config.ProvisionTimeout, time.Now())
	if inserted {
		s.queue.enqueue(request{input: input, snapshot: output})
		s.log.Info("Accepted provision", "id", input.ID, "amount", input.Amount)
	}
	return output, nil
}

// Describe snapshots the provision by id.
func (s *Service) Describe(ctx context.Context, output pool.ProvisionOutput) (pool.ProvisionOutput, error) {
	if err := s.alive(); err != nil {
		return pool.ProvisionOutput{}, err
	}

	current, ok := s.ledger.get(output.ID)
	if !ok {
		return pool.ProvisionOutput{}, pool.Provisioningf("could not find a provision with id '%s': %w", output.ID, pool.ErrNotFound)
	}
	return current, nil
}

// Release removes the provision and returns its hosts to the pool. Returns
// how many hosts were actually released; releasing an unknown provision is
// a no-op.
func (s *Service) Release(ctx context.Context, output pool.ProvisionOutput) (int, error) {
	if err := s.alive(); err != nil {
		return 0, err
	}

	removed, ok := s.ledger.remove(output.ID)
	if !ok {
		return 0, nil
	}
	released := s.releaseHosts(removed)
	s.log.Info("Released provision", "id", output.ID, "hosts", released)
	return released, nil
}

// Extend pushes the provision expiry by one provision timeout. Extending an
// unknown provision is a no-op. There is no upper bound on the total TTL.
func (s *Service) Extend(ctx context.Context, output pool.ProvisionOutput) error {
	if err := s.alive(); err != nil {
		return err
	}

	s.ledger.extend(output.ID, s.config.ProvisionTimeout)
	return nil
}

// Exchange resolves a reservation over the known host set. The lookup does
// not cross-check that the host is presently reserved; a stale reservation
// still resolves as long as the device id is known.
func (s *Service) Exchange(ctx context.Context, reservation pool.Reservation) (pool.Host, error) {
	if err := s.alive(); err != nil {
		return pool.Host{}, err
	}

	host, ok := s.inventory.lookup(reservation.DeviceID)
	if !ok {
		return pool.Host{}, pool.Reservationf("could not find a host with id '%s'", reservation.DeviceID)
	}
	return host, nil
}

// Close stops the background tasks and unblocks anything waiting on the
// inventory or the queue. Idempotent; public methods fail afterwards.
func (s *Service) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.log.Info("Local pool closed")
	})
	return nil
}

func (s *Service) alive() error {
	if s.ctx.Err() != nil {
		return pool.NewProvisioningError(pool.ErrClosed)
	}
	return nil
}

// runAssignments drains the request queue, one request at a time. The head
// request blocks the loop until the inventory can satisfy it; later
// requests wait their turn.
func (s *Service) runAssignments() {
	defer s.wg.Done()

	for {
		req, err := s.queue.take(s.ctx)
		if err != nil {
			s.log.Debug("Assignment loop stopping")
			return
		}

		s.assign.Lock()

		// The provision may have been released while queued; drop it.
		if !s.ledger.transition(req.input.ID, func(o pool.ProvisionOutput) pool.ProvisionOutput {
			o.Status = pool.StatusProvisioning
			return o
		}) {
			s.assign.Unlock()
			continue
		}

		taken := make([]pool.Host, 0, req.input.Amount)
		var stopping bool
		for i := 0; i < req.input.Amount; i++ {
			host, err := s.inventory.take(s.ctx)
			if err != nil {
				stopping = true
				break
			}
			s.log.Info("Adding host to provision", "host", host.DeviceID, "id", req.input.ID)
			taken = append(taken, host)
		}
		if stopping {
			for _, host := range taken {
				s.inventory.offer(host)
			}
			s.assign.Unlock()
			s.log.Debug("Assignment loop stopping")
			return
		}

		built := lo.Map(taken, func(host pool.Host, _ int) pool.Reservation {
			return pool.Reservation{DeviceID: host.DeviceID, Status: pool.StatusSucceeded}
		})
		if !s.ledger.transition(req.input.ID, func(o pool.ProvisionOutput) pool.ProvisionOutput {
			o.Status = pool.StatusSucceeded
			o.Reservations = append(o.Reservations, built...)
			return o
		}) {
			// Released mid-assignment: the entry is gone, hand the hosts back.
			for _, host := range taken {
				s.inventory.offer(host)
			}
		}

		s.assign.Unlock()
	}
}

// runReaper wakes on a fixed cadence and expires provisions past their TTL.
func (s *Service) runReaper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("Reaper stopping")
			return
		case <-ticker.C:
			if released := s.reap(time.Now()); released > 0 {
				s.log.Info("Reaped devices", "count", released)
			}
		}
	}
}

// reap removes every provision expired at now and returns its hosts.
func (s *Service) reap(now time.Time) int {
	s.assign.Lock()
	defer s.assign.Unlock()

	released := 0
	for _, output := range s.ledger.expired(now) {
		removed, ok := s.ledger.remove(output.ID)
		if !ok {
			continue
		}
		count := s.releaseHosts(removed)
		released += count
		s.log.Info("Expired provision", "id", output.ID, "hosts", count)
	}
	return released
}

func (s *Service) releaseHosts(output pool.ProvisionOutput) int {
	released := 0
	for _, reservation := range output.Reservations {
		host, ok := s.inventory.lookup(reservation.DeviceID)
		if ok && s.inventory.offer(host) {
			released++
		}
	}
	return released
}
