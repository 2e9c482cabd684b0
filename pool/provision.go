package pool

import (
	"context"

	"github.com/samber/lo"
)

// ProvisionInput asks for a number of devices. The ID doubles as an
// idempotency key: provisioning twice with the same ID returns the same
// provision instead of creating a new one.
type ProvisionInput struct {
	ID     string
	Amount int
}

// Reservation is a provision's claim on one specific device.
type Reservation struct {
	DeviceID string
	Status   Status
}

// ProvisionOutput is the observable state of a provision. Identity is the ID;
// everything else evolves as the back-end makes progress.
type ProvisionOutput struct {
	ID           string
	Status       Status
	Reservations []Reservation
	Message      string
}

// Succeeded returns the reservations that hold a device.
func (o ProvisionOutput) Succeeded() []Reservation {
	return lo.Filter(o.Reservations, func(r Reservation, _ int) bool {
		return r.Status == StatusSucceeded
	})
}

// ProvisionService is the control-plane half of a device pool back-end: it
// accepts provision requests, reports their progress, and releases devices
// back when the caller is done with them.
//
// Provision may return before its devices are ready; callers poll Describe
// until the output reaches a terminal status. The local back-end only records
// and enqueues the request. The autoscaling back-end makes its cloud calls
// inside Provision, including the polling of the group after growing it, so
// that call blocks until those calls finish.
type ProvisionService interface {
	Provision(ctx context.Context, input ProvisionInput) (ProvisionOutput, error)
	Describe(ctx context.Context, output ProvisionOutput) (ProvisionOutput, error)
	// Release frees all devices held by the provision and returns how many
	// were actually returned to the pool.
	Release(ctx context.Context, output ProvisionOutput) (int, error)
	// Extend pushes the provision expiry further into the future by one
	// provision timeout.
	Extend(ctx context.Context, output ProvisionOutput) error
	Close() error
}

// ReservationService resolves reservations into reachable host coordinates.
type ReservationService interface {
	Exchange(ctx context.Context, reservation Reservation) (Host, error)
	Close() error
}
