package pool

import (
	"context"
	"errors"
)

// Device is an obtained, reachable device: host coordinates plus a live
// connection and an optional content transfer agent.
type Device interface {
	ID() string
	Host() Host
	Execute(ctx context.Context, input CommandInput) (CommandOutput, error)
	CopyTo(ctx context.Context, input CopyInput) error
	CopyFrom(ctx context.Context, input CopyInput) error
	Close() error
}

// BaseDevice is the Device built by BasePool.Obtain.
type BaseDevice struct {
	host     Host
	conn     Connection
	transfer ContentTransferAgent
}

var _ Device = (*BaseDevice)(nil)

func (d *BaseDevice) ID() string {
	return d.host.DeviceID
}

func (d *BaseDevice) Host() Host {
	return d.host
}

func (d *BaseDevice) Execute(ctx context.Context, input CommandInput) (CommandOutput, error) {
	return d.conn.Execute(ctx, input)
}

func (d *BaseDevice) CopyTo(ctx context.Context, input CopyInput) error {
	if d.transfer == nil {
		return ContentTransferf("no content transfer agent configured for device '%s'", d.ID())
	}
	return d.transfer.Send(ctx, input)
}

func (d *BaseDevice) CopyFrom(ctx context.Context, input CopyInput) error {
	if d.transfer == nil {
		return ContentTransferf("no content transfer agent configured for device '%s'", d.ID())
	}
	return d.transfer.Receive(ctx, input)
}

func (d *BaseDevice) Close() error {
	var errs []error
	if d.transfer != nil {
		errs = append(errs, d.transfer.Close())
	}
	errs = append(errs, d.conn.Close())
	return errors.Join(errs...)
}
