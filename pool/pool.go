// Package pool defines the device pool contract: the data model shared by
// all back-ends, the provision and reservation services, the collaborator
// interfaces for connections and content transfer, and the BasePool
// composition that turns reservations into usable devices.
package pool

import (
	"context"
	"errors"
)

// Config wires a BasePool from its four collaborators. Provisions,
// Reservations and Connections are required; a single back-end value may
// serve as both provision and reservation service. Transfers is optional:
// without it, obtained devices refuse content transfer.
type Config struct {
	Provisions   ProvisionService
	Reservations ReservationService
	Connections  ConnectionFactory
	Transfers    ContentTransferAgentFactory
}

// BasePool composes a provisioning back-end with connection and transfer
// factories. It owns its collaborators: Close closes all of them.
type BasePool struct {
	config Config
}

// New validates the configuration and builds a pool.
func New(config Config) (*BasePool, error) {
	if config.Provisions == nil {
		return nil, InvalidInputf("a provision service is required")
	}
	if config.Reservations == nil {
		return nil, InvalidInputf("a reservation service is required")
	}
	if config.Connections == nil {
		return nil, InvalidInputf("a connection factory is required")
	}
	return &BasePool{config: config}, nil
}

// Provision accepts a request for devices. How long the call takes depends
// on the back-end (see ProvisionService); poll Describe until the output
// reaches a terminal status.
func (p *BasePool) Provision(ctx context.Context, input ProvisionInput) (ProvisionOutput, error) {
	return p.config.Provisions.Provision(ctx, input)
}

// Describe snapshots the current state of a provision.
func (p *BasePool) Describe(ctx context.Context, output ProvisionOutput) (ProvisionOutput, error) {
	return p.config.Provisions.Describe(ctx, output)
}

// Release frees all devices held by the provision.
func (p *BasePool) Release(ctx context.Context, output ProvisionOutput) (int, error) {
	return p.config.Provisions.Release(ctx, output)
}

// Extend pushes the provision expiry further into the future.
func (p *BasePool) Extend(ctx context.Context, output ProvisionOutput) error {
	return p.config.Provisions.Extend(ctx, output)
}

// Obtain exchanges every succeeded reservation of the provision for a
// connected Device. Collaborator failures surface as ProvisioningError;
// devices already built when a later one fails are closed before returning.
func (p *BasePool) Obtain(ctx context.Context, output ProvisionOutput) ([]Device, error) {
	var devices []Device

	fail := func(err error) ([]Device, error) {
		for _, device := range devices {
			_ = device.Close()
		}
		return nil, NewProvisioningError(err)
	}

	for _, reservation := range output.Succeeded() {
		host, err := p.config.Reservations.Exchange(ctx, reservation)
		if err != nil {
			return fail(err)
		}

		conn, err := p.config.Connections.Connect(ctx, host)
		if err != nil {
			return fail(err)
		}

		var agent ContentTransferAgent
		if p.config.Transfers != nil {
			agent, err = p.config.Transfers.Connect(ctx, output.ID, conn, host)
			if err != nil {
				_ = conn.Close()
				return fail(err)
			}
		}

		devices = append(devices, &BaseDevice{host: host, conn: conn, transfer: agent})
	}

	return devices, nil
}

// Close shuts down every collaborator. Safe to call more than once as long
// as the collaborators tolerate it; the shipped back-ends do.
func (p *BasePool) Close() error {
	errs := []error{
		p.config.Provisions.Close(),
		p.config.Connections.Close(),
	}
	// The same value often implements both services; don't close it twice.
	if any(p.config.Reservations) != any(p.config.Provisions) {
		errs = append(errs, p.config.Reservations.Close())
	}
	if p.config.Transfers != nil {
		errs = append(errs, p.config.Transfers.Close())
	}
	return errors.Join(errs...)
}
