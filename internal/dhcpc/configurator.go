package dhcpc

import (
	"context"
	"net/netip"
)

// Configurator applies the negotiated configuration to the interface and
// removes it again.  Errors are logged by the client and do not change the
// protocol state, since a lease stays valid regardless of whether the host
// managed to use it.
type Configurator interface {
	// ApplyAddr assigns addr to the interface, replacing any address
	// previously assigned through this Configurator.
	ApplyAddr(ctx context.Context, addr netip.Prefix) (err error)

	// RemoveAddr removes the assigned address, if any.
	RemoveAddr(ctx context.Context) (err error)

	// ApplyGateway sets gw as the default gateway, replacing any previous
	// one set through this Configurator.
	ApplyGateway(ctx context.Context, gw netip.Addr) (err error)

	// RemoveGateway removes the default gateway, if any.
	RemoveGateway(ctx context.Context) (err error)
}

// type check
var _ Configurator = EmptyConfigurator{}

// EmptyConfigurator is a [Configurator] that does nothing.
type EmptyConfigurator struct{}

// ApplyAddr implements the [Configurator] interface for EmptyConfigurator.
func (EmptyConfigurator) ApplyAddr(_ context.Context, _ netip.Prefix) (err error) { return nil }

// RemoveAddr implements the [Configurator] interface for EmptyConfigurator.
func (EmptyConfigurator) RemoveAddr(_ context.Context) (err error) { return nil }

// ApplyGateway implements the [Configurator] interface for EmptyConfigurator.
func (EmptyConfigurator) ApplyGateway(_ context.Context, _ netip.Addr) (err error) { return nil }

// RemoveGateway implements the [Configurator] interface for EmptyConfigurator.
func (EmptyConfigurator) RemoveGateway(_ context.Context) (err error) { return nil }
