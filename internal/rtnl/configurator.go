//go:build linux

package rtnl

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Configurator applies the negotiated address and default route to one
// interface over rtnetlink.  It implements the [dhcpc.Configurator]
// interface.
type Configurator struct {
	logger *slog.Logger
	conn   *netlink.Conn

	// mu protects applied and appliedGW.
	mu *sync.Mutex

	// applied is the address assigned through this configurator, to be
	// removed on [Configurator.RemoveAddr].
	applied netip.Prefix

	// appliedGW is the gateway set through this configurator.
	appliedGW netip.Addr

	ifIndex int
}

// ConfiguratorConfig is the configuration of the rtnetlink configurator.
type ConfiguratorConfig struct {
	// Logger is used to log the operation of the configurator.  It must not
	// be nil.
	Logger *slog.Logger

	// InterfaceIndex is the index of the managed interface.  It must be
	// positive.
	InterfaceIndex int
}

// NewConfigurator dials a route netlink socket for applying configuration.
func NewConfigurator(conf *ConfiguratorConfig) (c *Configurator, err error) {
	defer func() { err = errors.Annotate(err, "rtnl: %w") }()

	err = errors.Join(
		validate.NotNil("conf.Logger", conf.Logger),
		validate.Positive("conf.InterfaceIndex", conf.InterfaceIndex),
	)
	if err != nil {
		return nil, err
	}

	nc, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing route netlink: %w", err)
	}

	return &Configurator{
		logger:  conf.Logger,
		conn:    nc,
		mu:      &sync.Mutex{},
		ifIndex: conf.InterfaceIndex,
	}, nil
}

// type check
var _ dhcpc.Configurator = (*Configurator)(nil)

// ApplyAddr implements the [dhcpc.Configurator] interface for *Configurator.
func (c *Configurator) ApplyAddr(ctx context.Context, addr netip.Prefix) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() { err = errors.Annotate(err, "rtnl: applying address %s: %w", addr) }()

	if prev := c.applied; prev.IsValid() && prev != addr {
		err = c.execute(unix.RTM_DELADDR, prev)
		if err != nil && !isNotFound(err) {
			c.logger.WarnContext(ctx, "removing previous address", "addr", prev, slogutil.KeyError, err)
		}
	}

	err = c.execute(unix.RTM_NEWADDR, addr)
	if err != nil {
		return err
	}

	c.applied = addr
	c.logger.DebugContext(ctx, "address applied", "addr", addr)

	return nil
}

// RemoveAddr implements the [dhcpc.Configurator] interface for *Configurator.
func (c *Configurator) RemoveAddr(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := c.applied
	if !addr.IsValid() {
		return nil
	}

	c.applied = netip.Prefix{}

	err = c.execute(unix.RTM_DELADDR, addr)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("rtnl: removing address %s: %w", addr, err)
	}

	c.logger.DebugContext(ctx, "address removed", "addr", addr)

	return nil
}

// ApplyGateway implements the [dhcpc.Configurator] interface for
// *Configurator.
func (c *Configurator) ApplyGateway(ctx context.Context, gw netip.Addr) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() { err = errors.Annotate(err, "rtnl: applying gateway %s: %w", gw) }()

	msg, err := newRouteMessage(unix.RTM_NEWROUTE, c.ifIndex, gw)
	if err != nil {
		return err
	}

	_, err = c.conn.Execute(msg)
	if err != nil {
		return err
	}

	c.appliedGW = gw
	c.logger.DebugContext(ctx, "gateway applied", "gw", gw)

	return nil
}

// RemoveGateway implements the [dhcpc.Configurator] interface for
// *Configurator.
func (c *Configurator) RemoveGateway(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gw := c.appliedGW
	if !gw.IsValid() {
		return nil
	}

	c.appliedGW = netip.Addr{}

	msg, err := newRouteMessage(unix.RTM_DELROUTE, c.ifIndex, gw)
	if err != nil {
		return fmt.Errorf("rtnl: removing gateway %s: %w", gw, err)
	}

	_, err = c.conn.Execute(msg)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("rtnl: removing gateway %s: %w", gw, err)
	}

	c.logger.DebugContext(ctx, "gateway removed", "gw", gw)

	return nil
}

// execute sends one address message of type typ for addr and awaits the
// acknowledgement.
func (c *Configurator) execute(typ netlink.HeaderType, addr netip.Prefix) (err error) {
	msg, err := newAddrMessage(typ, c.ifIndex, addr)
	if err != nil {
		return err
	}

	_, err = c.conn.Execute(msg)

	return err
}

// isNotFound reports whether err means that the address or route being
// removed did not exist, which removal treats as success.
func isNotFound(err error) (ok bool) {
	return errors.Is(err, unix.ENOENT) ||
		errors.Is(err, unix.ESRCH) ||
		errors.Is(err, unix.EADDRNOTAVAIL)
}

// Close closes the underlying netlink socket.
func (c *Configurator) Close() (err error) {
	return errors.Annotate(c.conn.Close(), "rtnl: closing configurator: %w")
}
