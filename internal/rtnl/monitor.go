//go:build linux

package rtnl

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Monitor watches the link state of one interface through the RTNLGRP_LINK
// multicast group.
type Monitor struct {
	logger *slog.Logger

	// watchConn receives the multicast link notifications.
	watchConn *netlink.Conn

	// queryConn serves the synchronous [Monitor.LinkUp] queries.
	queryConn *netlink.Conn

	ifIndex int
}

// MonitorConfig is the configuration of the link monitor.
type MonitorConfig struct {
	// Logger is used to log the operation of the monitor.  It must not be
	// nil.
	Logger *slog.Logger

	// InterfaceIndex is the index of the watched interface.  It must be
	// positive.
	InterfaceIndex int
}

// NewMonitor subscribes to link notifications for the configured interface.
func NewMonitor(conf *MonitorConfig) (m *Monitor, err error) {
	defer func() { err = errors.Annotate(err, "rtnl: %w") }()

	err = errors.Join(
		validate.NotNil("conf.Logger", conf.Logger),
		validate.Positive("conf.InterfaceIndex", conf.InterfaceIndex),
	)
	if err != nil {
		return nil, err
	}

	watch, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{
		Groups: unix.RTMGRP_LINK,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing route netlink for link group: %w", err)
	}

	query, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		err = errors.WithDeferred(fmt.Errorf("dialing route netlink: %w", err), watch.Close())

		return nil, err
	}

	return &Monitor{
		logger:    conf.Logger,
		watchConn: watch,
		queryConn: query,
		ifIndex:   conf.InterfaceIndex,
	}, nil
}

// LinkUp reports whether the watched interface currently has a carrier.
// Query failures are logged and reported as a down link, so that the client
// waits for a link notification instead of proceeding blindly.
func (m *Monitor) LinkUp() (up bool) {
	msgs, err := m.queryConn.Execute(newLinkGetMessage(m.ifIndex))
	if err != nil {
		m.logger.Error("querying link state", slogutil.KeyError, err)

		return false
	}

	for _, msg := range msgs {
		if msg.Header.Type != unix.RTM_NEWLINK {
			continue
		}

		idx, flags, err := parseIfInfomsg(msg.Data)
		if err != nil || idx != m.ifIndex {
			continue
		}

		return linkIsUp(flags)
	}

	return false
}

// LinkHandler is a function to which link state changes are delivered.
type LinkHandler func(ctx context.Context, up bool)

// Serve reads link notifications and delivers the state changes of the
// watched interface to h until the socket is closed or ctx is canceled.
// Notifications that do not change the up/down state are delivered too; the
// consumer is expected to deduplicate.
func (m *Monitor) Serve(ctx context.Context, h LinkHandler) (err error) {
	defer slogutil.RecoverAndLog(ctx, m.logger)

	for ctx.Err() == nil {
		msgs, err := m.watchConn.Receive()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("rtnl: receiving link notification: %w", err)
		}

		for _, msg := range msgs {
			m.handleMessage(ctx, msg, h)
		}
	}

	return ctx.Err()
}

// handleMessage delivers one link notification to h if it concerns the
// watched interface.
func (m *Monitor) handleMessage(ctx context.Context, msg netlink.Message, h LinkHandler) {
	switch msg.Header.Type {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		// Go on.
	default:
		return
	}

	idx, flags, err := parseIfInfomsg(msg.Data)
	if err != nil {
		m.logger.DebugContext(ctx, "bad link notification", slogutil.KeyError, err)

		return
	}

	if idx != m.ifIndex {
		return
	}

	up := msg.Header.Type == unix.RTM_NEWLINK && linkIsUp(flags)
	m.logger.DebugContext(ctx, "link notification", "up", up)

	h(ctx, up)
}

// Close closes the underlying netlink sockets.
func (m *Monitor) Close() (err error) {
	return errors.Annotate(
		errors.Join(m.watchConn.Close(), m.queryConn.Close()),
		"rtnl: closing monitor: %w",
	)
}
