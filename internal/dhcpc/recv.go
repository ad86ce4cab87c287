package dhcpc

import (
	"bytes"
	"context"
	"net/netip"
	"slices"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
)

// HandlePacket delivers a datagram received on the client port.  Messages
// that don't belong to the current exchange are dropped silently, since
// anyone on the link can send them.
func (c *Client) HandlePacket(ctx context.Context, pkt *Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || pkt.SrcPort != ServerPort {
		return
	}

	// A server replies from its own unicast address.
	src := pkt.Src
	if !src.IsValid() || src.IsUnspecified() || src.IsMulticast() || src == broadcastAddr {
		return
	}

	c.processMessage(ctx, pkt)
}

// processMessage parses and dispatches a plausibly addressed datagram.
func (c *Client) processMessage(ctx context.Context, pkt *Packet) {
	if !c.state.isAwaitingReply() {
		return
	}

	m, err := dhcpv4.FromBytes(pkt.Payload)
	if err != nil {
		c.logger.DebugContext(ctx, "dropping unparsable message", slogutil.KeyError, err)

		return
	}

	sane := m.OpCode == dhcpv4.OpcodeBootReply &&
		m.HWType == iana.HWTypeEthernet &&
		len(m.ClientHWAddr) == ethAddrLen &&
		bytes.Equal(m.ClientHWAddr, c.mac) &&
		m.TransactionID == c.xid
	if !sane {
		c.logger.DebugContext(ctx, "dropping message for another exchange", "xid", m.TransactionID)

		return
	}

	mt := m.MessageType()
	switch mt {
	case dhcpv4.MessageTypeOffer, dhcpv4.MessageTypeAck, dhcpv4.MessageTypeNak:
		// Go on.
	default:
		return
	}

	serverID, err := netutil.IPToAddr(m.ServerIdentifier(), netutil.AddrFamilyIPv4)
	if err != nil {
		c.logger.DebugContext(ctx, "dropping message without server id", "type", mt)

		return
	}

	switch {
	case mt == dhcpv4.MessageTypeNak:
		c.handleNak(ctx, serverID)
	case mt == dhcpv4.MessageTypeOffer && c.state == StateSelecting:
		c.handleOffer(ctx, m, serverID)
	case mt == dhcpv4.MessageTypeAck && c.state != StateSelecting:
		c.handleAck(ctx, pkt, m, serverID)
	}
}

// handleNak restarts the lease acquisition after a server refused the
// request.
func (c *Client) handleNak(ctx context.Context, serverID netip.Addr) {
	if c.state == StateSelecting {
		return
	}

	// When requesting an offer, only the offering server may refuse it.
	// In the other states any server speaks for the lease.
	if c.state == StateRequesting && serverID != c.info.ServerID {
		return
	}

	c.logger.InfoContext(ctx, "request refused by server", "state", c.state, "server", serverID)

	// A refused offer waits out the reset delay so that a server refusing
	// every request is not hammered with discoveries.  A refusal of a
	// held address restarts discovery at once.
	c.goResetting(ctx, c.state != StateRequesting)
}

// handleOffer accepts an offer and requests it.  The client only considers
// the first acceptable offer.
func (c *Client) handleOffer(ctx context.Context, m *dhcpv4.DHCPv4, serverID netip.Addr) {
	addr, err := netutil.IPToAddr(m.YourIPAddr, netutil.AddrFamilyIPv4)
	if err != nil || !checkOffer(addr) {
		c.logger.DebugContext(ctx, "dropping offer", "ip", m.YourIPAddr)

		return
	}

	c.info.IP = addr
	c.info.ServerID = serverID

	c.setState(ctx, StateRequesting)

	// The request keeps the transaction of the discovery, and the lease
	// deadlines count from this first request.
	c.requestSendTime = c.clock.Now()
	c.sendRequest(ctx)

	c.requestCount = 1
	c.rtxTimeoutSec = c.baseRtxSec
	c.armTimerRtx()
}

// handleAck stores the acknowledged lease and moves on to checking or using
// it.
func (c *Client) handleAck(
	ctx context.Context,
	pkt *Packet,
	m *dhcpv4.DHCPv4,
	serverID netip.Addr,
) {
	addr, err := netutil.IPToAddr(m.YourIPAddr, netutil.AddrFamilyIPv4)
	if err != nil {
		return
	}

	info, ok := c.checkAck(m, addr)
	if !ok {
		c.logger.DebugContext(ctx, "dropping invalid ack", "ip", m.YourIPAddr)

		return
	}

	switch c.state {
	case StateRequesting:
		// The acknowledgement must match the offer being requested.
		if addr != c.info.IP || serverID != c.info.ServerID {
			return
		}
	case StateRenewing, StateRebinding:
		// An acknowledgement of a request sent longer ago than the
		// timer can measure would corrupt the deadline bookkeeping.
		if c.leaseTimePassed-c.requestSendTimePassed > c.maxTimerSec {
			c.logger.DebugContext(ctx, "dropping stale ack")

			return
		}
	default:
		// In Rebooting any server may confirm the remembered address.
	}

	c.info.IP = addr
	c.info.ServerID = serverID
	c.info.ServerAddr = pkt.Src
	c.info.ServerMAC = slices.Clone(pkt.SrcMAC)
	c.info.SubnetMask = info.mask
	c.info.Router = info.router
	c.info.DNS = info.dns
	c.info.LeaseTime = info.leaseTime
	c.info.RenewalTime = info.renewalTime
	c.info.RebindingTime = info.rebindingTime

	if c.state == StateRequesting {
		c.goChecking(ctx)
	} else {
		c.goBound(ctx)
	}
}
