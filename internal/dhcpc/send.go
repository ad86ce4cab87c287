package dhcpc

import (
	"context"
	"math"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// broadcastAddr is the limited IPv4 broadcast address.
var broadcastAddr = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// requestedParams is the parameter request list sent in every message except
// Decline.
var requestedParams = []dhcpv4.OptionCode{
	dhcpv4.OptionSubnetMask,
	dhcpv4.OptionRouter,
	dhcpv4.OptionDomainNameServer,
	dhcpv4.OptionIPAddressLeaseTime,
	dhcpv4.OptionRenewTimeValue,
	dhcpv4.OptionRebindingTimeValue,
}

// declineMessage is the diagnostic sent in the message option of a Decline.
const declineMessage = "address conflict detected by arp probe"

// defaultMaxMessageSize is the maximum-message-size option value used when
// the interface does not report a usable MTU.
const defaultMaxMessageSize uint16 = 1500

// newMessage assembles an outbound message of type mt with the common header
// fields and options.  The per-type options and addresses are up to the
// caller.
func (c *Client) newMessage(mt dhcpv4.MessageType) (m *dhcpv4.DHCPv4) {
	m = errors.Must(dhcpv4.New(
		dhcpv4.WithTransactionID(c.xid),
		dhcpv4.WithHwAddr(c.mac),
	))

	m.UpdateOption(dhcpv4.OptMessageType(mt))

	if len(c.clientID) > 0 {
		m.UpdateOption(dhcpv4.OptClientIdentifier(c.clientID))
	}

	if mt == dhcpv4.MessageTypeDecline {
		return m
	}

	if len(c.vendorClassID) > 0 {
		m.UpdateOption(dhcpv4.OptClassIdentifier(string(c.vendorClassID)))
	}

	m.UpdateOption(dhcpv4.OptMaxMessageSize(c.maxMessageSize()))
	m.UpdateOption(dhcpv4.OptParameterRequestList(requestedParams...))

	return m
}

// maxMessageSize returns the value for the maximum-message-size option,
// derived from the interface MTU.
func (c *Client) maxMessageSize() (size uint16) {
	mtu := c.link.MTU()
	if mtu == 0 || mtu > math.MaxUint16 {
		return defaultMaxMessageSize
	}

	return uint16(mtu)
}

// sendDiscover broadcasts a discover from the unspecified address.
func (c *Client) sendDiscover(ctx context.Context) {
	m := c.newMessage(dhcpv4.MessageTypeDiscover)

	c.send(ctx, m, netip.IPv4Unspecified(), broadcastAddr, nil)
}

// sendRequest sends the request appropriate to the current state, which must
// be Requesting, Rebooting, Renewing, or Rebinding.
func (c *Client) sendRequest(ctx context.Context) {
	m := c.newMessage(dhcpv4.MessageTypeRequest)

	src := netip.IPv4Unspecified()
	dst := broadcastAddr
	var dstMAC net.HardwareAddr

	if c.state == StateRequesting {
		m.UpdateOption(dhcpv4.OptServerIdentifier(net.IP(c.info.ServerID.AsSlice())))
	}

	if c.state == StateRenewing {
		// Renewal goes to the leasing server directly.
		dst = c.info.ServerAddr
		dstMAC = c.info.ServerMAC
	}

	switch c.state {
	case StateRequesting, StateRebooting:
		m.UpdateOption(dhcpv4.OptRequestedIPAddress(net.IP(c.info.IP.AsSlice())))
	default:
		// In Renewing and Rebinding the held address goes into ciaddr
		// instead, see RFC 2131, section 4.3.2.
		m.ClientIPAddr = net.IP(c.info.IP.AsSlice())
		src = c.info.IP
	}

	c.send(ctx, m, src, dst, dstMAC)
}

// sendDecline broadcasts a decline of the conflicted address.
func (c *Client) sendDecline(ctx context.Context) {
	m := c.newMessage(dhcpv4.MessageTypeDecline)

	m.UpdateOption(dhcpv4.OptServerIdentifier(net.IP(c.info.ServerID.AsSlice())))
	m.UpdateOption(dhcpv4.OptRequestedIPAddress(net.IP(c.info.IP.AsSlice())))
	m.UpdateOption(dhcpv4.OptMessage(declineMessage))

	c.send(ctx, m, netip.IPv4Unspecified(), broadcastAddr, nil)
}

// send serializes and transmits m.  Send errors never change the protocol
// state: a deferred send is retried on the send-ready notification, and
// other errors are left to the retransmission timer.
func (c *Client) send(
	ctx context.Context,
	m *dhcpv4.DHCPv4,
	src netip.Addr,
	dst netip.Addr,
	dstMAC net.HardwareAddr,
) {
	// A retry of a previous message is pointless once a newer one is out.
	c.retryWanted = false

	err := c.transport.Send(m.ToBytes(), src, dst, dstMAC)

	mt := m.MessageType()
	switch {
	case errors.Is(err, ErrDeferredSend):
		c.retryWanted = true

		c.logger.DebugContext(ctx, "send deferred", "type", mt)
	case err != nil:
		c.logger.ErrorContext(ctx, "sending message", "type", mt, slogutil.KeyError, err)
	default:
		c.logger.DebugContext(ctx, "sent message", "type", mt, "dst", dst)
	}
}
