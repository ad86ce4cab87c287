package cmd

import (
	"net"
	"net/netip"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/lanstead/dhcpc/internal/arpprobe"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/lanstead/dhcpc/internal/dhcpconn"
	"github.com/lanstead/dhcpc/internal/metrics"
	"github.com/lanstead/dhcpc/internal/rtnl"
)

// ifaceLink composes the Ethernet facilities of the managed interface from
// the ARP prober and the link monitor.
type ifaceLink struct {
	iface   *net.Interface
	prober  *arpprobe.Prober
	monitor *rtnl.Monitor
}

// type check
var _ dhcpc.LinkLayer = (*ifaceLink)(nil)

// MAC returns the hardware address of the interface.
func (l *ifaceLink) MAC() (mac net.HardwareAddr) { return l.iface.HardwareAddr }

// MTU returns the maximum transmission unit of the interface.
func (l *ifaceLink) MTU() (mtu uint32) { return uint32(l.iface.MTU) }

// LinkUp reports whether the interface link is up.
func (l *ifaceLink) LinkUp() (ok bool) { return l.monitor.LinkUp() }

// SendARPQuery broadcasts an ARP probe of ip.
func (l *ifaceLink) SendARPQuery(ip netip.Addr) (err error) { return l.prober.SendARPQuery(ip) }

// measuredTransport counts the DHCP messages going through the packet
// connection by their message type.
type measuredTransport struct {
	conn    *dhcpconn.Conn
	metrics *metrics.Recorder
}

// type check
var _ dhcpc.Transport = (*measuredTransport)(nil)

// Send sends the datagram and, on success, counts it.
func (t *measuredTransport) Send(
	pld []byte,
	src netip.Addr,
	dst netip.Addr,
	dstMAC net.HardwareAddr,
) (err error) {
	err = t.conn.Send(pld, src, dst, dstMAC)
	if err != nil {
		return err
	}

	t.metrics.MessageSent(msgTypeLabel(pld))

	return nil
}

// msgTypeLabel returns the metrics label for the message type of the
// serialized DHCP message.
func msgTypeLabel(pld []byte) (label string) {
	m, err := dhcpv4.FromBytes(pld)
	if err != nil {
		return "INVALID"
	}

	return m.MessageType().String()
}
