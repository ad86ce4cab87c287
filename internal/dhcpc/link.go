package dhcpc

import (
	"net"
	"net/netip"
)

// LinkLayer gives the client access to the Ethernet facilities of the
// managed interface.
type LinkLayer interface {
	// MAC returns the hardware address of the interface.
	MAC() (mac net.HardwareAddr)

	// MTU returns the IP MTU of the interface in bytes.
	MTU() (mtu uint32)

	// LinkUp reports whether the interface currently has a carrier.  It is
	// only consulted at startup; later changes are delivered through
	// [Client.HandleLinkChange].
	LinkUp() (ok bool)

	// SendARPQuery broadcasts an ARP request for ip.  Replies are delivered
	// through [Client.HandleARPReply].
	SendARPQuery(ip netip.Addr) (err error)
}

// type check
var _ LinkLayer = EmptyLinkLayer{}

// EmptyLinkLayer is a [LinkLayer] that does nothing and reports the link as
// up.
type EmptyLinkLayer struct{}

// MAC implements the [LinkLayer] interface for EmptyLinkLayer.
func (EmptyLinkLayer) MAC() (mac net.HardwareAddr) { return net.HardwareAddr{0, 0, 0, 0, 0, 0} }

// MTU implements the [LinkLayer] interface for EmptyLinkLayer.
func (EmptyLinkLayer) MTU() (mtu uint32) { return 1500 }

// LinkUp implements the [LinkLayer] interface for EmptyLinkLayer.
func (EmptyLinkLayer) LinkUp() (ok bool) { return true }

// SendARPQuery implements the [LinkLayer] interface for EmptyLinkLayer.
func (EmptyLinkLayer) SendARPQuery(_ netip.Addr) (err error) { return nil }
