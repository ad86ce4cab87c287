package dhcpc

import (
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// Standard ports of the DHCP protocol for IPv4.
const (
	ClientPort uint16 = 68
	ServerPort uint16 = 67
)

// ErrDeferredSend is returned, optionally wrapped, by [Transport.Send] when
// the message cannot be sent right away but the transport will become ready
// later.  The host must deliver [Client.HandleSendReady] exactly once when
// that happens, and the client then retransmits the message appropriate to
// its state at that point.
const ErrDeferredSend errors.Error = "send deferred"

// Transport sends DHCP datagrams for the client and delivers received ones
// back to it.  Sends always go from [ClientPort] to [ServerPort].
// Implementations must be able to send from the unspecified source address
// and to the broadcast address, since the client has no usable address for
// most of the exchange.
type Transport interface {
	// Send transmits pld as the payload of a single datagram.  src is the
	// IPv4 source address, usually unspecified.  dstMAC is the link-layer
	// destination; a nil dstMAC means broadcast.
	Send(pld []byte, src, dst netip.Addr, dstMAC net.HardwareAddr) (err error)
}

// type check
var _ Transport = EmptyTransport{}

// EmptyTransport is a [Transport] that does nothing.
type EmptyTransport struct{}

// Send implements the [Transport] interface for EmptyTransport.
func (EmptyTransport) Send(_ []byte, _, _ netip.Addr, _ net.HardwareAddr) (err error) {
	return nil
}

// Packet is a received DHCP datagram together with its transport-level
// source identity.
type Packet struct {
	// Src is the IP source address of the datagram.
	Src netip.Addr

	// SrcMAC is the Ethernet source address of the frame carrying the
	// datagram.
	SrcMAC net.HardwareAddr

	// Payload is the DHCP message itself.
	Payload []byte

	// SrcPort is the UDP source port.
	SrcPort uint16
}
