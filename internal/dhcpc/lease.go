package dhcpc

import (
	"net"
	"net/netip"
	"slices"
)

// Lease is the record of the currently offered or bound IPv4 lease.
type Lease struct {
	// IP is the candidate or leased address.  While the client is in
	// [StateLinkDown], a valid IP is the address to request through
	// [StateRebooting] once the link comes back up.
	IP netip.Addr

	// ServerID is the value of the server-identifier option from the offer
	// or acknowledgement.  It correlates requests and NAKs with the leasing
	// server.
	ServerID netip.Addr

	// ServerAddr is the IP source address of the acknowledging server.
	ServerAddr netip.Addr

	// Router is the default gateway, if any.  An invalid value means that no
	// usable router option was received.
	Router netip.Addr

	// DNS are the DNS servers, in the order received.
	DNS []netip.Addr

	// ServerMAC is the Ethernet source address of the acknowledgement,
	// used to unicast renewal requests.
	ServerMAC net.HardwareAddr

	// SubnetMask is the (possibly defaulted) contiguous subnet mask.
	SubnetMask net.IPMask

	// LeaseTime, RenewalTime, and RebindingTime are the protocol deadlines
	// in seconds since the acknowledged request was sent.  RenewalTime <=
	// RebindingTime <= LeaseTime.
	LeaseTime     uint32
	RenewalTime   uint32
	RebindingTime uint32
}

// Clone returns a deep copy of l.
func (l *Lease) Clone() (clone *Lease) {
	if l == nil {
		return nil
	}

	return &Lease{
		IP:            l.IP,
		ServerID:      l.ServerID,
		ServerAddr:    l.ServerAddr,
		Router:        l.Router,
		DNS:           slices.Clone(l.DNS),
		ServerMAC:     slices.Clone(l.ServerMAC),
		SubnetMask:    slices.Clone(l.SubnetMask),
		LeaseTime:     l.LeaseTime,
		RenewalTime:   l.RenewalTime,
		RebindingTime: l.RebindingTime,
	}
}

// Prefix returns the leased address with the prefix length of the subnet
// mask.
func (l *Lease) Prefix() (p netip.Prefix) {
	ones, _ := l.SubnetMask.Size()

	return netip.PrefixFrom(l.IP, ones)
}
