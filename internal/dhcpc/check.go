package dhcpc

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/netutil"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// checkOffer reports whether addr is acceptable as an offered or acknowledged
// address.  Unspecified, broadcast, loopback, and multicast addresses are
// not.
func checkOffer(addr netip.Addr) (ok bool) {
	switch {
	case
		!addr.IsValid(),
		addr.IsUnspecified(),
		addr == broadcastAddr,
		addr.IsLoopback(),
		addr.IsMulticast():
		return false
	default:
		return true
	}
}

// ackInfo is the validated and defaulted addressing information of an
// acknowledgement.
type ackInfo struct {
	router        netip.Addr
	dns           []netip.Addr
	mask          net.IPMask
	leaseTime     uint32
	renewalTime   uint32
	rebindingTime uint32
}

// checkAck validates the acknowledgement m assigning the address addr and
// computes the defaulted lease parameters.  ok is false if m must be
// ignored.
func (c *Client) checkAck(m *dhcpv4.DHCPv4, addr netip.Addr) (info *ackInfo, ok bool) {
	if !checkOffer(addr) {
		return nil, false
	}

	// A lease time is required.  The options below it all have usable
	// defaults.
	if !m.Options.Has(dhcpv4.OptionIPAddressLeaseTime) {
		return nil, false
	}

	info = &ackInfo{
		leaseTime: durToSec(m.IPAddressLeaseTime(0)),
	}

	var mask net.IPMask
	if m.Options.Has(dhcpv4.OptionSubnetMask) {
		mask = m.SubnetMask()
	} else if mask = defaultMask(addr); mask == nil {
		return nil, false
	}

	// Size is (0, 0) for masks with interleaved zero bits.
	if _, bits := mask.Size(); bits != net.IPv4len*8 {
		return nil, false
	}

	// The address must remain distinguishable from the subnet broadcast.
	if addr == subnetBroadcast(addr, mask) {
		return nil, false
	}

	info.mask = mask

	if routers := m.Router(); len(routers) > 0 {
		router, err := netutil.IPToAddr(routers[0], netutil.AddrFamilyIPv4)
		if err == nil && sameSubnet(router, addr, mask) {
			info.router = router
		}

		// A router outside the assigned subnet is unreachable, so it
		// is treated like no router at all.
	}

	for _, ip := range m.DNS() {
		if len(info.dns) >= c.maxDNSServers {
			break
		}

		server, err := netutil.IPToAddr(ip, netutil.AddrFamilyIPv4)
		if err == nil {
			info.dns = append(info.dns, server)
		}
	}

	info.renewalTime = info.leaseTime / 2
	if m.Options.Has(dhcpv4.OptionRenewTimeValue) {
		info.renewalTime = durToSec(m.IPAddressRenewalTime(0))
	}

	info.renewalTime = min(info.renewalTime, info.leaseTime)

	// 7/8 of the lease time, computed without overflow.
	info.rebindingTime = uint32(uint64(info.leaseTime) * 7 / 8)
	if m.Options.Has(dhcpv4.OptionRebindingTimeValue) {
		info.rebindingTime = durToSec(m.IPAddressRebindingTime(0))
	}

	info.rebindingTime = max(info.renewalTime, min(info.rebindingTime, info.leaseTime))

	return info, true
}

// defaultMask returns the classful mask for addr, or nil if addr is in a
// class with no default.
func defaultMask(addr netip.Addr) (mask net.IPMask) {
	switch b := addr.As4()[0]; {
	case b < 128:
		return net.CIDRMask(8, 32)
	case b < 192:
		return net.CIDRMask(16, 32)
	case b < 224:
		return net.CIDRMask(24, 32)
	default:
		return nil
	}
}

// subnetBroadcast returns the broadcast address of the subnet containing
// addr.  mask must be a four-byte mask.
func subnetBroadcast(addr netip.Addr, mask net.IPMask) (bcast netip.Addr) {
	a4 := addr.As4()
	u := binary.BigEndian.Uint32(a4[:]) | ^binary.BigEndian.Uint32(mask)
	binary.BigEndian.PutUint32(a4[:], u)

	return netip.AddrFrom4(a4)
}

// sameSubnet reports whether a and b are in one subnet under mask.  mask
// must be a four-byte mask.
func sameSubnet(a netip.Addr, b netip.Addr, mask net.IPMask) (ok bool) {
	a4, b4 := a.As4(), b.As4()
	m := binary.BigEndian.Uint32(mask)

	return binary.BigEndian.Uint32(a4[:])&m == binary.BigEndian.Uint32(b4[:])&m
}
