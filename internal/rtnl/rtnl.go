//go:build linux

// Package rtnl applies address and route configuration to a network
// interface and watches its link state, over the rtnetlink protocol.
package rtnl

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

// errNotIPv4 is returned when a configured value is not an IPv4 address.
const errNotIPv4 errors.Error = "not an ipv4 address"

// Sizes of the fixed rtnetlink message headers.
const (
	sizeofIfAddrmsg = 8
	sizeofRtMsg     = 12
	sizeofIfInfomsg = 16
)

// marshalIfAddrmsg encodes the ifaddrmsg header for an IPv4 address with
// prefix length prefixLen on the interface with index ifIndex.
func marshalIfAddrmsg(ifIndex int, prefixLen int) (data []byte) {
	data = make([]byte, sizeofIfAddrmsg)

	data[0] = unix.AF_INET
	data[1] = uint8(prefixLen)
	// flags and scope are left zero: IFA_F_PERMANENT semantics are implied
	// for addresses added without a valid lifetime.
	nlenc.PutUint32(data[4:8], uint32(ifIndex))

	return data
}

// newAddrMessage returns an RTM_NEWADDR or RTM_DELADDR message assigning or
// removing addr on the interface with index ifIndex.
func newAddrMessage(typ netlink.HeaderType, ifIndex int, addr netip.Prefix) (msg netlink.Message, err error) {
	ip := addr.Addr()
	if !ip.Is4() {
		return netlink.Message{}, fmt.Errorf("address %s: %w", ip, errNotIPv4)
	}

	flags := netlink.Request | netlink.Acknowledge
	if typ == unix.RTM_NEWADDR {
		flags |= netlink.Create | netlink.Replace
	}

	ae := netlink.NewAttributeEncoder()
	ip4 := ip.As4()
	ae.Bytes(unix.IFA_LOCAL, ip4[:])
	ae.Bytes(unix.IFA_ADDRESS, ip4[:])

	bcast := subnetBroadcast(addr)
	ae.Bytes(unix.IFA_BROADCAST, bcast[:])

	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("encoding address attributes: %w", err)
	}

	return netlink.Message{
		Header: netlink.Header{
			Type:  typ,
			Flags: flags,
		},
		Data: append(marshalIfAddrmsg(ifIndex, addr.Bits()), attrs...),
	}, nil
}

// subnetBroadcast returns the broadcast address of the subnet of addr.
func subnetBroadcast(addr netip.Prefix) (bcast [4]byte) {
	bcast = addr.Addr().As4()

	u := binary.BigEndian.Uint32(bcast[:])
	u |= ^uint32(0) >> addr.Bits()
	binary.BigEndian.PutUint32(bcast[:], u)

	return bcast
}

// marshalRtMsg encodes the rtmsg header of a default IPv4 route.
func marshalRtMsg() (data []byte) {
	data = make([]byte, sizeofRtMsg)

	data[0] = unix.AF_INET
	// dst_len, src_len, and tos are zero: the default route.
	data[4] = unix.RT_TABLE_MAIN
	data[5] = unix.RTPROT_DHCP
	data[6] = unix.RT_SCOPE_UNIVERSE
	data[7] = unix.RTN_UNICAST

	return data
}

// newRouteMessage returns an RTM_NEWROUTE or RTM_DELROUTE message setting or
// removing the default route through gw on the interface with index ifIndex.
func newRouteMessage(typ netlink.HeaderType, ifIndex int, gw netip.Addr) (msg netlink.Message, err error) {
	if !gw.Is4() {
		return netlink.Message{}, fmt.Errorf("gateway %s: %w", gw, errNotIPv4)
	}

	flags := netlink.Request | netlink.Acknowledge
	if typ == unix.RTM_NEWROUTE {
		flags |= netlink.Create | netlink.Replace
	}

	ae := netlink.NewAttributeEncoder()
	gw4 := gw.As4()
	ae.Bytes(unix.RTA_GATEWAY, gw4[:])
	ae.Uint32(unix.RTA_OIF, uint32(ifIndex))

	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("encoding route attributes: %w", err)
	}

	return netlink.Message{
		Header: netlink.Header{
			Type:  typ,
			Flags: flags,
		},
		Data: append(marshalRtMsg(), attrs...),
	}, nil
}

// newLinkGetMessage returns an RTM_GETLINK message querying the interface
// with index ifIndex.
func newLinkGetMessage(ifIndex int) (msg netlink.Message) {
	data := make([]byte, sizeofIfInfomsg)
	data[0] = unix.AF_UNSPEC
	nlenc.PutUint32(data[4:8], uint32(ifIndex))

	return netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_GETLINK,
			Flags: netlink.Request,
		},
		Data: data,
	}
}

// parseIfInfomsg extracts the interface index and flags from an ifinfomsg
// header.
func parseIfInfomsg(data []byte) (ifIndex int, ifFlags uint32, err error) {
	if len(data) < sizeofIfInfomsg {
		return 0, 0, fmt.Errorf("ifinfomsg too short: %d bytes", len(data))
	}

	return int(nlenc.Uint32(data[4:8])), nlenc.Uint32(data[8:12]), nil
}

// linkIsUp reports whether ifFlags describe an operational link with a
// carrier.
func linkIsUp(ifFlags uint32) (up bool) {
	const mask = unix.IFF_RUNNING | unix.IFF_LOWER_UP

	return ifFlags&mask == mask
}
