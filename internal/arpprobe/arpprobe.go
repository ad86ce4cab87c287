// Package arpprobe probes an IPv4 address for a conflicting owner over ARP.
// It sends the probe queries of RFC 5227 with a zero sender address and
// watches for replies claiming the probed address.
package arpprobe

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/net/bpf"
)

// ARP packet constants for Ethernet/IPv4, see RFC 826.
const (
	hwTypeEthernet uint16 = 1
	protoTypeIPv4  uint16 = 0x0800
	hwAddrLen      uint8  = 6
	protoAddrLen   uint8  = 4
	opRequest      uint16 = 1
	opReply        uint16 = 2
	packetLen             = 28
	etherTypeARP   uint16 = 0x0806
	maxARPFrameLen        = 128
)

// errTruncated is returned when an ARP packet is shorter than the fixed
// Ethernet/IPv4 layout.
const errTruncated errors.Error = "truncated arp packet"

// errNotEtherIPv4 is returned for ARP packets of other address families.
const errNotEtherIPv4 errors.Error = "not an ethernet ipv4 arp packet"

// arpPacket is a decoded Ethernet/IPv4 ARP packet body.
type arpPacket struct {
	senderIP  netip.Addr
	targetIP  netip.Addr
	senderMAC net.HardwareAddr
	targetMAC net.HardwareAddr
	op        uint16
}

// marshal encodes p into the fixed 28-byte layout.
func (p *arpPacket) marshal() (data []byte) {
	data = make([]byte, packetLen)

	binary.BigEndian.PutUint16(data[0:2], hwTypeEthernet)
	binary.BigEndian.PutUint16(data[2:4], protoTypeIPv4)
	data[4] = hwAddrLen
	data[5] = protoAddrLen
	binary.BigEndian.PutUint16(data[6:8], p.op)

	copy(data[8:14], p.senderMAC)
	spa := p.senderIP.As4()
	copy(data[14:18], spa[:])

	copy(data[18:24], p.targetMAC)
	tpa := p.targetIP.As4()
	copy(data[24:28], tpa[:])

	return data
}

// parseARPPacket decodes an Ethernet/IPv4 ARP packet body.
func parseARPPacket(data []byte) (p *arpPacket, err error) {
	if len(data) < packetLen {
		return nil, errTruncated
	}

	if binary.BigEndian.Uint16(data[0:2]) != hwTypeEthernet ||
		binary.BigEndian.Uint16(data[2:4]) != protoTypeIPv4 ||
		data[4] != hwAddrLen ||
		data[5] != protoAddrLen {
		return nil, errNotEtherIPv4
	}

	return &arpPacket{
		op:        binary.BigEndian.Uint16(data[6:8]),
		senderMAC: net.HardwareAddr(data[8:14]),
		senderIP:  netip.AddrFrom4([4]byte(data[14:18])),
		targetMAC: net.HardwareAddr(data[18:24]),
		targetIP:  netip.AddrFrom4([4]byte(data[24:28])),
	}, nil
}

// newProbePacket returns the body of a conflict-detection probe for ip: an
// ARP request from mac with a zero sender address, so that the probe itself
// does not claim the address.
func newProbePacket(mac net.HardwareAddr, ip netip.Addr) (p *arpPacket, err error) {
	if !ip.Is4() {
		return nil, fmt.Errorf("probing %s: %w", ip, errors.ErrUnsupported)
	}

	return &arpPacket{
		op:        opRequest,
		senderMAC: mac,
		senderIP:  netip.AddrFrom4([4]byte{}),
		targetMAC: net.HardwareAddr{0, 0, 0, 0, 0, 0},
		targetIP:  ip,
	}, nil
}

// filterProgram returns the classic BPF program attached to the ARP socket:
// Ethernet ARP replies only.
func filterProgram() (prog []bpf.Instruction) {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(etherTypeARP), SkipFalse: 3},
		// The opcode is at offset 6 of the ARP body, past the 14-byte
		// Ethernet header.
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(opReply), SkipFalse: 1},
		bpf.RetConstant{Val: maxARPFrameLen},
		bpf.RetConstant{Val: 0},
	}
}
