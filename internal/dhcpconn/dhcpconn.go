// Package dhcpconn sends and receives DHCP datagrams on a single Ethernet
// interface through a raw packet socket, which works before the interface has
// any address configured.
package dhcpconn

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"golang.org/x/net/bpf"
)

// ipv4DefaultTTL is the default Time to Live value as recommended by RFC
// 1700.
const ipv4DefaultTTL = 64

// maxFrameLen is the longest frame the socket filter lets through.  It fits
// the largest DHCP message the client ever requests plus the headers.
const maxFrameLen = 1 << 12

// broadcastMAC is the Ethernet broadcast address.
var broadcastMAC = net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Metrics counts the transport-level events of the connection.  A nil
// implementation of an instance must be usable.
type Metrics interface {
	// DatagramDropped counts one received frame dropped before it could be
	// attributed to a DHCP message.
	DatagramDropped()
}

// buildFrame wraps pld with Ethernet, IPv4, and UDP headers addressed from
// the client port on src/srcMAC to the server port on dst/dstMAC.
func buildFrame(
	pld []byte,
	src netip.Addr,
	dst netip.Addr,
	srcMAC net.HardwareAddr,
	dstMAC net.HardwareAddr,
) (frame []byte, err error) {
	udpLayer := &layers.UDP{
		SrcPort: layers.UDPPort(dhcpc.ClientPort),
		DstPort: layers.UDPPort(dhcpc.ServerPort),
	}

	ipv4Layer := &layers.IPv4{
		Version:  4,
		Flags:    layers.IPv4DontFragment,
		TTL:      ipv4DefaultTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}

	// Ignore the error since it's only returned for invalid network layer's
	// type.
	_ = udpLayer.SetNetworkLayerForChecksum(ipv4Layer)

	ethLayer := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}

	buf := gopacket.NewSerializeBuffer()
	setts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	err = gopacket.SerializeLayers(buf, setts, ethLayer, ipv4Layer, udpLayer, gopacket.Payload(pld))
	if err != nil {
		return nil, fmt.Errorf("serializing layers: %w", err)
	}

	return buf.Bytes(), nil
}

// parseFrame extracts the DHCP payload and the sender identity from a
// received Ethernet frame.  Frames that are not a UDP datagram for the client
// port are rejected.
func parseFrame(frame []byte) (pkt *dhcpc.Packet, err error) {
	parsed := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	if errLayer := parsed.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("decoding frame: %w", errLayer.Error())
	}

	ethLayer, _ := parsed.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	ipv4Layer, _ := parsed.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	udpLayer, _ := parsed.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if ethLayer == nil || ipv4Layer == nil || udpLayer == nil {
		return nil, fmt.Errorf("decoding frame: %w", errNotUDPv4)
	}

	if p := uint16(udpLayer.DstPort); p != dhcpc.ClientPort {
		return nil, fmt.Errorf("unexpected destination port %d", p)
	}

	src, ok := netip.AddrFromSlice(ipv4Layer.SrcIP.To4())
	if !ok {
		return nil, fmt.Errorf("bad source address %s", ipv4Layer.SrcIP)
	}

	return &dhcpc.Packet{
		Src:     src,
		SrcMAC:  ethLayer.SrcMAC,
		Payload: udpLayer.Payload,
		SrcPort: uint16(udpLayer.SrcPort),
	}, nil
}

// errNotUDPv4 is returned by [parseFrame] for frames without the full
// Ethernet/IPv4/UDP header chain.
const errNotUDPv4 errors.Error = "not an ipv4 udp frame"

// filterProgram returns the classic BPF program attached to the packet
// socket: IPv4, UDP, not a fragment, destination port clientPort.
func filterProgram(clientPort uint16) (prog []bpf.Instruction) {
	return []bpf.Instruction{
		// Load the EtherType and check that the frame carries IPv4.
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.EthernetTypeIPv4), SkipFalse: 8},
		// Load the IPv4 protocol and check that it is UDP.
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.IPProtocolUDP), SkipFalse: 6},
		// Reject fragments with a nonzero offset, as the UDP header is only
		// in the first one.
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1FFF, SkipTrue: 4},
		// Load the UDP destination port, at a variable offset due to IPv4
		// options.
		bpf.LoadMemShift{Off: 14},
		bpf.LoadIndirect{Off: 16, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(clientPort), SkipFalse: 1},
		bpf.RetConstant{Val: maxFrameLen},
		bpf.RetConstant{Val: 0},
	}
}
