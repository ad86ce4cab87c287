//go:build linux

package arpprobe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Prober sends ARP probes and observes replies on one interface.
type Prober struct {
	logger *slog.Logger
	conn   *packet.Conn
	mac    net.HardwareAddr
}

// Config is the configuration of the ARP prober.
type Config struct {
	// Logger is used to log the operation of the prober.  It must not be
	// nil.
	Logger *slog.Logger

	// Interface is the managed network interface.  It must not be nil.
	Interface *net.Interface
}

// Listen opens the ARP packet socket on the configured interface.
func Listen(conf *Config) (p *Prober, err error) {
	defer func() { err = errors.Annotate(err, "arpprobe: %w") }()

	err = errors.Join(
		validate.NotNil("conf.Logger", conf.Logger),
		validate.NotNil("conf.Interface", conf.Interface),
	)
	if err != nil {
		return nil, err
	}

	pc, err := packet.Listen(conf.Interface, packet.Raw, unix.ETH_P_ARP, nil)
	if err != nil {
		return nil, fmt.Errorf("opening packet socket: %w", err)
	}

	prog, err := bpf.Assemble(filterProgram())
	if err != nil {
		return nil, fmt.Errorf("assembling filter: %w", err)
	}

	err = pc.SetBPF(prog)
	if err != nil {
		return nil, fmt.Errorf("attaching filter: %w", err)
	}

	return &Prober{
		logger: conf.Logger,
		conn:   pc,
		mac:    conf.Interface.HardwareAddr,
	}, nil
}

// SendARPQuery broadcasts one conflict-detection probe for ip.
func (p *Prober) SendARPQuery(ip netip.Addr) (err error) {
	defer func() { err = errors.Annotate(err, "arpprobe: probing %s: %w", ip) }()

	pkt, err := newProbePacket(p.mac, ip)
	if err != nil {
		return err
	}

	frame := &ethernet.Frame{
		Destination: ethernet.Broadcast,
		Source:      p.mac,
		EtherType:   ethernet.EtherTypeARP,
		Payload:     pkt.marshal(),
	}

	data, err := frame.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	_, err = p.conn.WriteTo(data, &packet.Addr{HardwareAddr: ethernet.Broadcast})

	return err
}

// ReplyHandler is a function to which observed ARP replies are delivered.
// senderIP is the address the reply claims, senderMAC is the claiming host.
type ReplyHandler func(ctx context.Context, senderIP netip.Addr, senderMAC net.HardwareAddr)

// Serve reads ARP replies from the socket and delivers them to h until the
// socket is closed or ctx is canceled.
func (p *Prober) Serve(ctx context.Context, h ReplyHandler) (err error) {
	defer slogutil.RecoverAndLog(ctx, p.logger)

	for ctx.Err() == nil {
		// Replies may be retained by the handler, so each read gets its own
		// buffer.
		buf := make([]byte, maxARPFrameLen)

		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("arpprobe: reading frame: %w", err)
		}

		frame := &ethernet.Frame{}
		err = frame.UnmarshalBinary(buf[:n])
		if err != nil || frame.EtherType != ethernet.EtherTypeARP {
			continue
		}

		pkt, err := parseARPPacket(frame.Payload)
		if err != nil || pkt.op != opReply {
			continue
		}

		h(ctx, pkt.senderIP, pkt.senderMAC)
	}

	return ctx.Err()
}

// Close closes the underlying socket.
func (p *Prober) Close() (err error) {
	return errors.Annotate(p.conn.Close(), "arpprobe: closing: %w")
}
