//go:build linux

package dhcpconn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/mdlayher/packet"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// sendRetryDelay is how long after a deferred send the ready notification is
// scheduled.
const sendRetryDelay = 100 * time.Millisecond

// Conn is a DHCP transport on top of an AF_PACKET socket.  It implements the
// [dhcpc.Transport] interface.
type Conn struct {
	logger  *slog.Logger
	conn    *packet.Conn
	metrics Metrics

	// ready delivers one notification per deferred send once sending is
	// worth retrying.
	ready chan struct{}

	mac     net.HardwareAddr
	ifIndex int
}

// Config is the configuration of the DHCP transport.
type Config struct {
	// Logger is used to log the operation of the connection.  It must not be
	// nil.
	Logger *slog.Logger

	// Interface is the managed network interface.  It must not be nil.
	Interface *net.Interface

	// Metrics counts the transport events.  It must not be nil, though it
	// may be a no-op.
	Metrics Metrics
}

// Listen opens the packet socket on the configured interface and attaches
// the DHCP client filter to it.
func Listen(conf *Config) (c *Conn, err error) {
	defer func() { err = errors.Annotate(err, "dhcpconn: %w") }()

	err = errors.Join(
		validate.NotNil("conf.Logger", conf.Logger),
		validate.NotNil("conf.Interface", conf.Interface),
	)
	if err != nil {
		return nil, err
	}

	pc, err := packet.Listen(conf.Interface, packet.Raw, unix.ETH_P_IP, nil)
	if err != nil {
		return nil, fmt.Errorf("opening packet socket: %w", err)
	}

	prog, err := bpf.Assemble(filterProgram(dhcpc.ClientPort))
	if err != nil {
		return nil, fmt.Errorf("assembling filter: %w", err)
	}

	err = pc.SetBPF(prog)
	if err != nil {
		return nil, fmt.Errorf("attaching filter: %w", err)
	}

	return &Conn{
		logger:  conf.Logger,
		conn:    pc,
		metrics: conf.Metrics,
		ready:   make(chan struct{}, 1),
		mac:     conf.Interface.HardwareAddr,
		ifIndex: conf.Interface.Index,
	}, nil
}

// type check
var _ dhcpc.Transport = (*Conn)(nil)

// Send implements the [dhcpc.Transport] interface for *Conn.  Transient
// kernel buffer shortages are reported as [dhcpc.ErrDeferredSend], with a
// ready notification scheduled on [Conn.Ready].
func (c *Conn) Send(pld []byte, src, dst netip.Addr, dstMAC net.HardwareAddr) (err error) {
	if dstMAC == nil {
		dstMAC = broadcastMAC
	}

	frame, err := buildFrame(pld, src, dst, c.mac, dstMAC)
	if err != nil {
		return fmt.Errorf("dhcpconn: %w", err)
	}

	_, err = c.conn.WriteTo(frame, &packet.Addr{HardwareAddr: dstMAC})
	if errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) {
		c.scheduleReady()

		return fmt.Errorf("dhcpconn: %w: %w", dhcpc.ErrDeferredSend, err)
	} else if err != nil {
		return fmt.Errorf("dhcpconn: writing frame: %w", err)
	}

	return nil
}

// scheduleReady arranges for one notification on [Conn.Ready] after a short
// pause.
func (c *Conn) scheduleReady() {
	time.AfterFunc(sendRetryDelay, func() {
		select {
		case c.ready <- struct{}{}:
		default:
			// A notification is already pending.
		}
	})
}

// Ready returns the channel on which send-ready notifications are delivered
// after a deferred send.
func (c *Conn) Ready() (ready <-chan struct{}) { return c.ready }

// PacketHandler is a function to which received DHCP datagrams are delivered.
type PacketHandler func(ctx context.Context, pkt *dhcpc.Packet)

// Serve reads frames from the socket and delivers the valid ones to h until
// the socket is closed or ctx is canceled.
func (c *Conn) Serve(ctx context.Context, h PacketHandler) (err error) {
	defer slogutil.RecoverAndLog(ctx, c.logger)

	for ctx.Err() == nil {
		// The parsed packet aliases the buffer, and handlers are free to
		// keep it, so each read gets its own buffer.
		buf := make([]byte, maxFrameLen)

		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("dhcpconn: reading frame: %w", err)
		}

		pkt, err := parseFrame(buf[:n])
		if err != nil {
			c.metrics.DatagramDropped()
			c.logger.DebugContext(ctx, "dropping frame", slogutil.KeyError, err)

			continue
		}

		h(ctx, pkt)
	}

	return ctx.Err()
}

// Close closes the underlying socket.
func (c *Conn) Close() (err error) {
	return errors.Annotate(c.conn.Close(), "dhcpconn: closing: %w")
}
