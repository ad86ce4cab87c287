// Package netcheck verifies a freshly bound lease by probing the gateway
// with ICMP echo and asking the lease's DNS servers for the root NS records.
// The checks are advisory: failures are reported so the daemon can log them,
// and never affect the protocol state.
package netcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/go-ping/ping"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/miekg/dns"
)

// DefaultTimeout is the timeout of each probe when the configuration does
// not set one.
const DefaultTimeout = 5 * time.Second

// defaultDNSPort is the standard DNS server port.
const defaultDNSPort uint16 = 53

// Checker runs the post-bind reachability probes.
type Checker struct {
	logger  *slog.Logger
	timeout time.Duration
	dnsPort uint16

	// privileged is whether the gateway probe uses a raw ICMP socket, as
	// opposed to an unprivileged UDP ping.
	privileged bool
}

// Config is the configuration of the lease checker.
type Config struct {
	// Logger is used to log the operation of the checker.  It must not be
	// nil.
	Logger *slog.Logger

	// Timeout bounds each probe.  Zero means [DefaultTimeout].
	Timeout time.Duration

	// DNSPort is the port the DNS probes query.  Zero means the standard
	// port 53.
	DNSPort uint16

	// Privileged is whether ICMP probes use a raw socket.  The daemon runs
	// as root on most deployments, where raw sockets are both available and
	// more reliable than the UDP fallback.
	Privileged bool
}

// New creates a new lease checker.
func New(conf *Config) (c *Checker, err error) {
	err = errors.Join(
		validate.NotNil("conf.Logger", conf.Logger),
		validate.NotNegative("conf.Timeout", conf.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("netcheck: %w", err)
	}

	timeout := conf.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	dnsPort := conf.DNSPort
	if dnsPort == 0 {
		dnsPort = defaultDNSPort
	}

	return &Checker{
		logger:     conf.Logger,
		timeout:    timeout,
		dnsPort:    dnsPort,
		privileged: conf.Privileged,
	}, nil
}

// Check probes the gateway and the DNS servers of lease.  The returned error
// joins the failures of all probes; a nil error means the configuration
// looks usable.
func (c *Checker) Check(ctx context.Context, lease *dhcpc.Lease) (err error) {
	var errs []error

	if gw := lease.Router; gw.IsValid() {
		err = c.pingGateway(ctx, gw)
		if err != nil {
			errs = append(errs, fmt.Errorf("gateway %s: %w", gw, err))
		}
	}

	for _, server := range lease.DNS {
		err = c.queryDNS(ctx, server)
		if err != nil {
			errs = append(errs, fmt.Errorf("dns server %s: %w", server, err))
		}
	}

	return errors.Annotate(errors.Join(errs...), "netcheck: %w")
}

// pingGateway sends one ICMP echo request to gw and waits for the reply.
func (c *Checker) pingGateway(ctx context.Context, gw netip.Addr) (err error) {
	pinger, err := ping.NewPinger(gw.String())
	if err != nil {
		return fmt.Errorf("creating pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = c.timeout
	pinger.SetPrivileged(c.privileged)

	err = pinger.Run()
	if err != nil {
		return fmt.Errorf("pinging: %w", err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return errors.Error("no echo reply")
	}

	c.logger.DebugContext(ctx, "gateway reachable", "gw", gw, "rtt", stats.AvgRtt)

	return nil
}

// queryDNS asks server for the NS records of the root zone.
func (c *Checker) queryDNS(ctx context.Context, server netip.Addr) (err error) {
	req := &dns.Msg{}
	req.SetQuestion(".", dns.TypeNS)

	cli := &dns.Client{Timeout: c.timeout}
	addr := net.JoinHostPort(server.String(), strconv.Itoa(int(c.dnsPort)))

	resp, rtt, err := cli.ExchangeContext(ctx, req, addr)
	if err != nil {
		return fmt.Errorf("querying: %w", err)
	}

	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("unexpected rcode %s", dns.RcodeToString[resp.Rcode])
	}

	c.logger.DebugContext(ctx, "dns server reachable", "server", server, "rtt", rtt)

	return nil
}
