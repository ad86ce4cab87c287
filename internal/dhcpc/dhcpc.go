// Package dhcpc implements the client side of the DHCP protocol for IPv4,
// see RFC 2131 and RFC 2132.  A [Client] negotiates, maintains, and
// relinquishes a single address lease on a single Ethernet interface.
//
// The client is a passive state machine.  It performs no background work of
// its own: the host delivers timer expiries, received datagrams, link-state
// changes, and ARP observations through the Handle* methods, and each such
// event is processed to completion, arming at most one timer and sending at
// most one message before returning.  The Handle* methods serialize
// themselves, so they may be called from any goroutine, though a single
// event-loop goroutine is the expected arrangement.
package dhcpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// ethAddrLen is the length of an Ethernet hardware address.
const ethAddrLen = 6

// Sentinel errors of the client.
const (
	// errUnsupportedHW means that the interface does not have a usable
	// 6-byte Ethernet address.
	errUnsupportedHW errors.Error = "unsupported hardware address"

	// ErrAlreadyStarted is returned by [Client.Start] when the client has
	// already been started.
	ErrAlreadyStarted errors.Error = "already started"
)

// Client is a DHCP client for a single interface.  It must be created with
// [New].
type Client struct {
	logger    *slog.Logger
	clock     timeutil.Clock
	timer     Timer
	transport Transport
	link      LinkLayer
	netConf   Configurator
	onEvent   EventHandler

	// mu serializes event handling and protects all the mutable state
	// below.
	mu *sync.Mutex

	// info is the current lease record.  Its IP field is also the address
	// to request while rebooting.
	info Lease

	// requestSendTime is when the first request of the current exchange was
	// sent.  Lease deadlines are relative to it.
	requestSendTime time.Time

	mac           net.HardwareAddr
	clientID      []byte
	vendorClassID []byte

	resetTimeout time.Duration
	arpTimeout   time.Duration

	// xid is the transaction ID that any accepted reply must carry.
	xid dhcpv4.TransactionID

	// leaseTimePassed is how many seconds of the current lease are known to
	// have been consumed.  While a timer is armed it is pre-advanced to the
	// value it will have when the timer fires at its target.
	leaseTimePassed uint32

	// requestSendTimePassed is the value of leaseTimePassed at the moment
	// the latest renewing/rebinding request was sent.
	requestSendTimePassed uint32

	// rtxTimeoutSec is the current retransmission timeout in seconds.
	rtxTimeoutSec uint32

	baseRtxSec     uint32
	maxRtxSec      uint32
	minRenewRtxSec uint32
	maxTimerSec    uint32

	maxDNSServers int

	state State

	// requestCount counts sent discovers or requests, or ARP probes while
	// in [StateChecking].
	requestCount uint8

	xidReuseMax       uint8
	maxRequests       uint8
	maxRebootRequests uint8
	numARPQueries     uint8

	// arpObserving is whether ARP replies are currently of interest.
	arpObserving bool

	// retryWanted is whether the latest send was deferred by the transport
	// and a send-ready notification is expected.
	retryWanted bool

	started bool
}

// New creates a new DHCP client.  It does not touch the network; call
// [Client.Start] to begin negotiation.
func New(conf *Config) (c *Client, err error) {
	defer func() { err = errors.Annotate(err, "dhcpc: %w") }()

	err = conf.Validate()
	if err != nil {
		return nil, err
	}

	conf = conf.withDefaults()

	maxIvl := min(conf.MaxTimerInterval, conf.Timer.MaxInterval())

	c = &Client{
		logger:    conf.Logger,
		clock:     conf.Clock,
		timer:     conf.Timer,
		transport: conf.Transport,
		link:      conf.Link,
		netConf:   conf.Configurator,
		onEvent:   conf.OnEvent,

		mu: &sync.Mutex{},

		mac:           conf.Link.MAC(),
		clientID:      conf.ClientID,
		vendorClassID: conf.VendorClassID,

		resetTimeout: conf.ResetTimeout,
		arpTimeout:   conf.ARPResponseTimeout,

		baseRtxSec:     durToSec(conf.BaseRtxTimeout),
		maxRtxSec:      durToSec(conf.MaxRtxTimeout),
		minRenewRtxSec: durToSec(conf.MinRenewRtxTimeout),
		maxTimerSec:    durToSec(maxIvl),

		maxDNSServers: conf.MaxDNSServers,

		state: StateLinkDown,

		xidReuseMax:       conf.XIDReuseMax,
		maxRequests:       conf.MaxRequests,
		maxRebootRequests: conf.MaxRebootRequests,
		numARPQueries:     conf.NumARPQueries,
	}

	if a := conf.RequestAddr; a.IsValid() && !a.IsUnspecified() {
		c.info.IP = a.Unmap()
	}

	return c, nil
}

// type check
var _ service.Interface = (*Client)(nil)

// Start implements the [service.Interface] interface for *Client.  If the
// link is up, it sends the first discover or reboot request before
// returning.
func (c *Client) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("dhcpc: %w", ErrAlreadyStarted)
	}

	c.started = true

	if !c.link.LinkUp() {
		c.logger.InfoContext(ctx, "link is down, waiting")
		c.state = StateLinkDown

		return nil
	}

	c.startDiscoveryOrRebooting(ctx)

	return nil
}

// Shutdown implements the [service.Interface] interface for *Client.  It
// disarms the timer and removes any applied configuration without raising an
// event.
func (c *Client) Shutdown(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timer.Disarm()
	c.arpObserving = false
	c.retryWanted = false
	c.started = false
	c.state = StateLinkDown
	c.info = Lease{}

	return errors.Annotate(c.removeConf(ctx), "dhcpc: shutting down: %w")
}

// State returns the current state of the client.
func (c *Client) State() (s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// HasLease reports whether an address lease is currently active.
func (c *Client) HasLease() (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hasLease()
}

// hasLease is like [Client.HasLease] but doesn't lock the mutex.
func (c *Client) hasLease() (ok bool) {
	switch c.state {
	case StateBound, StateRenewing, StateRebinding:
		return true
	default:
		return false
	}
}

// Lease returns a snapshot of the active lease.  It panics if no lease is
// active, which indicates an error in the calling code; see
// [Client.HasLease].
func (c *Client) Lease() (l *Lease) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasLease() {
		panic(fmt.Errorf("dhcpc: no active lease in state %s", c.state))
	}

	return c.info.Clone()
}

// LeaseOrNil returns a snapshot of the active lease, or nil if no lease is
// active.  The check and the snapshot happen under a single lock
// acquisition, so it is safe to call concurrently with events that may
// withdraw the lease.
func (c *Client) LeaseOrNil() (l *Lease) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasLease() {
		return nil
	}

	return c.info.Clone()
}

// newXID generates a new transaction ID for the following exchanges.
func (c *Client) newXID() {
	c.xid = errors.Must(dhcpv4.GenerateTransactionID())
}

// setState moves the machine to state to, logging the transition.
func (c *Client) setState(ctx context.Context, to State) {
	c.logger.DebugContext(ctx, "state transition", "from", c.state, "to", to)

	c.state = to
}

// startDiscoveryOrRebooting begins a fresh exchange: discovery, or a reboot
// request when a previously known address is recorded in the lease record.
func (c *Client) startDiscoveryOrRebooting(ctx context.Context) {
	c.newXID()
	c.requestCount = 1

	if !c.info.IP.IsValid() {
		c.setState(ctx, StateSelecting)
		c.sendDiscover(ctx)
	} else {
		c.setState(ctx, StateRebooting)

		// Lease deadlines will be relative to the first request.
		c.requestSendTime = c.clock.Now()
		c.sendRequest(ctx)
	}

	c.rtxTimeoutSec = c.baseRtxSec
	c.armTimerRtx()
}

// startDiscovery begins a fresh discovery, dropping any remembered address
// so that rebooting is not attempted.
func (c *Client) startDiscovery(ctx context.Context) {
	c.info.IP = netip.Addr{}

	c.startDiscoveryOrRebooting(ctx)
}

// armTimerRtx arms the timer for the current retransmission timeout.
func (c *Client) armTimerRtx() {
	c.timer.Arm(c.clock.Now().Add(secToDur(c.rtxTimeoutSec)))
}

// doubleRtxTimeout doubles the retransmission timeout up to the configured
// maximum.
func (c *Client) doubleRtxTimeout() {
	if c.rtxTimeoutSec > c.maxRtxSec/2 {
		c.rtxTimeoutSec = c.maxRtxSec
	} else {
		c.rtxTimeoutSec *= 2
	}
}

// goResetting returns to discovery after a NAK or an address conflict,
// either immediately or after the settle delay.  It removes the applied
// configuration and reports [EventLeaseLost] if a lease was active.
func (c *Client) goResetting(ctx context.Context, discoverImmediately bool) {
	hadLease := c.hasLease()

	if discoverImmediately {
		c.startDiscovery(ctx)
	} else {
		c.setState(ctx, StateResetting)
		c.timer.Arm(c.clock.Now().Add(c.resetTimeout))
	}

	if hadLease {
		c.dhcpDown(ctx, EventLeaseLost)
	}
}

// goChecking starts probing the acknowledged address for an ARP conflict.
func (c *Client) goChecking(ctx context.Context) {
	c.setState(ctx, StateChecking)

	c.requestCount = 1

	c.arpObserving = true
	c.timer.Arm(c.clock.Now().Add(c.arpTimeout))
	c.sendARPQuery(ctx)
}

// goBound binds the validated lease: computes how much of it has already
// been consumed, applies the configuration, and reports the event.  It is
// called from Checking, Rebooting, Renewing, and Rebinding.
func (c *Client) goBound(ctx context.Context) {
	hadLease := c.hasLease()

	// The lease nominally starts when the acknowledged request was sent.
	c.leaseTimePassed = secondsSince(c.clock, c.requestSendTime)

	if c.leaseTimePassed >= c.info.LeaseTime {
		c.handleExpiredLease(ctx, hadLease)

		return
	}

	// No need to compare against the renewal and rebinding times here: if
	// one of them has been reached, the timer handler takes care of it.
	c.setState(ctx, StateBound)

	var relSec uint32
	if c.leaseTimePassed <= c.info.RenewalTime {
		relSec = c.info.RenewalTime - c.leaseTimePassed
	}
	relSec = min(relSec, c.maxTimerSec)

	// Pre-advance leaseTimePassed to its value at the timer target.
	c.leaseTimePassed += relSec
	c.timer.Arm(c.requestSendTime.Add(secToDur(c.leaseTimePassed)))

	c.dhcpUp(ctx, hadLease)
}

// handleExpiredLease returns to discovery after the lease has run out,
// removing the configuration and reporting [EventLeaseLost] if a lease was
// active.
func (c *Client) handleExpiredLease(ctx context.Context, hadLease bool) {
	c.startDiscovery(ctx)

	if hadLease {
		c.dhcpDown(ctx, EventLeaseLost)
	}
}

// dhcpUp applies the address and gateway of the bound lease and reports
// [EventLeaseRenewed] or [EventLeaseObtained] depending on renewed.
func (c *Client) dhcpUp(ctx context.Context, renewed bool) {
	err := c.netConf.ApplyAddr(ctx, c.info.Prefix())
	if err != nil {
		c.logger.ErrorContext(ctx, "applying address", slogutil.KeyError, err)
	}

	if c.info.Router.IsValid() {
		err = c.netConf.ApplyGateway(ctx, c.info.Router)
	} else {
		err = c.netConf.RemoveGateway(ctx)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "applying gateway", slogutil.KeyError, err)
	}

	event := EventLeaseObtained
	if renewed {
		event = EventLeaseRenewed
	}

	c.logger.InfoContext(
		ctx,
		"lease bound",
		"ip", c.info.IP,
		"prefix", c.info.Prefix(),
		"router", c.info.Router,
		"lease_time", c.info.LeaseTime,
	)

	c.fireEvent(ctx, event, c.info.Clone())
}

// dhcpDown removes the applied configuration and reports event, which must
// be [EventLeaseLost] or [EventLinkDown].
func (c *Client) dhcpDown(ctx context.Context, event Event) {
	err := c.removeConf(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "removing configuration", slogutil.KeyError, err)
	}

	c.logger.InfoContext(ctx, "lease withdrawn", "event", event)

	c.fireEvent(ctx, event, nil)
}

// removeConf removes the gateway and the address from the interface.
func (c *Client) removeConf(ctx context.Context) (err error) {
	return errors.Join(
		errors.Annotate(c.netConf.RemoveGateway(ctx), "removing gateway: %w"),
		errors.Annotate(c.netConf.RemoveAddr(ctx), "removing address: %w"),
	)
}

// fireEvent reports event to the user, if a handler is configured.
func (c *Client) fireEvent(ctx context.Context, event Event, lease *Lease) {
	if c.onEvent != nil {
		c.onEvent(ctx, event, lease)
	}
}

// sendARPQuery sends one ARP probe for the candidate address.
func (c *Client) sendARPQuery(ctx context.Context) {
	err := c.link.SendARPQuery(c.info.IP)
	if err != nil {
		c.logger.ErrorContext(ctx, "sending arp query", "ip", c.info.IP, slogutil.KeyError, err)
	}
}
