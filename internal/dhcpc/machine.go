package dhcpc

import (
	"context"
	"net/netip"
)

// HandleTimer delivers an expiry of the client's timer.
func (c *Client) HandleTimer(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}

	switch c.state {
	case StateResetting:
		c.startDiscovery(ctx)
	case StateSelecting:
		c.handleTimerSelecting(ctx)
	case StateRebooting, StateRequesting:
		c.handleTimerRequesting(ctx)
	case StateChecking:
		c.handleTimerChecking(ctx)
	case StateBound, StateRenewing, StateRebinding:
		c.handleTimerLease(ctx)
	default:
		// An expiry that fired just before the timer was disarmed.
		c.logger.DebugContext(ctx, "ignoring stale timer expiry", "state", c.state)
	}
}

// handleTimerSelecting retransmits the discover.  Every few retransmissions
// the transaction ID is replaced in case the old one has been poisoned.
func (c *Client) handleTimerSelecting(ctx context.Context) {
	if c.requestCount >= c.xidReuseMax {
		c.requestCount = 1
		c.newXID()
	} else {
		c.requestCount++
	}

	c.doubleRtxTimeout()
	c.sendDiscover(ctx)
	c.armTimerRtx()
}

// handleTimerRequesting retransmits the request in Requesting and Rebooting,
// or gives up and returns to discovery.
func (c *Client) handleTimerRequesting(ctx context.Context) {
	limit := c.maxRequests
	if c.state == StateRebooting {
		limit = c.maxRebootRequests
	}

	if c.requestCount >= limit {
		c.logger.InfoContext(ctx, "request unanswered, restarting discovery", "state", c.state)
		c.startDiscovery(ctx)

		return
	}

	c.requestCount++

	// requestSendTime is not updated here: the lease, if acknowledged,
	// still counts from the first request.
	c.sendRequest(ctx)
	c.doubleRtxTimeout()
	c.armTimerRtx()
}

// handleTimerChecking sends the next ARP probe, or concludes that the
// address is unclaimed and binds the lease.
func (c *Client) handleTimerChecking(ctx context.Context) {
	if c.requestCount < c.numARPQueries {
		c.requestCount++
		c.timer.Arm(c.clock.Now().Add(c.arpTimeout))
		c.sendARPQuery(ctx)

		return
	}

	c.arpObserving = false
	c.goBound(ctx)
}

// handleTimerLease advances the lease bookkeeping in Bound, Renewing, and
// Rebinding.  A single lease commonly needs several expiries, both because
// one timer arming is capped and because renewal requests are retransmitted.
func (c *Client) handleTimerLease(ctx context.Context) {
	// leaseTimePassed was pre-advanced to the lease age at the timer
	// target, so any tardiness of this expiry has to be added on top.
	passedSec := secondsSince(c.clock, c.timer.Target())

	if passedSec >= c.info.LeaseTime-c.leaseTimePassed {
		c.logger.InfoContext(ctx, "lease expired", "ip", c.info.IP)
		c.handleExpiredLease(ctx, true)

		return
	}

	prevPassed := c.leaseTimePassed
	c.leaseTimePassed += passedSec

	if c.state != StateRebinding && c.leaseTimePassed >= c.info.RebindingTime {
		c.setState(ctx, StateRebinding)
		c.newXID()
	} else if c.state == StateBound && c.leaseTimePassed >= c.info.RenewalTime {
		c.setState(ctx, StateRenewing)
		c.newXID()
	}

	var relSec uint32
	if c.state == StateBound {
		relSec = c.info.RenewalTime - c.leaseTimePassed
	} else {
		// Renewing or Rebinding.  Retransmit the request halfway to the
		// next deadline, though not more often than the minimum renewal
		// retransmission interval allows.
		nextDeadline := c.info.LeaseTime
		if c.state == StateRenewing {
			nextDeadline = c.info.RebindingTime
		}
		nextStateRel := nextDeadline - c.leaseTimePassed

		rtxRel := max(c.minRenewRtxSec, nextStateRel/2)
		relSec = min(nextStateRel, rtxRel)

		c.sendRequest(ctx)

		c.requestSendTime = c.clock.Now()
		c.requestSendTimePassed = c.leaseTimePassed
	}

	relSec = min(relSec, c.maxTimerSec)

	// Pre-advance to the lease age at the new target.  The new target is
	// relative to the previous one, not to the current time, so late
	// deliveries don't push the deadlines back.
	c.leaseTimePassed += relSec
	c.timer.Arm(c.timer.Target().Add(secToDur(c.leaseTimePassed - prevPassed)))
}

// HandleLinkChange delivers a change of the interface's link state.  up is
// the new state.
func (c *Client) HandleLinkChange(ctx context.Context, up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}

	if c.state == StateLinkDown {
		if up {
			c.logger.InfoContext(ctx, "link is up")
			c.startDiscoveryOrRebooting(ctx)
		}

		return
	}

	if up {
		return
	}

	hadLease := c.hasLease()

	// Keep the address for a reboot request after the link returns, but
	// only if it was actually leased or was already being confirmed.
	if !hadLease && c.state != StateRebooting {
		c.info.IP = netip.Addr{}
	}

	c.logger.InfoContext(ctx, "link is down")
	c.setState(ctx, StateLinkDown)

	c.arpObserving = false
	c.retryWanted = false
	c.timer.Disarm()

	if hadLease {
		c.dhcpDown(ctx, EventLinkDown)
	}
}

// HandleARPReply delivers the sender address of a received ARP reply.  A
// reply for the address being checked means the address is already in use,
// so it is declined and discovery starts over.
func (c *Client) HandleARPReply(ctx context.Context, ip netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || !c.arpObserving || c.state != StateChecking {
		return
	}

	if ip != c.info.IP {
		return
	}

	c.logger.InfoContext(ctx, "address in use, declining", "ip", ip)

	c.sendDecline(ctx)
	c.arpObserving = false
	c.goResetting(ctx, false)
}

// HandleSendReady notifies the client that the transport can send again
// after a deferred send.  The client retransmits the message of the current
// state, if any.
func (c *Client) HandleSendReady(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || !c.retryWanted {
		return
	}

	c.retryWanted = false

	switch c.state {
	case StateSelecting:
		c.sendDiscover(ctx)
	case StateRequesting, StateRebooting, StateRenewing, StateRebinding:
		c.sendRequest(ctx)
	default:
		// The message the transport deferred is no longer relevant.
	}
}
