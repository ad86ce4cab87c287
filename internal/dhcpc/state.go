package dhcpc

import (
	"context"
	"fmt"
)

// State is a state of the DHCP client state machine.  Exactly one state is
// active at a time.
type State uint8

// State values.
//
// Do not change the order.  The numeric values are exposed as the state
// metric.
const (
	// StateLinkDown means that the interface link is down and the client is
	// inactive until it comes back up.
	StateLinkDown State = iota

	// StateResetting is a deliberate pause before restarting discovery, used
	// to avoid tight failure loops after a NAK or an address conflict.
	StateResetting

	// StateRebooting means that the client is requesting a previously known
	// address without going through discovery.
	StateRebooting

	// StateSelecting means that the client is broadcasting discovers and
	// waiting for an offer.
	StateSelecting

	// StateRequesting means that the client is requesting the offered
	// address.
	StateRequesting

	// StateChecking means that the client is probing the acknowledged
	// address for an ARP conflict before binding.
	StateChecking

	// StateBound means that a lease is active and no renewal is due yet.
	StateBound

	// StateRenewing means that the client is asking the leasing server, by
	// unicast, to extend the lease.
	StateRenewing

	// StateRebinding means that the client is asking any server, by
	// broadcast, to extend the lease.
	StateRebinding
)

// type check
var _ fmt.Stringer = StateLinkDown

// String implements the [fmt.Stringer] interface for State.
func (s State) String() (str string) {
	switch s {
	case StateLinkDown:
		return "link_down"
	case StateResetting:
		return "resetting"
	case StateRebooting:
		return "rebooting"
	case StateSelecting:
		return "selecting"
	case StateRequesting:
		return "requesting"
	case StateChecking:
		return "checking"
	case StateBound:
		return "bound"
	case StateRenewing:
		return "renewing"
	case StateRebinding:
		return "rebinding"
	default:
		return fmt.Sprintf("!bad_state_%d", uint8(s))
	}
}

// isAwaitingReply reports whether the client expects a server reply in s, and
// so whether received datagrams should be processed at all.
func (s State) isAwaitingReply() (ok bool) {
	switch s {
	case StateRebooting, StateSelecting, StateRequesting, StateRenewing, StateRebinding:
		return true
	default:
		return false
	}
}

// Event is the kind of a lease lifecycle event reported to the user.
type Event uint8

// Event values.
const (
	// EventLeaseObtained means that a lease has been bound and there was no
	// prior lease.
	EventLeaseObtained Event = iota

	// EventLeaseRenewed means that a lease has been bound while a prior lease
	// was active.  The addresses may differ from the prior ones.
	EventLeaseRenewed

	// EventLeaseLost means that the lease has been withdrawn for a reason
	// other than the link going down.
	EventLeaseLost

	// EventLinkDown means that the lease has been withdrawn because the
	// interface link went down.
	EventLinkDown
)

// type check
var _ fmt.Stringer = EventLeaseObtained

// String implements the [fmt.Stringer] interface for Event.
func (e Event) String() (str string) {
	switch e {
	case EventLeaseObtained:
		return "lease_obtained"
	case EventLeaseRenewed:
		return "lease_renewed"
	case EventLeaseLost:
		return "lease_lost"
	case EventLinkDown:
		return "link_down"
	default:
		return fmt.Sprintf("!bad_event_%d", uint8(e))
	}
}

// EventHandler is a function called by the client to report lease lifecycle
// events.  For [EventLeaseObtained] and [EventLeaseRenewed], lease is a
// snapshot of the new lease; for the other events it is nil.  The handler is
// called synchronously from the event being handled and must not call back
// into the client.
type EventHandler func(ctx context.Context, event Event, lease *Lease)
