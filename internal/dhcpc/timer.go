package dhcpc

import (
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// Timer is the single one-shot timer driving the client.  The client arms it
// with absolute target times; the host watches for the expiry and delivers it
// through [Client.HandleTimer].  Arming replaces any pending expiry, so at
// most one expiry is outstanding at any time.
type Timer interface {
	// Arm schedules the timer to fire at target, replacing any pending
	// expiry.
	Arm(target time.Time)

	// Target returns the target time of the pending or, if none is pending,
	// the most recently armed expiry.
	Target() (target time.Time)

	// Disarm cancels the pending expiry, if any.
	Disarm()

	// MaxInterval returns the longest span into the future a single arm may
	// cover.  Logical deadlines further away take several arms, with the
	// client re-checking the actually elapsed time on each expiry.
	MaxInterval() (d time.Duration)
}

// SystemTimer is a [Timer] backed by a [time.Timer].  Expiries are delivered
// on the channel returned by [SystemTimer.C].  It is not safe for concurrent
// use; the event loop that owns the client must also own the timer.
type SystemTimer struct {
	clock  timeutil.Clock
	timer  *time.Timer
	target time.Time
	maxIvl time.Duration
}

// NewSystemTimer returns a new disarmed *SystemTimer.  A single arm covers at
// most maxIvl.
func NewSystemTimer(clock timeutil.Clock, maxIvl time.Duration) (t *SystemTimer) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	return &SystemTimer{
		clock:  clock,
		timer:  timer,
		maxIvl: maxIvl,
	}
}

// type check
var _ Timer = (*SystemTimer)(nil)

// C returns the channel on which expiries are delivered.
func (t *SystemTimer) C() (c <-chan time.Time) { return t.timer.C }

// Arm implements the [Timer] interface for *SystemTimer.
func (t *SystemTimer) Arm(target time.Time) {
	t.Disarm()

	t.target = target
	t.timer.Reset(max(0, target.Sub(t.clock.Now())))
}

// Target implements the [Timer] interface for *SystemTimer.
func (t *SystemTimer) Target() (target time.Time) { return t.target }

// Disarm implements the [Timer] interface for *SystemTimer.
func (t *SystemTimer) Disarm() {
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
}

// MaxInterval implements the [Timer] interface for *SystemTimer.
func (t *SystemTimer) MaxInterval() (d time.Duration) { return t.maxIvl }
