package dhcpc

import (
	"math"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// Deadline arithmetic is done in whole protocol seconds, the unit of the
// lease/renewal/rebinding options, and converted to durations only at the
// timer boundary.

// secToDur converts a number of protocol seconds to a duration.
func secToDur(sec uint32) (d time.Duration) {
	return time.Duration(sec) * time.Second
}

// durToSec converts d to whole protocol seconds, rounding down.  Negative
// durations convert to zero and overlong ones saturate at the maximum.
func durToSec(d time.Duration) (sec uint32) {
	if d <= 0 {
		return 0
	}

	s := int64(d / time.Second)
	if s > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(s)
}

// secondsSince returns the number of whole seconds that have passed since t
// according to clock.
func secondsSince(clock timeutil.Clock, t time.Time) (sec uint32) {
	return durToSec(clock.Now().Sub(t))
}
