// Package metrics contains the Prometheus collectors of the dhcpc daemon.
package metrics

import (
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace is the configurable namespace of all metrics of the daemon.
const namespace = "dhcpc"

// Subsystems of the daemon metrics.
const (
	subsystemClient    = "client"
	subsystemTransport = "transport"
)

// Recorder registers and updates the metrics of the daemon.  A nil *Recorder
// is usable and does nothing, which is how disabled metrics are expressed.
type Recorder struct {
	events      *prometheus.CounterVec
	msgSent     *prometheus.CounterVec
	msgReceived *prometheus.CounterVec
	dropped     prometheus.Counter
	leaseExpiry prometheus.Gauge
}

// Config is the configuration of the metrics recorder.
type Config struct {
	// Registerer is the registry to register the metrics in.  It must not be
	// nil.
	Registerer prometheus.Registerer

	// StateFunc returns the ordinal of the current protocol state.  It must
	// not be nil and must be safe for concurrent use.
	StateFunc func() (ordinal float64)
}

// New registers the collectors of the daemon in conf.Registerer and returns a
// recorder for them.
func New(conf *Config) (r *Recorder, err error) {
	defer func() { err = errors.Annotate(err, "registering metrics: %w") }()

	f := promauto.With(conf.Registerer)

	r = &Recorder{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemClient,
			Name:      "events_total",
			Help:      "The number of lease lifecycle events, by event kind.",
		}, []string{"event"}),
		msgSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "messages_sent_total",
			Help:      "The number of DHCP messages sent, by message type.",
		}, []string{"type"}),
		msgReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "messages_received_total",
			Help:      "The number of DHCP messages received, by message type.",
		}, []string{"type"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "datagrams_dropped_total",
			Help:      "The number of received frames dropped before parsing.",
		}),
		leaseExpiry: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemClient,
			Name:      "lease_expiry_timestamp_seconds",
			Help:      "When the current lease expires, as a UNIX timestamp.  Zero when no lease is held.",
		}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemClient,
		Name:      "state",
		Help:      "The ordinal of the current protocol state.",
	}, conf.StateFunc)

	return r, nil
}

// Event counts one lease lifecycle event.
func (r *Recorder) Event(event string) {
	if r != nil {
		r.events.WithLabelValues(event).Inc()
	}
}

// MessageSent counts one sent DHCP message of type msgType.
func (r *Recorder) MessageSent(msgType string) {
	if r != nil {
		r.msgSent.WithLabelValues(msgType).Inc()
	}
}

// MessageReceived counts one received DHCP message of type msgType.
func (r *Recorder) MessageReceived(msgType string) {
	if r != nil {
		r.msgReceived.WithLabelValues(msgType).Inc()
	}
}

// DatagramDropped counts one received frame dropped by the transport before
// it could be attributed to a DHCP message.
func (r *Recorder) DatagramDropped() {
	if r != nil {
		r.dropped.Inc()
	}
}

// SetLeaseExpiry publishes the expiry time of the current lease.
func (r *Recorder) SetLeaseExpiry(expiry time.Time) {
	if r != nil {
		r.leaseExpiry.Set(float64(expiry.Unix()))
	}
}

// ClearLeaseExpiry publishes that no lease is held.
func (r *Recorder) ClearLeaseExpiry() {
	if r != nil {
		r.leaseExpiry.Set(0)
	}
}
