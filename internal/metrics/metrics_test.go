package metrics_test

import (
	"testing"
	"time"

	"github.com/lanstead/dhcpc/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()

	r, err := metrics.New(&metrics.Config{
		Registerer: reg,
		StateFunc:  func() (ordinal float64) { return 6 },
	})
	require.NoError(t, err)

	r.Event("lease_obtained")
	r.Event("lease_obtained")
	r.MessageSent("DISCOVER")
	r.MessageReceived("OFFER")
	r.DatagramDropped()
	r.SetLeaseExpiry(time.Unix(1_700_000_000, 0))

	fams, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range fams {
		for _, m := range f.GetMetric() {
			got[f.GetName()] += metricValue(f.GetType(), m)
		}
	}

	assert.Equal(t, float64(2), got["dhcpc_client_events_total"])
	assert.Equal(t, float64(1), got["dhcpc_transport_messages_sent_total"])
	assert.Equal(t, float64(1), got["dhcpc_transport_messages_received_total"])
	assert.Equal(t, float64(1), got["dhcpc_transport_datagrams_dropped_total"])
	assert.Equal(t, float64(6), got["dhcpc_client_state"])
	assert.Equal(t, float64(1_700_000_000), got["dhcpc_client_lease_expiry_timestamp_seconds"])
}

// metricValue returns the value of m regardless of the collector kind used.
func metricValue(typ dto.MetricType, m *dto.Metric) (v float64) {
	if typ == dto.MetricType_GAUGE {
		return m.GetGauge().GetValue()
	}

	return m.GetCounter().GetValue()
}

func TestRecorder_nil(t *testing.T) {
	var r *metrics.Recorder

	assert.NotPanics(t, func() {
		r.Event("lease_obtained")
		r.MessageSent("DISCOVER")
		r.MessageReceived("ACK")
		r.DatagramDropped()
		r.SetLeaseExpiry(time.Now())
		r.ClearLeaseExpiry()
	})
}
