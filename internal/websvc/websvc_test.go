package websvc_test

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/lanstead/dhcpc/internal/websvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests and contexts.
const testTimeout = 5 * time.Second

// testClient is a fake [websvc.StatusClient].
type testClient struct {
	onState      func() (s dhcpc.State)
	onLeaseOrNil func() (l *dhcpc.Lease)
}

// type check
var _ websvc.StatusClient = (*testClient)(nil)

// State implements the [websvc.StatusClient] interface for *testClient.
func (c *testClient) State() (s dhcpc.State) { return c.onState() }

// LeaseOrNil implements the [websvc.StatusClient] interface for *testClient.
func (c *testClient) LeaseOrNil() (l *dhcpc.Lease) { return c.onLeaseOrNil() }

// newTestService creates a started status service around cli and registers
// its shutdown.
func newTestService(t *testing.T, cli websvc.StatusClient) (svc *websvc.Service) {
	t.Helper()

	svc, err := websvc.New(&websvc.Config{
		Logger:        slogutil.NewDiscardLogger(),
		Client:        cli,
		InterfaceName: "eth0",
		StartTime:     time.Now(),
		Addr:          netip.MustParseAddrPort("127.0.0.1:0"),
	})
	require.NoError(t, err)

	err = svc.Start(testutil.ContextWithTimeout(t, testTimeout))
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return svc.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	return svc
}

// getStatus fetches and decodes [websvc.PathStatus] from svc.
func getStatus(t *testing.T, svc *websvc.Service) (got map[string]any) {
	t.Helper()

	resp, err := http.Get("http://" + svc.Addr().String() + websvc.PathStatus)
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, resp.Body.Close)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	got = map[string]any{}
	require.NoError(t, json.Unmarshal(body, &got))

	return got
}

func TestService_status(t *testing.T) {
	lease := &dhcpc.Lease{
		IP:         netip.MustParseAddr("192.168.0.50"),
		ServerAddr: netip.MustParseAddr("192.168.0.1"),
		Router:     netip.MustParseAddr("192.168.0.1"),
		DNS:        []netip.Addr{netip.MustParseAddr("192.168.0.53")},
		SubnetMask: net.CIDRMask(24, 32),
		LeaseTime:  3600,
	}

	cli := &testClient{
		onState:      func() (s dhcpc.State) { return dhcpc.StateBound },
		onLeaseOrNil: func() (l *dhcpc.Lease) { return lease },
	}

	svc := newTestService(t, cli)
	got := getStatus(t, svc)

	assert.Equal(t, "eth0", got["interface"])
	assert.Equal(t, "bound", got["state"])
	assert.Equal(t, true, got["has_lease"])

	gotLease, ok := got["lease"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "192.168.0.50", gotLease["ip"])
	assert.Equal(t, "192.168.0.50/24", gotLease["prefix"])
	assert.Equal(t, "192.168.0.1", gotLease["router"])
}

func TestService_status_leaseWithdrawn(t *testing.T) {
	// The event loop may withdraw the lease between the moment the handler
	// reads the state and the moment it snapshots the lease, so the fake
	// reports a bound state with no lease.
	cli := &testClient{
		onState:      func() (s dhcpc.State) { return dhcpc.StateBound },
		onLeaseOrNil: func() (l *dhcpc.Lease) { return nil },
	}

	svc := newTestService(t, cli)
	got := getStatus(t, svc)

	assert.Equal(t, "bound", got["state"])
	assert.Equal(t, false, got["has_lease"])
	assert.NotContains(t, got, "lease")
}

func TestService_nil(t *testing.T) {
	var svc *websvc.Service

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Shutdown(ctx))
}
