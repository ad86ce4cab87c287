package dhcpc_test

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/AdguardTeam/golibs/testutil/servicetest"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests and contexts.
const testTimeout = 1 * time.Second

// testMTU is the interface MTU reported by the fake link layer.
const testMTU uint32 = 1500

// testTimerMaxIvl is the longest single arm supported by the fake timer.  It
// exceeds [dhcpc.DefaultMaxTimerInterval] so that the configuration decides
// the effective bound.
const testTimerMaxIvl = 2 * time.Hour

// Standard test lease deadlines, in seconds.  The renewal and rebinding
// times match what the client derives when the server sends none.
const (
	testLeaseTime     uint32 = 3600
	testRenewalTime   uint32 = 1800
	testRebindingTime uint32 = 3150
)

// Common test addresses.  The server leases testLeasedIP on the
// 192.168.0.0/24 subnet.
var (
	testClientMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}
	testServerMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x01}

	testServerAddr = netip.MustParseAddr("192.168.0.1")
	testServerID   = netip.MustParseAddr("192.168.0.1")
	testRouter     = netip.MustParseAddr("192.168.0.1")
	testDNS        = netip.MustParseAddr("192.168.0.53")
	testLeasedIP   = netip.MustParseAddr("192.168.0.50")
	testBroadcast  = netip.MustParseAddr("255.255.255.255")

	testSubnetMask = net.CIDRMask(24, 32)
	testPrefix     = netip.MustParsePrefix("192.168.0.50/24")
)

// sentMessage is a message recorded by the fake transport.
type sentMessage struct {
	msg    *dhcpv4.DHCPv4
	src    netip.Addr
	dst    netip.Addr
	dstMAC net.HardwareAddr
}

// reportedEvent is a lease event recorded by the test event handler.
type reportedEvent struct {
	lease *dhcpc.Lease
	event dhcpc.Event
}

// testEnv is a client under test together with the observable state of the
// fakes behind it.
type testEnv struct {
	client *dhcpc.Client

	// now is the current time of the fake clock.
	now time.Time

	// target is the target of the most recent arm of the fake timer, and
	// armed is whether an expiry is pending.
	target time.Time
	armed  bool

	// sent are the messages handed to the fake transport, including those it
	// reported as deferred.
	sent []*sentMessage

	// events are the reported lease events, in order.
	events []*reportedEvent

	// addr and gateway mirror what the fake configurator has applied.
	addr    netip.Prefix
	gateway netip.Addr

	// arpProbes are the addresses probed through the fake link layer.
	arpProbes []netip.Addr

	// mtu is the interface MTU reported by the fake link layer.
	mtu uint32

	// linkUp is the link state reported by the fake link layer.
	linkUp bool

	// sendErr, if not nil, is returned by the fake transport.
	sendErr error
}

// newTestEnv returns a test environment with a client wired to fakes.  mod,
// if not nil, may alter the configuration before the client is created.
func newTestEnv(tb testing.TB, mod func(conf *dhcpc.Config)) (env *testEnv) {
	tb.Helper()

	env = &testEnv{
		now:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		mtu:    testMTU,
		linkUp: true,
	}

	conf := &dhcpc.Config{
		Logger: slogutil.NewDiscardLogger(),
		Clock: &faketime.Clock{
			OnNow: func() (now time.Time) { return env.now },
		},
		Timer: &testTimer{
			onArm: func(target time.Time) {
				env.armed = true
				env.target = target
			},
			onTarget:      func() (target time.Time) { return env.target },
			onDisarm:      func() { env.armed = false },
			onMaxInterval: func() (d time.Duration) { return testTimerMaxIvl },
		},
		Transport: &testTransport{
			onSend: func(pld []byte, src, dst netip.Addr, dstMAC net.HardwareAddr) (err error) {
				m, merr := dhcpv4.FromBytes(pld)
				require.NoError(tb, merr)

				env.sent = append(env.sent, &sentMessage{
					msg:    m,
					src:    src,
					dst:    dst,
					dstMAC: dstMAC,
				})

				return env.sendErr
			},
		},
		Link: &testLinkLayer{
			onMAC:    func() (mac net.HardwareAddr) { return testClientMAC },
			onMTU:    func() (mtu uint32) { return env.mtu },
			onLinkUp: func() (ok bool) { return env.linkUp },
			onSendARPQuery: func(ip netip.Addr) (err error) {
				env.arpProbes = append(env.arpProbes, ip)

				return nil
			},
		},
		Configurator: &testConfigurator{
			onApplyAddr: func(_ context.Context, addr netip.Prefix) (err error) {
				env.addr = addr

				return nil
			},
			onRemoveAddr: func(_ context.Context) (err error) {
				env.addr = netip.Prefix{}

				return nil
			},
			onApplyGateway: func(_ context.Context, gw netip.Addr) (err error) {
				env.gateway = gw

				return nil
			},
			onRemoveGateway: func(_ context.Context) (err error) {
				env.gateway = netip.Addr{}

				return nil
			},
		},
		OnEvent: func(_ context.Context, event dhcpc.Event, lease *dhcpc.Lease) {
			env.events = append(env.events, &reportedEvent{
				lease: lease,
				event: event,
			})
		},
	}

	if mod != nil {
		mod(conf)
	}

	client, err := dhcpc.New(conf)
	require.NoError(tb, err)

	env.client = client

	return env
}

// fireTimer advances the fake clock to the timer target, delayed by skew,
// and delivers the expiry.
func (env *testEnv) fireTimer(tb testing.TB, ctx context.Context, skew time.Duration) {
	tb.Helper()

	require.True(tb, env.armed, "timer is not armed")

	env.armed = false
	if target := env.target.Add(skew); env.now.Before(target) {
		env.now = target
	}

	env.client.HandleTimer(ctx)
}

// lastSent returns the most recently sent message.
func (env *testEnv) lastSent(tb testing.TB) (sm *sentMessage) {
	tb.Helper()

	require.NotEmpty(tb, env.sent)

	return env.sent[len(env.sent)-1]
}

// newOptSeconds returns an option with a 32-bit big-endian number of
// seconds, the form of the lease, renewal, and rebinding time options.
func newOptSeconds(code dhcpv4.OptionCode, sec uint32) (opt dhcpv4.Option) {
	val := make([]byte, 4)
	binary.BigEndian.PutUint32(val, sec)

	return dhcpv4.OptGeneric(code, val)
}

// newServerReply returns a reply to req of type mt from the test server,
// wrapped into a [dhcpc.Packet] the way the client would receive it.  mods
// are applied to the message before serialization.
func newServerReply(
	tb testing.TB,
	req *dhcpv4.DHCPv4,
	mt dhcpv4.MessageType,
	mods ...dhcpv4.Modifier,
) (pkt *dhcpc.Packet) {
	tb.Helper()

	rep, err := dhcpv4.NewReplyFromRequest(req)
	require.NoError(tb, err)

	rep.UpdateOption(dhcpv4.OptMessageType(mt))
	rep.UpdateOption(dhcpv4.OptServerIdentifier(net.IP(testServerID.AsSlice())))

	for _, mod := range mods {
		mod(rep)
	}

	return &dhcpc.Packet{
		Src:     testServerAddr,
		SrcMAC:  testServerMAC,
		Payload: rep.ToBytes(),
		SrcPort: dhcpc.ServerPort,
	}
}

// newTestOffer returns an offer of testLeasedIP in reply to the discover
// req.  mods may alter the message further.
func newTestOffer(tb testing.TB, req *dhcpv4.DHCPv4, mods ...dhcpv4.Modifier) (pkt *dhcpc.Packet) {
	tb.Helper()

	std := func(m *dhcpv4.DHCPv4) {
		m.YourIPAddr = net.IP(testLeasedIP.AsSlice())
	}

	return newServerReply(tb, req, dhcpv4.MessageTypeOffer, append([]dhcpv4.Modifier{std}, mods...)...)
}

// newTestAck returns an acknowledgement of testLeasedIP with the standard
// test lease parameters in reply to the request req.  mods may alter the
// message further.
func newTestAck(tb testing.TB, req *dhcpv4.DHCPv4, mods ...dhcpv4.Modifier) (pkt *dhcpc.Packet) {
	tb.Helper()

	std := func(m *dhcpv4.DHCPv4) {
		m.YourIPAddr = net.IP(testLeasedIP.AsSlice())
		m.UpdateOption(newOptSeconds(dhcpv4.OptionIPAddressLeaseTime, testLeaseTime))
		m.UpdateOption(dhcpv4.OptSubnetMask(testSubnetMask))
		m.UpdateOption(dhcpv4.OptRouter(net.IP(testRouter.AsSlice())))
		m.UpdateOption(dhcpv4.OptDNS(net.IP(testDNS.AsSlice())))
	}

	return newServerReply(tb, req, dhcpv4.MessageTypeAck, append([]dhcpv4.Modifier{std}, mods...)...)
}

// testLease is the lease the client stores after accepting the standard
// test acknowledgement.
func testLease() (l *dhcpc.Lease) {
	return &dhcpc.Lease{
		IP:            testLeasedIP,
		ServerID:      testServerID,
		ServerAddr:    testServerAddr,
		Router:        testRouter,
		DNS:           []netip.Addr{testDNS},
		ServerMAC:     testServerMAC,
		SubnetMask:    testSubnetMask,
		LeaseTime:     testLeaseTime,
		RenewalTime:   testRenewalTime,
		RebindingTime: testRebindingTime,
	}
}

// bindTestLease drives the client from a cold start to a bound lease using
// the standard test messages.  The messages sent on the way remain recorded
// in env.sent.
func bindTestLease(tb testing.TB, ctx context.Context, env *testEnv) {
	tb.Helper()

	servicetest.RequireRun(tb, env.client, testTimeout)
	require.Equal(tb, dhcpc.StateSelecting, env.client.State())

	env.client.HandlePacket(ctx, newTestOffer(tb, env.lastSent(tb).msg))
	require.Equal(tb, dhcpc.StateRequesting, env.client.State())

	env.client.HandlePacket(ctx, newTestAck(tb, env.lastSent(tb).msg))
	require.Equal(tb, dhcpc.StateChecking, env.client.State())

	// The first probe is sent on entering the checking state, the rest on
	// probe timeouts, and the final expiry concludes the check.
	for i := uint8(0); i < dhcpc.DefaultNumARPQueries; i++ {
		env.fireTimer(tb, ctx, 0)
	}

	require.Equal(tb, dhcpc.StateBound, env.client.State())
}

func TestClient_Start(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env := newTestEnv(t, nil)
	startTime := env.now

	require.NoError(t, env.client.Start(ctx))

	assert.Equal(t, dhcpc.StateSelecting, env.client.State())
	assert.False(t, env.client.HasLease())

	require.Len(t, env.sent, 1)

	sm := env.sent[0]
	m := sm.msg
	assert.Equal(t, dhcpv4.MessageTypeDiscover, m.MessageType())
	assert.Equal(t, dhcpv4.OpcodeBootRequest, m.OpCode)
	assert.Equal(t, iana.HWTypeEthernet, m.HWType)
	assert.Equal(t, testClientMAC, m.ClientHWAddr)
	assert.True(t, m.ClientIPAddr.IsUnspecified())

	// No server or address is known yet, so the discover names neither.
	assert.False(t, m.Options.Has(dhcpv4.OptionServerIdentifier))
	assert.False(t, m.Options.Has(dhcpv4.OptionRequestedIPAddress))

	assert.Equal(t, netip.IPv4Unspecified(), sm.src)
	assert.Equal(t, testBroadcast, sm.dst)
	assert.Nil(t, sm.dstMAC)

	assert.True(t, env.armed)
	assert.Equal(t, startTime.Add(dhcpc.DefaultBaseRtxTimeout), env.target)
}

func TestClient_Start_reboot(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env := newTestEnv(t, func(conf *dhcpc.Config) {
		conf.RequestAddr = testLeasedIP
	})

	require.NoError(t, env.client.Start(ctx))

	assert.Equal(t, dhcpc.StateRebooting, env.client.State())

	require.Len(t, env.sent, 1)

	sm := env.sent[0]
	m := sm.msg
	assert.Equal(t, dhcpv4.MessageTypeRequest, m.MessageType())
	assert.Equal(t, net.IP(testLeasedIP.AsSlice()), m.RequestedIPAddress())

	// A reboot request goes to any server, so it must not name one, and the
	// address being verified must not be in ciaddr.
	assert.False(t, m.Options.Has(dhcpv4.OptionServerIdentifier))
	assert.True(t, m.ClientIPAddr.IsUnspecified())

	assert.Equal(t, testBroadcast, sm.dst)
	assert.Nil(t, sm.dstMAC)
}

func TestClient_Start_linkDown(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env := newTestEnv(t, nil)
	env.linkUp = false

	require.NoError(t, env.client.Start(ctx))

	assert.Equal(t, dhcpc.StateLinkDown, env.client.State())
	assert.Empty(t, env.sent)
	assert.False(t, env.armed)

	env.client.HandleLinkChange(ctx, true)

	assert.Equal(t, dhcpc.StateSelecting, env.client.State())
	require.Len(t, env.sent, 1)
	assert.Equal(t, dhcpv4.MessageTypeDiscover, env.sent[0].msg.MessageType())
}

func TestClient_Start_alreadyStarted(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env := newTestEnv(t, nil)

	require.NoError(t, env.client.Start(ctx))

	err := env.client.Start(ctx)
	testutil.AssertErrorMsg(t, "dhcpc: already started", err)
}

func TestClient_acquire(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env := newTestEnv(t, nil)
	startTime := env.now

	bindTestLease(t, ctx, env)

	// The exchange is one discover and one request; the address check sends
	// no messages.
	require.Len(t, env.sent, 2)

	discover, request := env.sent[0], env.sent[1]
	assert.Equal(t, dhcpv4.MessageTypeDiscover, discover.msg.MessageType())

	req := request.msg
	assert.Equal(t, dhcpv4.MessageTypeRequest, req.MessageType())
	assert.Equal(t, net.IP(testLeasedIP.AsSlice()), req.RequestedIPAddress())
	assert.Equal(t, net.IP(testServerID.AsSlice()), req.ServerIdentifier())

	// The request continues the transaction of the offer.
	assert.Equal(t, discover.msg.TransactionID, req.TransactionID)

	// Both probes targeted the candidate address.
	assert.Equal(t, []netip.Addr{testLeasedIP, testLeasedIP}, env.arpProbes)

	assert.Equal(t, testPrefix, env.addr)
	assert.Equal(t, testRouter, env.gateway)

	want := testLease()

	require.Len(t, env.events, 1)
	assert.Equal(t, dhcpc.EventLeaseObtained, env.events[0].event)
	assert.Equal(t, want, env.events[0].lease)

	assert.True(t, env.client.HasLease())
	assert.Equal(t, want, env.client.Lease())
	assert.Equal(t, want, env.client.LeaseOrNil())

	// The renewal deadline counts from when the request was sent, not from
	// when the address check finished.
	assert.True(t, env.armed)
	assert.Equal(t, startTime.Add(time.Duration(testRenewalTime)*time.Second), env.target)
}

func TestClient_Shutdown(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env := newTestEnv(t, nil)

	bindTestLease(t, ctx, env)

	require.NoError(t, env.client.Shutdown(ctx))

	assert.Equal(t, dhcpc.StateLinkDown, env.client.State())
	assert.False(t, env.client.HasLease())
	assert.False(t, env.armed)

	assert.Equal(t, netip.Prefix{}, env.addr)
	assert.Equal(t, netip.Addr{}, env.gateway)

	// Shutting down is not a lease event.
	assert.Len(t, env.events, 1)

	assert.Panics(t, func() { _ = env.client.Lease() })
	assert.Nil(t, env.client.LeaseOrNil())
}
