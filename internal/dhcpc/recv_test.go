package dhcpc_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_HandlePacket_drops(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		newPkt func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet)
		name   string
	}{{
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			pkt = newTestOffer(tb, req)
			pkt.SrcPort = dhcpc.ClientPort

			return pkt
		},
		name: "client_port",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			pkt = newTestOffer(tb, req)
			pkt.Src = testBroadcast

			return pkt
		},
		name: "broadcast_src",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			pkt = newTestOffer(tb, req)
			pkt.Src = netip.IPv4Unspecified()

			return pkt
		},
		name: "unspecified_src",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			pkt = newTestOffer(tb, req)
			pkt.Src = netip.MustParseAddr("224.0.0.1")

			return pkt
		},
		name: "multicast_src",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return &dhcpc.Packet{
				Src:     testServerAddr,
				SrcMAC:  testServerMAC,
				Payload: []byte{0x01, 0x02, 0x03},
				SrcPort: dhcpc.ServerPort,
			}
		},
		name: "unparsable",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestOffer(tb, req, func(m *dhcpv4.DHCPv4) {
				m.TransactionID = dhcpv4.TransactionID{0xde, 0xad, 0xbe, 0xef}
			})
		},
		name: "foreign_xid",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestOffer(tb, req, func(m *dhcpv4.DHCPv4) {
				m.ClientHWAddr = testServerMAC
			})
		},
		name: "foreign_chaddr",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestOffer(tb, req, func(m *dhcpv4.DHCPv4) {
				m.OpCode = dhcpv4.OpcodeBootRequest
			})
		},
		name: "not_a_reply",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestOffer(tb, req, func(m *dhcpv4.DHCPv4) {
				m.HWType = iana.HWType(7)
			})
		},
		name: "foreign_hwtype",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestOffer(tb, req, func(m *dhcpv4.DHCPv4) {
				m.DeleteOption(dhcpv4.OptionDHCPMessageType)
			})
		},
		name: "no_message_type",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestOffer(tb, req, func(m *dhcpv4.DHCPv4) {
				m.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeRequest))
			})
		},
		name: "not_a_server_type",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestOffer(tb, req, func(m *dhcpv4.DHCPv4) {
				m.DeleteOption(dhcpv4.OptionServerIdentifier)
			})
		},
		name: "no_server_id",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newTestAck(tb, req)
		},
		name: "ack_in_selecting",
	}, {
		newPkt: func(tb testing.TB, req *dhcpv4.DHCPv4) (pkt *dhcpc.Packet) {
			return newServerReply(tb, req, dhcpv4.MessageTypeNak)
		},
		name: "nak_in_selecting",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			env := newTestEnv(t, nil)

			require.NoError(t, env.client.Start(ctx))

			env.client.HandlePacket(ctx, tc.newPkt(t, env.lastSent(t).msg))

			assert.Equal(t, dhcpc.StateSelecting, env.client.State())
			assert.Len(t, env.sent, 1)
		})
	}
}

func TestClient_HandlePacket_badOffer(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		ip   netip.Addr
		name string
	}{{
		ip:   netip.IPv4Unspecified(),
		name: "unspecified",
	}, {
		ip:   testBroadcast,
		name: "broadcast",
	}, {
		ip:   netip.MustParseAddr("127.0.0.1"),
		name: "loopback",
	}, {
		ip:   netip.MustParseAddr("224.0.0.1"),
		name: "multicast",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			env := newTestEnv(t, nil)

			require.NoError(t, env.client.Start(ctx))

			offer := newServerReply(
				t,
				env.lastSent(t).msg,
				dhcpv4.MessageTypeOffer,
				func(m *dhcpv4.DHCPv4) { m.YourIPAddr = net.IP(tc.ip.AsSlice()) },
			)
			env.client.HandlePacket(ctx, offer)

			assert.Equal(t, dhcpc.StateSelecting, env.client.State())
			assert.Len(t, env.sent, 1)
		})
	}
}

func TestClient_HandlePacket_nak(t *testing.T) {
	t.Parallel()

	t.Run("requesting", func(t *testing.T) {
		ctx := testutil.ContextWithTimeout(t, testTimeout)
		env := newTestEnv(t, nil)

		require.NoError(t, env.client.Start(ctx))

		env.client.HandlePacket(ctx, newTestOffer(t, env.lastSent(t).msg))
		require.Equal(t, dhcpc.StateRequesting, env.client.State())

		req := env.lastSent(t).msg

		// Only the server whose offer is being requested may refuse it.
		foreign := newServerReply(t, req, dhcpv4.MessageTypeNak, func(m *dhcpv4.DHCPv4) {
			m.UpdateOption(dhcpv4.OptServerIdentifier(net.IP{192, 0, 2, 99}))
		})
		env.client.HandlePacket(ctx, foreign)

		assert.Equal(t, dhcpc.StateRequesting, env.client.State())

		env.client.HandlePacket(ctx, newServerReply(t, req, dhcpv4.MessageTypeNak))

		// A refused offer waits out the settle delay before discovery
		// starts over.
		assert.Equal(t, dhcpc.StateResetting, env.client.State())
		assert.Len(t, env.sent, 2)
		assert.Equal(t, env.now.Add(dhcpc.DefaultResetTimeout), env.target)

		env.fireTimer(t, ctx, 0)

		assert.Equal(t, dhcpc.StateSelecting, env.client.State())
		assert.Equal(t, dhcpv4.MessageTypeDiscover, env.lastSent(t).msg.MessageType())
	})

	t.Run("renewing", func(t *testing.T) {
		ctx := testutil.ContextWithTimeout(t, testTimeout)
		env := newTestEnv(t, nil)

		bindTestLease(t, ctx, env)

		env.fireTimer(t, ctx, 0)
		require.Equal(t, dhcpc.StateRenewing, env.client.State())

		// A held address may be refused by any server, and the refusal
		// takes effect at once.
		nak := newServerReply(
			t,
			env.lastSent(t).msg,
			dhcpv4.MessageTypeNak,
			func(m *dhcpv4.DHCPv4) {
				m.UpdateOption(dhcpv4.OptServerIdentifier(net.IP{192, 0, 2, 99}))
			},
		)
		env.client.HandlePacket(ctx, nak)

		assert.Equal(t, dhcpc.StateSelecting, env.client.State())
		assert.False(t, env.client.HasLease())
		assert.Equal(t, dhcpv4.MessageTypeDiscover, env.lastSent(t).msg.MessageType())

		assert.Equal(t, netip.Prefix{}, env.addr)
		assert.Equal(t, netip.Addr{}, env.gateway)

		require.Len(t, env.events, 2)
		assert.Equal(t, dhcpc.EventLeaseLost, env.events[1].event)
	})
}

func TestClient_HandlePacket_notAwaiting(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	env := newTestEnv(t, nil)

	bindTestLease(t, ctx, env)

	sentBefore := len(env.sent)

	// A duplicate of the acknowledgement arrives after the lease is bound.
	env.client.HandlePacket(ctx, newTestAck(t, env.sent[1].msg))

	assert.Equal(t, dhcpc.StateBound, env.client.State())
	assert.Len(t, env.sent, sentBefore)
	assert.Len(t, env.events, 1)
}
