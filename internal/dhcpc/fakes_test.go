package dhcpc_test

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/lanstead/dhcpc/internal/dhcpc"
)

// testTransport is a mock implementation of the [dhcpc.Transport] interface.
type testTransport struct {
	onSend func(pld []byte, src, dst netip.Addr, dstMAC net.HardwareAddr) (err error)
}

// type check
var _ dhcpc.Transport = (*testTransport)(nil)

// Send implements the [dhcpc.Transport] interface for *testTransport.
func (t *testTransport) Send(
	pld []byte,
	src netip.Addr,
	dst netip.Addr,
	dstMAC net.HardwareAddr,
) (err error) {
	return t.onSend(pld, src, dst, dstMAC)
}

// testLinkLayer is a mock implementation of the [dhcpc.LinkLayer] interface.
type testLinkLayer struct {
	onMAC          func() (mac net.HardwareAddr)
	onMTU          func() (mtu uint32)
	onLinkUp       func() (ok bool)
	onSendARPQuery func(ip netip.Addr) (err error)
}

// type check
var _ dhcpc.LinkLayer = (*testLinkLayer)(nil)

// MAC implements the [dhcpc.LinkLayer] interface for *testLinkLayer.
func (l *testLinkLayer) MAC() (mac net.HardwareAddr) { return l.onMAC() }

// MTU implements the [dhcpc.LinkLayer] interface for *testLinkLayer.
func (l *testLinkLayer) MTU() (mtu uint32) { return l.onMTU() }

// LinkUp implements the [dhcpc.LinkLayer] interface for *testLinkLayer.
func (l *testLinkLayer) LinkUp() (ok bool) { return l.onLinkUp() }

// SendARPQuery implements the [dhcpc.LinkLayer] interface for *testLinkLayer.
func (l *testLinkLayer) SendARPQuery(ip netip.Addr) (err error) { return l.onSendARPQuery(ip) }

// testConfigurator is a mock implementation of the [dhcpc.Configurator]
// interface.
type testConfigurator struct {
	onApplyAddr     func(ctx context.Context, addr netip.Prefix) (err error)
	onRemoveAddr    func(ctx context.Context) (err error)
	onApplyGateway  func(ctx context.Context, gw netip.Addr) (err error)
	onRemoveGateway func(ctx context.Context) (err error)
}

// type check
var _ dhcpc.Configurator = (*testConfigurator)(nil)

// ApplyAddr implements the [dhcpc.Configurator] interface for
// *testConfigurator.
func (c *testConfigurator) ApplyAddr(ctx context.Context, addr netip.Prefix) (err error) {
	return c.onApplyAddr(ctx, addr)
}

// RemoveAddr implements the [dhcpc.Configurator] interface for
// *testConfigurator.
func (c *testConfigurator) RemoveAddr(ctx context.Context) (err error) {
	return c.onRemoveAddr(ctx)
}

// ApplyGateway implements the [dhcpc.Configurator] interface for
// *testConfigurator.
func (c *testConfigurator) ApplyGateway(ctx context.Context, gw netip.Addr) (err error) {
	return c.onApplyGateway(ctx, gw)
}

// RemoveGateway implements the [dhcpc.Configurator] interface for
// *testConfigurator.
func (c *testConfigurator) RemoveGateway(ctx context.Context) (err error) {
	return c.onRemoveGateway(ctx)
}

// testTimer is a mock implementation of the [dhcpc.Timer] interface.
type testTimer struct {
	onArm         func(target time.Time)
	onTarget      func() (target time.Time)
	onDisarm      func()
	onMaxInterval func() (d time.Duration)
}

// type check
var _ dhcpc.Timer = (*testTimer)(nil)

// Arm implements the [dhcpc.Timer] interface for *testTimer.
func (t *testTimer) Arm(target time.Time) { t.onArm(target) }

// Target implements the [dhcpc.Timer] interface for *testTimer.
func (t *testTimer) Target() (target time.Time) { return t.onTarget() }

// Disarm implements the [dhcpc.Timer] interface for *testTimer.
func (t *testTimer) Disarm() { t.onDisarm() }

// MaxInterval implements the [dhcpc.Timer] interface for *testTimer.
func (t *testTimer) MaxInterval() (d time.Duration) { return t.onMaxInterval() }
