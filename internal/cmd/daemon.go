package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/google/renameio/v2/maybe"
	"github.com/lanstead/dhcpc/internal/arpprobe"
	"github.com/lanstead/dhcpc/internal/dhcpc"
	"github.com/lanstead/dhcpc/internal/dhcpconn"
	"github.com/lanstead/dhcpc/internal/leasedb"
	"github.com/lanstead/dhcpc/internal/metrics"
	"github.com/lanstead/dhcpc/internal/netcheck"
	"github.com/lanstead/dhcpc/internal/rtnl"
	"github.com/lanstead/dhcpc/internal/websvc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// eventChanSize is the size of the channels feeding the event loop.  The
// serving goroutines block once their channel is full, which also bounds how
// many datagrams are held while the loop is busy.
const eventChanSize = 16

// daemon ties the protocol engine to the operating system: the packet
// sockets, the netlink sockets, the lease database, and the HTTP endpoints.
// All events are delivered to the engine by a single goroutine, see
// [daemon.loop].
type daemon struct {
	logger  *slog.Logger
	client  *dhcpc.Client
	timer   *dhcpc.SystemTimer
	conn    *dhcpconn.Conn
	prober  *arpprobe.Prober
	monitor *rtnl.Monitor
	netConf *rtnl.Configurator
	web     *websvc.Service
	checker *netcheck.Checker
	db      *leasedb.DB
	metrics *metrics.Recorder

	packets     chan *dhcpc.Packet
	arpReplies  chan netip.Addr
	linkChanges chan bool

	pidFile string
}

// newDaemon creates the daemon and all of its components from the validated
// configuration.  ctx is used for the background tasks the daemon spawns
// during its lifetime.
func newDaemon(
	ctx context.Context,
	logger *slog.Logger,
	conf *configuration,
	opts *options,
) (d *daemon, err error) {
	iface, err := net.InterfaceByName(conf.DHCP.Interface)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %q: %w", conf.DHCP.Interface, err)
	}

	d = &daemon{
		logger:      logger,
		packets:     make(chan *dhcpc.Packet, eventChanSize),
		arpReplies:  make(chan netip.Addr, eventChanSize),
		linkChanges: make(chan bool, eventChanSize),
		pidFile:     opts.pidFile,
	}

	reg := prometheus.NewRegistry()
	d.metrics, err = metrics.New(&metrics.Config{
		Registerer: reg,
		StateFunc:  d.stateOrdinal,
	})
	if err != nil {
		return nil, err
	}

	err = d.initNetwork(logger, iface)
	if err != nil {
		return nil, err
	}

	requestAddr, err := d.initLeaseDB(ctx, logger, conf)
	if err != nil {
		return nil, err
	}

	err = d.initClient(ctx, logger, conf, iface, requestAddr)
	if err != nil {
		return nil, err
	}

	err = d.initHTTP(conf, reg)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// stateOrdinal returns the ordinal of the current protocol state for the
// state gauge.
func (d *daemon) stateOrdinal() (ordinal float64) {
	if d.client == nil {
		return 0
	}

	return float64(d.client.State())
}

// initNetwork opens the packet and netlink sockets.
func (d *daemon) initNetwork(logger *slog.Logger, iface *net.Interface) (err error) {
	d.conn, err = dhcpconn.Listen(&dhcpconn.Config{
		Logger:    logger.With(slogutil.KeyPrefix, "dhcpconn"),
		Interface: iface,
		Metrics:   d.metrics,
	})
	if err != nil {
		return fmt.Errorf("opening dhcp socket: %w", err)
	}

	d.prober, err = arpprobe.Listen(&arpprobe.Config{
		Logger:    logger.With(slogutil.KeyPrefix, "arpprobe"),
		Interface: iface,
	})
	if err != nil {
		return fmt.Errorf("opening arp socket: %w", err)
	}

	d.netConf, err = rtnl.NewConfigurator(&rtnl.ConfiguratorConfig{
		Logger:         logger.With(slogutil.KeyPrefix, "rtnl"),
		InterfaceIndex: iface.Index,
	})
	if err != nil {
		return fmt.Errorf("opening netlink socket: %w", err)
	}

	d.monitor, err = rtnl.NewMonitor(&rtnl.MonitorConfig{
		Logger:         logger.With(slogutil.KeyPrefix, "rtnl"),
		InterfaceIndex: iface.Index,
	})
	if err != nil {
		return fmt.Errorf("subscribing to link notifications: %w", err)
	}

	return nil
}

// initLeaseDB creates the lease database, if enabled, and restores the
// address to request on startup.
func (d *daemon) initLeaseDB(
	ctx context.Context,
	logger *slog.Logger,
	conf *configuration,
) (requestAddr netip.Addr, err error) {
	requestAddr = conf.DHCP.RequestAddr

	if conf.LeaseDB == nil || !conf.LeaseDB.Enabled {
		return requestAddr, nil
	}

	d.db, err = leasedb.New(&leasedb.Config{
		Logger:        logger.With(slogutil.KeyPrefix, "leasedb"),
		Path:          conf.LeaseDB.Path,
		InterfaceName: conf.DHCP.Interface,
	})
	if err != nil {
		return netip.Addr{}, err
	}

	if requestAddr.IsValid() {
		// The configured address takes precedence over the stored one.
		return requestAddr, nil
	}

	requestAddr, err = d.db.Load(ctx)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("restoring lease: %w", err)
	}

	return requestAddr, nil
}

// initClient creates the protocol engine and, if enabled, the connectivity
// checker.
func (d *daemon) initClient(
	ctx context.Context,
	logger *slog.Logger,
	conf *configuration,
	iface *net.Interface,
	requestAddr netip.Addr,
) (err error) {
	dc := conf.DHCP

	clientID, err := parseClientID(dc.ClientID, iface.HardwareAddr)
	if err != nil {
		return err
	}

	if nc := conf.Netcheck; nc != nil && nc.Enabled {
		d.checker, err = netcheck.New(&netcheck.Config{
			Logger:     logger.With(slogutil.KeyPrefix, "netcheck"),
			Timeout:    time.Duration(nc.Timeout),
			Privileged: os.Geteuid() == 0,
		})
		if err != nil {
			return err
		}
	}

	clock := timeutil.SystemClock{}
	maxIvl := time.Duration(dc.MaxTimerInterval)
	if maxIvl == 0 {
		maxIvl = dhcpc.DefaultMaxTimerInterval
	}

	d.timer = dhcpc.NewSystemTimer(clock, maxIvl)

	d.client, err = dhcpc.New(&dhcpc.Config{
		Logger: logger.With(slogutil.KeyPrefix, "dhcpc"),
		Clock:  clock,
		Timer:  d.timer,
		Transport: &measuredTransport{
			conn:    d.conn,
			metrics: d.metrics,
		},
		Link: &ifaceLink{
			iface:   iface,
			prober:  d.prober,
			monitor: d.monitor,
		},
		Configurator:       d.netConf,
		OnEvent:            d.newEventHandler(ctx),
		RequestAddr:        requestAddr,
		ClientID:           clientID,
		VendorClassID:      []byte(dc.VendorClassID),
		BaseRtxTimeout:     time.Duration(dc.BaseRtxTimeout),
		MaxRtxTimeout:      time.Duration(dc.MaxRtxTimeout),
		ResetTimeout:       time.Duration(dc.ResetTimeout),
		MinRenewRtxTimeout: time.Duration(dc.MinRenewRtxTimeout),
		ARPResponseTimeout: time.Duration(dc.ARPResponseTimeout),
		MaxTimerInterval:   maxIvl,
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	return nil
}

// initHTTP creates the status service, if enabled.
func (d *daemon) initHTTP(conf *configuration, reg *prometheus.Registry) (err error) {
	hc := conf.HTTP
	if hc == nil || !hc.Enabled {
		return nil
	}

	var mh http.Handler
	if hc.Metrics {
		mh = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	d.web, err = websvc.New(&websvc.Config{
		Logger:         d.logger.With(slogutil.KeyPrefix, "websvc"),
		Client:         d.client,
		MetricsHandler: mh,
		InterfaceName:  conf.DHCP.Interface,
		StartTime:      time.Now(),
		Addr:           hc.Addr,
	})
	if err != nil {
		return fmt.Errorf("creating web service: %w", err)
	}

	return nil
}

// newEventHandler returns the lease lifecycle event handler of the daemon.
// taskCtx is used for the tasks the handler spawns, since the handler itself
// is called synchronously by the engine.
func (d *daemon) newEventHandler(taskCtx context.Context) (h dhcpc.EventHandler) {
	return func(ctx context.Context, event dhcpc.Event, lease *dhcpc.Lease) {
		d.metrics.Event(event.String())

		switch event {
		case dhcpc.EventLeaseObtained, dhcpc.EventLeaseRenewed:
			d.handleLeaseBound(ctx, taskCtx, lease)
		case dhcpc.EventLeaseLost:
			d.metrics.ClearLeaseExpiry()
			if d.db != nil {
				d.storeErr(ctx, d.db.Clear(ctx))
			}
		case dhcpc.EventLinkDown:
			// Keep the stored lease so that the address is requested again
			// after a power cycle.
			d.metrics.ClearLeaseExpiry()
		}
	}
}

// handleLeaseBound persists the new lease, updates the metrics, and spawns
// the connectivity probes.
func (d *daemon) handleLeaseBound(ctx, taskCtx context.Context, lease *dhcpc.Lease) {
	expiry := time.Now().Add(time.Duration(lease.LeaseTime) * time.Second)
	d.metrics.SetLeaseExpiry(expiry)

	if d.db != nil {
		d.storeErr(ctx, d.db.Store(ctx, lease.IP, lease.LeaseTime))
	}

	if d.checker != nil {
		go func() {
			defer slogutil.RecoverAndLog(taskCtx, d.logger)

			err := d.checker.Check(taskCtx, lease)
			if err != nil {
				d.logger.WarnContext(taskCtx, "connectivity check", slogutil.KeyError, err)
			}
		}()
	}
}

// storeErr logs a lease database error, if any.  The database is advisory,
// so its failures never interrupt the protocol.
func (d *daemon) storeErr(ctx context.Context, err error) {
	if err != nil {
		d.logger.ErrorContext(ctx, "updating lease db", slogutil.KeyError, err)
	}
}

// start launches the serving goroutines and the protocol engine.
func (d *daemon) start(ctx context.Context) (err error) {
	d.writePID(ctx)

	go d.serveConn(ctx)
	go d.serveProber(ctx)
	go d.serveMonitor(ctx)
	go d.loop(ctx)

	err = d.client.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting client: %w", err)
	}

	err = d.web.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting web service: %w", err)
	}

	return nil
}

// loop delivers all external events to the protocol engine.  It is the only
// goroutine that calls into the engine, which serializes the state machine.
// It is intended to be used as a goroutine.
func (d *daemon) loop(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, d.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.timer.C():
			d.client.HandleTimer(ctx)
		case pkt := <-d.packets:
			d.metrics.MessageReceived(msgTypeLabel(pkt.Payload))
			d.client.HandlePacket(ctx, pkt)
		case ip := <-d.arpReplies:
			d.client.HandleARPReply(ctx, ip)
		case up := <-d.linkChanges:
			d.client.HandleLinkChange(ctx, up)
		case <-d.conn.Ready():
			d.client.HandleSendReady(ctx)
		}
	}
}

// serveConn reads DHCP datagrams into the event loop.  It is intended to be
// used as a goroutine.
func (d *daemon) serveConn(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, d.logger)

	err := d.conn.Serve(ctx, func(ctx context.Context, pkt *dhcpc.Packet) {
		select {
		case <-ctx.Done():
		case d.packets <- pkt:
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.ErrorContext(ctx, "dhcp socket closed", slogutil.KeyError, err)
	}
}

// serveProber reads ARP replies into the event loop.  It is intended to be
// used as a goroutine.
func (d *daemon) serveProber(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, d.logger)

	err := d.prober.Serve(ctx, func(ctx context.Context, ip netip.Addr, _ net.HardwareAddr) {
		select {
		case <-ctx.Done():
		case d.arpReplies <- ip:
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.ErrorContext(ctx, "arp socket closed", slogutil.KeyError, err)
	}
}

// serveMonitor reads link state changes into the event loop.  It is intended
// to be used as a goroutine.
func (d *daemon) serveMonitor(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, d.logger)

	err := d.monitor.Serve(ctx, func(ctx context.Context, up bool) {
		select {
		case <-ctx.Done():
		case d.linkChanges <- up:
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.ErrorContext(ctx, "link monitor closed", slogutil.KeyError, err)
	}
}

// shutdown gracefully stops the daemon.  The engine is shut down first so
// that it can deconfigure the interface before the sockets close.
func (d *daemon) shutdown(ctx context.Context) (err error) {
	var errs []error

	err = d.web.Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down web service: %w", err))
	}

	err = d.client.Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down client: %w", err))
	}

	for _, c := range []io.Closer{d.conn, d.prober, d.monitor, d.netConf} {
		errs = append(errs, c.Close())
	}

	d.removePID(ctx)

	return errors.Join(errs...)
}

// writePID writes the PID to the file.  Any errors are reported to log.
func (d *daemon) writePID(ctx context.Context) {
	if d.pidFile == "" {
		return
	}

	pid := os.Getpid()
	data := strconv.AppendInt(nil, int64(pid), 10)
	data = append(data, '\n')

	err := maybe.WriteFile(d.pidFile, data, 0o644)
	if err != nil {
		d.logger.ErrorContext(ctx, "writing pidfile", slogutil.KeyError, err)

		return
	}

	d.logger.DebugContext(ctx, "wrote pid", "file", d.pidFile, "pid", pid)
}

// removePID removes the PID file.  Any errors are reported to log.
func (d *daemon) removePID(ctx context.Context) {
	if d.pidFile == "" {
		return
	}

	err := os.Remove(d.pidFile)
	if err != nil {
		d.logger.ErrorContext(ctx, "removing pidfile", slogutil.KeyError, err)

		return
	}

	d.logger.DebugContext(ctx, "removed pidfile", "file", d.pidFile)
}
