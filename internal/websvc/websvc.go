// Package websvc contains the small HTTP service of the daemon, serving the
// lease status and the Prometheus metrics.
package websvc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/NYTimes/gziphandler"
	"github.com/lanstead/dhcpc/internal/dhcpc"
)

// Paths of the HTTP API.
const (
	PathStatus  = "/status"
	PathMetrics = "/metrics"
)

// StatusClient is the view of the DHCP client the status handler needs.
type StatusClient interface {
	// State returns the current protocol state.
	State() (s dhcpc.State)

	// LeaseOrNil returns a snapshot of the active lease, or nil if no lease
	// is active.  It must be safe to call concurrently with events that may
	// withdraw the lease.
	LeaseOrNil() (l *dhcpc.Lease)
}

// Service is the HTTP service of the daemon.  A nil *Service is a valid
// [service.Interface] that does nothing, which is how a disabled web service
// is expressed.
type Service struct {
	logger *slog.Logger
	client StatusClient
	srv    *http.Server

	// listener is set on a successful [Service.Start].
	listener net.Listener

	start time.Time
	iface string
	addr  netip.AddrPort
}

// Config is the configuration of the HTTP service.
type Config struct {
	// Logger is used to log the operation of the service.  It must not be
	// nil.
	Logger *slog.Logger

	// Client is the DHCP client to report the status of.  It must not be
	// nil.
	Client StatusClient

	// MetricsHandler, if not nil, is served on [PathMetrics].
	MetricsHandler http.Handler

	// InterfaceName is the name of the managed interface, reported in the
	// status.  It must not be empty.
	InterfaceName string

	// StartTime is when the daemon started, for the uptime in the status.
	StartTime time.Time

	// Addr is the address to serve on.  It must be valid.
	Addr netip.AddrPort
}

// New creates a new HTTP service.  If conf is nil, svc is nil, which is a
// usable no-op service.
func New(conf *Config) (svc *Service, err error) {
	if conf == nil {
		return nil, nil
	}

	err = errors.Join(
		validate.NotNil("conf.Logger", conf.Logger),
		validate.NotNilInterface("conf.Client", conf.Client),
		validate.NotEmpty("conf.InterfaceName", conf.InterfaceName),
		validate.NotEmpty("conf.Addr", conf.Addr),
	)
	if err != nil {
		return nil, fmt.Errorf("websvc: %w", err)
	}

	svc = &Service{
		logger: conf.Logger,
		client: conf.Client,
		start:  conf.StartTime,
		iface:  conf.InterfaceName,
		addr:   conf.Addr,
	}

	mux := http.NewServeMux()
	mux.Handle(PathStatus, gziphandler.GzipHandler(http.HandlerFunc(svc.handleStatus)))
	if conf.MetricsHandler != nil {
		mux.Handle(PathMetrics, conf.MetricsHandler)
	}

	svc.srv = &http.Server{
		Addr:    conf.Addr.String(),
		Handler: mux,
	}

	return svc, nil
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  svc may
// be nil.
func (svc *Service) Start(ctx context.Context) (err error) {
	if svc == nil {
		return nil
	}

	l, err := net.Listen("tcp", svc.srv.Addr)
	if err != nil {
		return fmt.Errorf("websvc: listening on %s: %w", svc.srv.Addr, err)
	}

	svc.listener = l
	svc.logger.InfoContext(ctx, "started", "addr", l.Addr())

	go func() {
		defer slogutil.RecoverAndLog(ctx, svc.logger)

		serveErr := svc.srv.Serve(l)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			svc.logger.ErrorContext(ctx, "serving", slogutil.KeyError, serveErr)
		}
	}()

	return nil
}

// Addr returns the address the service actually serves on.  It must only be
// called after a successful [Service.Start].
func (svc *Service) Addr() (addr netip.AddrPort) {
	return svc.listener.Addr().(*net.TCPAddr).AddrPort()
}

// Shutdown implements the [service.Interface] interface for *Service.  svc
// may be nil.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	if svc == nil {
		return nil
	}

	return errors.Annotate(svc.srv.Shutdown(ctx), "websvc: shutting down: %w")
}
