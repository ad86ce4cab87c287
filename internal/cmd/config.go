package cmd

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// configuration is the on-disk configuration of the dhcpc daemon.
type configuration struct {
	// DHCP configures the protocol engine.  It must not be nil.
	DHCP *dhcpConfig `yaml:"dhcp"`

	// LeaseDB configures the lease persistence.
	LeaseDB *leaseDBConfig `yaml:"lease_db"`

	// HTTP configures the status and metrics endpoints.
	HTTP *httpConfig `yaml:"http"`

	// Netcheck configures the post-bind connectivity probes.
	Netcheck *netcheckConfig `yaml:"netcheck"`

	// Log configures the logging.
	Log *logConfig `yaml:"log"`
}

// type check
var _ validate.Interface = (*configuration)(nil)

// Validate implements the [validate.Interface] interface for *configuration.
func (conf *configuration) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := validate.Append(nil, "dhcp", conf.DHCP)
	errs = validate.Append(errs, "lease_db", conf.LeaseDB)
	errs = validate.Append(errs, "http", conf.HTTP)
	errs = validate.Append(errs, "netcheck", conf.Netcheck)

	return errors.Join(errs...)
}

// dhcpConfig is the configuration of the protocol engine.  Durations and
// counts left zero are set to the protocol defaults by the client.
type dhcpConfig struct {
	// RequestAddr, if set, is the previously known address to request on
	// startup.  It takes precedence over the address restored from the lease
	// database.
	RequestAddr netip.Addr `yaml:"request_addr"`

	// Interface is the name of the managed network interface.
	Interface string `yaml:"interface"`

	// ClientID is the client identifier.  See [parseClientID] for the
	// accepted forms.
	ClientID string `yaml:"client_id"`

	// VendorClassID, if not empty, is sent as the vendor-class-identifier
	// option.
	VendorClassID string `yaml:"vendor_class_id"`

	// BaseRtxTimeout is the initial retransmission timeout.
	BaseRtxTimeout timeutil.Duration `yaml:"base_rtx_timeout"`

	// MaxRtxTimeout caps the doubling retransmission timeout.
	MaxRtxTimeout timeutil.Duration `yaml:"max_rtx_timeout"`

	// ResetTimeout is the settle delay before restarting discovery.
	ResetTimeout timeutil.Duration `yaml:"reset_timeout"`

	// MinRenewRtxTimeout is the minimum interval between renewal requests.
	MinRenewRtxTimeout timeutil.Duration `yaml:"min_renew_rtx_timeout"`

	// ARPResponseTimeout is how long to wait for a conflicting ARP reply
	// after each probe of an acknowledged address.
	ARPResponseTimeout timeutil.Duration `yaml:"arp_response_timeout"`

	// MaxTimerInterval bounds a single timer arm.
	MaxTimerInterval timeutil.Duration `yaml:"max_timer_interval"`
}

// type check
var _ validate.Interface = (*dhcpConfig)(nil)

// Validate implements the [validate.Interface] interface for *dhcpConfig.
func (conf *dhcpConfig) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.NotEmpty("interface", conf.Interface),
		validate.NotNegative("base_rtx_timeout", conf.BaseRtxTimeout),
		validate.NotNegative("max_rtx_timeout", conf.MaxRtxTimeout),
		validate.NotNegative("reset_timeout", conf.ResetTimeout),
		validate.NotNegative("min_renew_rtx_timeout", conf.MinRenewRtxTimeout),
		validate.NotNegative("arp_response_timeout", conf.ARPResponseTimeout),
		validate.NotNegative("max_timer_interval", conf.MaxTimerInterval),
	)
}

// leaseDBConfig is the configuration of the lease persistence.
type leaseDBConfig struct {
	// Path is the path to the lease database file.
	Path string `yaml:"path"`

	// Enabled, if true, makes the daemon restore the last leased address on
	// startup and persist lease changes.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*leaseDBConfig)(nil)

// Validate implements the [validate.Interface] interface for *leaseDBConfig.
func (conf *leaseDBConfig) Validate() (err error) {
	if conf == nil || !conf.Enabled {
		return nil
	}

	return validate.NotEmpty("path", conf.Path)
}

// httpConfig is the configuration of the status and metrics endpoints.
type httpConfig struct {
	// Addr is the address to serve the HTTP endpoints on.
	Addr netip.AddrPort `yaml:"addr"`

	// Enabled, if true, makes the daemon serve the status endpoint.
	Enabled bool `yaml:"enabled"`

	// Metrics, if true, makes the daemon serve Prometheus metrics.
	Metrics bool `yaml:"metrics"`
}

// type check
var _ validate.Interface = (*httpConfig)(nil)

// Validate implements the [validate.Interface] interface for *httpConfig.
func (conf *httpConfig) Validate() (err error) {
	if conf == nil || !conf.Enabled {
		return nil
	}

	if !conf.Addr.IsValid() {
		return fmt.Errorf("addr: %w", errors.ErrNoValue)
	}

	return nil
}

// netcheckConfig is the configuration of the post-bind connectivity probes.
type netcheckConfig struct {
	// Timeout bounds each probe.  Zero means the checker default.
	Timeout timeutil.Duration `yaml:"timeout"`

	// Enabled, if true, makes the daemon probe the gateway and the DNS
	// servers after every lease bind.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*netcheckConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *netcheckConfig.
func (conf *netcheckConfig) Validate() (err error) {
	if conf == nil || !conf.Enabled {
		return nil
	}

	return validate.NotNegative("timeout", conf.Timeout)
}

// logConfig is the configuration of the logging.
type logConfig struct {
	// File is the path to the log file.  If empty, logs are written to
	// stdout.
	File string `yaml:"file"`

	// MaxSize is the maximum size of the log file before it gets rotated.
	MaxSize datasize.ByteSize `yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to retain.  Zero
	// retains all of them.
	MaxBackups int `yaml:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files.  Zero
	// retains them indefinitely.
	MaxAge int `yaml:"max_age"`

	// Compress is whether the rotated log files are gzipped.
	Compress bool `yaml:"compress"`

	// Verbose, if true, enables debug-level logging.
	Verbose bool `yaml:"verbose"`
}

// readConfig reads and validates the configuration file at path.
func readConfig(path string) (conf *configuration, err error) {
	defer func() { err = errors.Annotate(err, "reading config from %q: %w", path) }()

	data, err := os.ReadFile(path)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	conf = &configuration{}
	err = yaml.Unmarshal(data, conf)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}

	return conf, nil
}
