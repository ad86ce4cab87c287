package dhcpc

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// Default values of the [Config] tunables.  They match the RFC 2131
// suggestions where it makes any, and otherwise are conservative values
// proven by deployment.
const (
	// DefaultBaseRtxTimeout is the initial retransmission timeout of
	// discovers and requests.
	DefaultBaseRtxTimeout = 3 * time.Second

	// DefaultMaxRtxTimeout caps the doubling retransmission timeout.
	DefaultMaxRtxTimeout = 64 * time.Second

	// DefaultResetTimeout is the settle delay before restarting discovery
	// after a NAK following an offer or after an address conflict.
	DefaultResetTimeout = 3 * time.Second

	// DefaultMinRenewRtxTimeout is the minimum interval between renewal and
	// rebinding requests.
	DefaultMinRenewRtxTimeout = 60 * time.Second

	// DefaultARPResponseTimeout is how long to wait for a conflicting ARP
	// reply after each probe.
	DefaultARPResponseTimeout = 1 * time.Second

	// DefaultMaxTimerInterval bounds a single timer arm.  Deadlines further
	// away are reached through several arms, which lets the client re-check
	// the actually elapsed time periodically and so catch up after system
	// suspend or timer delays.
	DefaultMaxTimerInterval = 1 * time.Hour

	// MinMaxTimerInterval is the lowest allowed value of
	// [Config.MaxTimerInterval].  It must comfortably exceed every other
	// timeout of the client.
	MinMaxTimerInterval = 5 * time.Minute
)

// Default values of the counter tunables of [Config].
const (
	// DefaultXIDReuseMax is how many discovers are sent with the same
	// transaction ID before generating a new one.
	DefaultXIDReuseMax uint8 = 3

	// DefaultMaxRequests is how many requests are sent after an offer before
	// reverting to discovery.
	DefaultMaxRequests uint8 = 3

	// DefaultMaxRebootRequests is how many requests for a previously known
	// address are sent before reverting to discovery.
	DefaultMaxRebootRequests uint8 = 2

	// DefaultNumARPQueries is how many ARP probes of the acknowledged
	// address are sent before considering it conflict-free.
	DefaultNumARPQueries uint8 = 2

	// DefaultMaxDNSServers is how many DNS servers of an acknowledgement are
	// kept.
	DefaultMaxDNSServers = 2

	// maxClientIDLen is the longest usable client-identifier option value.
	maxClientIDLen = 255
)

// Config is the DHCP client configuration.
type Config struct {
	// Logger is used to log the operation of the client.  It must not be
	// nil.
	Logger *slog.Logger

	// Clock tells the current time.  It must not be nil and should have
	// monotonic behavior, since all deadline arithmetic is based on it.
	Clock timeutil.Clock

	// Timer is the single one-shot timer of the client.  It must not be nil,
	// and its expiries must be delivered through [Client.HandleTimer].
	Timer Timer

	// Transport sends and receives the DHCP datagrams.  It must not be nil.
	Transport Transport

	// Link exposes the Ethernet facilities of the managed interface.  It
	// must not be nil and must report a 6-byte hardware address.
	Link LinkLayer

	// Configurator applies and removes the negotiated address and gateway.
	// It must not be nil.
	Configurator Configurator

	// OnEvent, if not nil, is called to report lease lifecycle events.
	OnEvent EventHandler

	// RequestAddr, if valid, is a previously known address to request
	// through [StateRebooting] before falling back to discovery.
	RequestAddr netip.Addr

	// ClientID, if not empty, is sent verbatim as the client-identifier
	// option in every message.  It must be at most 255 bytes.
	ClientID []byte

	// VendorClassID, if not empty, is sent as the vendor-class-identifier
	// option in every message except Decline.  It must be at most 255 bytes.
	VendorClassID []byte

	// BaseRtxTimeout is the initial retransmission timeout.  It must be
	// positive.  Zero means [DefaultBaseRtxTimeout].
	BaseRtxTimeout time.Duration

	// MaxRtxTimeout caps the doubling retransmission timeout.  It must not
	// be less than BaseRtxTimeout.  Zero means [DefaultMaxRtxTimeout].
	MaxRtxTimeout time.Duration

	// ResetTimeout is the settle delay before restarting discovery after a
	// NAK following an offer or after an address conflict.  Zero means
	// [DefaultResetTimeout].
	ResetTimeout time.Duration

	// MinRenewRtxTimeout is the minimum interval between renewal requests.
	// Zero means [DefaultMinRenewRtxTimeout].
	MinRenewRtxTimeout time.Duration

	// ARPResponseTimeout is how long to wait for a conflicting ARP reply
	// after each probe.  Zero means [DefaultARPResponseTimeout].
	ARPResponseTimeout time.Duration

	// MaxTimerInterval bounds a single timer arm.  It must be at least
	// [MinMaxTimerInterval] and not exceed [Timer.MaxInterval].  Zero means
	// [DefaultMaxTimerInterval].
	MaxTimerInterval time.Duration

	// MaxDNSServers is how many DNS servers of an acknowledgement are kept.
	// Zero means [DefaultMaxDNSServers].
	MaxDNSServers int

	// XIDReuseMax is how many discovers are sent with the same transaction
	// ID before generating a new one.  Zero means [DefaultXIDReuseMax].
	XIDReuseMax uint8

	// MaxRequests is how many requests are sent after an offer before
	// reverting to discovery.  Zero means [DefaultMaxRequests].
	MaxRequests uint8

	// MaxRebootRequests is how many requests for a previously known address
	// are sent before reverting to discovery.  Zero means
	// [DefaultMaxRebootRequests].
	MaxRebootRequests uint8

	// NumARPQueries is how many ARP probes of the acknowledged address are
	// sent before considering it conflict-free.  Zero means
	// [DefaultNumARPQueries].
	NumARPQueries uint8
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.  It
// does not check the fields that [Client] defaults on zero values.
func (conf *Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("conf.Logger", conf.Logger),
		validate.NotNilInterface("conf.Clock", conf.Clock),
		validate.NotNilInterface("conf.Timer", conf.Timer),
		validate.NotNilInterface("conf.Transport", conf.Transport),
		validate.NotNilInterface("conf.Link", conf.Link),
		validate.NotNilInterface("conf.Configurator", conf.Configurator),
		validate.NotNegative("conf.BaseRtxTimeout", conf.BaseRtxTimeout),
		validate.NotNegative("conf.MaxRtxTimeout", conf.MaxRtxTimeout),
		validate.NotNegative("conf.ResetTimeout", conf.ResetTimeout),
		validate.NotNegative("conf.MinRenewRtxTimeout", conf.MinRenewRtxTimeout),
		validate.NotNegative("conf.ARPResponseTimeout", conf.ARPResponseTimeout),
		validate.NotNegative("conf.MaxDNSServers", conf.MaxDNSServers),
	}

	if conf.RequestAddr.IsValid() && !conf.RequestAddr.Is4() {
		errs = append(
			errs,
			fmt.Errorf("conf.RequestAddr: %w: not an ipv4 address", errors.ErrUnsupported),
		)
	}

	if l := len(conf.ClientID); l > maxClientIDLen {
		errs = append(errs, fmt.Errorf("conf.ClientID: at most %d bytes, got %d", maxClientIDLen, l))
	}

	if l := len(conf.VendorClassID); l > maxClientIDLen {
		errs = append(
			errs,
			fmt.Errorf("conf.VendorClassID: at most %d bytes, got %d", maxClientIDLen, l),
		)
	}

	if m, b := conf.MaxRtxTimeout, conf.BaseRtxTimeout; m != 0 && m < b {
		errs = append(errs, fmt.Errorf("conf.MaxRtxTimeout: %s is less than base %s", m, b))
	}

	if m := conf.MaxTimerInterval; m != 0 && m < MinMaxTimerInterval {
		errs = append(
			errs,
			fmt.Errorf("conf.MaxTimerInterval: %s is less than minimum %s", m, MinMaxTimerInterval),
		)
	}

	if conf.Link != nil {
		if mac := conf.Link.MAC(); len(mac) != ethAddrLen {
			errs = append(errs, fmt.Errorf("conf.Link: %w: mac %s", errUnsupportedHW, mac))
		}
	}

	return errors.Join(errs...)
}

// withDefaults returns a copy of conf with the zero tunables replaced by the
// defaults.  conf must be valid.
func (conf *Config) withDefaults() (c *Config) {
	c = &Config{}
	*c = *conf

	setIfZero(&c.BaseRtxTimeout, DefaultBaseRtxTimeout)
	setIfZero(&c.MaxRtxTimeout, DefaultMaxRtxTimeout)
	setIfZero(&c.ResetTimeout, DefaultResetTimeout)
	setIfZero(&c.MinRenewRtxTimeout, DefaultMinRenewRtxTimeout)
	setIfZero(&c.ARPResponseTimeout, DefaultARPResponseTimeout)
	setIfZero(&c.MaxTimerInterval, DefaultMaxTimerInterval)
	setIfZero(&c.MaxDNSServers, DefaultMaxDNSServers)
	setIfZero(&c.XIDReuseMax, DefaultXIDReuseMax)
	setIfZero(&c.MaxRequests, DefaultMaxRequests)
	setIfZero(&c.MaxRebootRequests, DefaultMaxRebootRequests)
	setIfZero(&c.NumARPQueries, DefaultNumARPQueries)

	return c
}

// setIfZero sets *fld to def if *fld is the zero value of its type.
func setIfZero[T comparable](fld *T, def T) {
	var zero T
	if *fld == zero {
		*fld = def
	}
}
