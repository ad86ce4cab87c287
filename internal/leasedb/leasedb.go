// Package leasedb persists the most recently bound lease, so that after a
// restart the daemon can ask for its previous address instead of going
// through full discovery.
package leasedb

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/google/renameio/v2/maybe"
)

// dataVersion is the current version of the stored lease structure.
const dataVersion = 1

// filePerm is the permissions for the database file.
const filePerm fs.FileMode = 0o640

// dbLease is the structure of the stored lease.
type dbLease struct {
	// Acquired is when the lease was bound, in RFC 3339 format.
	Acquired time.Time `json:"acquired"`

	// IP is the leased address.
	IP netip.Addr `json:"ip"`

	// InterfaceName is the name of the interface the lease was bound on.
	InterfaceName string `json:"iface"`

	// LeaseTime is the duration of the lease in seconds.
	LeaseTime uint32 `json:"lease_time"`

	// Version is the version of the structure.
	Version int `json:"version"`
}

// DB remembers the last bound lease in a JSON file.
type DB struct {
	logger *slog.Logger
	clock  func() (now time.Time)
	path   string
	iface  string
}

// Config is the configuration of the lease database.
type Config struct {
	// Logger is used to log the operation of the database.  It must not be
	// nil.
	Logger *slog.Logger

	// Path is the path to the database file.  It must not be empty.
	Path string

	// InterfaceName is the name of the managed interface.  A stored lease
	// for a different interface is ignored on load.  It must not be empty.
	InterfaceName string
}

// New creates a new lease database.  The file at conf.Path is not touched
// until the first store.
func New(conf *Config) (db *DB, err error) {
	err = errors.Join(
		validate.NotNil("conf.Logger", conf.Logger),
		validate.NotEmpty("conf.Path", conf.Path),
		validate.NotEmpty("conf.InterfaceName", conf.InterfaceName),
	)
	if err != nil {
		return nil, fmt.Errorf("leasedb: %w", err)
	}

	return &DB{
		logger: conf.Logger,
		clock:  time.Now,
		path:   conf.Path,
		iface:  conf.InterfaceName,
	}, nil
}

// Load returns the address of the stored lease, if a usable one exists.  A
// missing file, a stale structure, a lease for another interface, and an
// expired lease all yield an invalid addr and no error.
func (db *DB) Load(ctx context.Context) (addr netip.Addr, err error) {
	defer func() { err = errors.Annotate(err, "leasedb: loading: %w") }()

	data, err := os.ReadFile(db.path)
	if errors.Is(err, os.ErrNotExist) {
		return netip.Addr{}, nil
	} else if err != nil {
		return netip.Addr{}, err
	}

	dl := &dbLease{}
	err = json.Unmarshal(data, dl)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("decoding %q: %w", db.path, err)
	}

	switch {
	case dl.Version != dataVersion:
		db.logger.WarnContext(ctx, "ignoring stored lease", "version", dl.Version)
	case dl.InterfaceName != db.iface:
		db.logger.InfoContext(ctx, "ignoring stored lease", "iface", dl.InterfaceName)
	case db.clock().After(dl.Acquired.Add(time.Duration(dl.LeaseTime) * time.Second)):
		db.logger.InfoContext(ctx, "ignoring expired stored lease", "ip", dl.IP)
	default:
		return dl.IP, nil
	}

	return netip.Addr{}, nil
}

// Store atomically writes the lease with address ip and duration leaseTime to
// the database file.
func (db *DB) Store(ctx context.Context, ip netip.Addr, leaseTime uint32) (err error) {
	defer func() { err = errors.Annotate(err, "leasedb: storing: %w") }()

	data, err := json.Marshal(&dbLease{
		Acquired:      db.clock(),
		IP:            ip,
		InterfaceName: db.iface,
		LeaseTime:     leaseTime,
		Version:       dataVersion,
	})
	if err != nil {
		return err
	}

	err = maybe.WriteFile(db.path, data, filePerm)
	if err != nil {
		return err
	}

	db.logger.DebugContext(ctx, "stored lease", "ip", ip, "path", db.path)

	return nil
}

// Clear removes the database file.  Clearing an already absent file is not an
// error.
func (db *DB) Clear(ctx context.Context) (err error) {
	err = os.Remove(db.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("leasedb: clearing: %w", err)
	}

	db.logger.DebugContext(ctx, "cleared stored lease", "path", db.path)

	return nil
}
