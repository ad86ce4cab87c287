// Package cmd is the dhcpc entry point.  It reads the configuration,
// assembles the daemon from the protocol engine and its operating-system
// collaborators, and sets up the signal processing logic.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/lanstead/dhcpc/internal/version"
)

// Main is the entry point of dhcpc.
func Main() {
	cmdName := os.Args[0]
	opts, err := parseOptions(cmdName, os.Args[1:])
	exitCode, needExit := processOptions(opts, cmdName, err)
	if needExit {
		os.Exit(exitCode)
	}

	ctx := context.Background()

	switch opts.serviceAction {
	case "":
		os.Exit(run(ctx, opts))
	case serviceActionRun:
		os.Exit(runAsService(opts))
	default:
		os.Exit(control(opts))
	}
}

// shutdownTimeout bounds the graceful shutdown of the daemon.
const shutdownTimeout = 5 * time.Second

// run runs the daemon until a termination signal arrives and returns the
// exit code of the process.
func run(ctx context.Context, opts *options) (exitCode int) {
	if opts.workDir != "" {
		err := os.Chdir(opts.workDir)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "changing working directory: %s\n", err)

			return osutil.ExitCodeFailure
		}
	}

	conf, err := readConfig(opts.confFile)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		return osutil.ExitCodeFailure
	}

	logger := newLogger(conf.Log, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d, err := newDaemon(ctx, logger, conf, opts)
	if err != nil {
		logger.ErrorContext(ctx, "initializing", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	signals := notifySignals()

	err = d.start(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "starting", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	logger.InfoContext(
		ctx,
		"dhcpc started",
		"version", version.Version(),
		"pid", os.Getpid(),
		"iface", conf.DHCP.Interface,
	)

	return handleSignals(ctx, logger, signals, func(ctx context.Context) (err error) {
		cancel()

		ctx, sdCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer sdCancel()

		return d.shutdown(ctx)
	})
}
