package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
)

// appSignals is the channel through which the termination signals are
// delivered.  It is a package-level variable so that [program.Stop] can
// inject a signal when the service manager stops the daemon.
var appSignals chan os.Signal

// notifySignals subscribes to the signals the daemon reacts to and stores
// the channel in [appSignals].
func notifySignals() (signals chan os.Signal) {
	signals = make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	appSignals = signals

	return signals
}

// handleSignals blocks until a termination signal arrives and then calls
// cleanup.  SIGHUP is ignored, since the daemon has no runtime-reloadable
// configuration.
func handleSignals(
	ctx context.Context,
	logger *slog.Logger,
	signals chan os.Signal,
	cleanup func(ctx context.Context) (err error),
) (exitCode int) {
	for sig := range signals {
		logger.InfoContext(ctx, "received signal", "signal", sig.String())

		if sig == syscall.SIGHUP {
			logger.InfoContext(ctx, "ignoring sighup")

			continue
		}

		err := cleanup(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "shutting down", slogutil.KeyError, err)

			return osutil.ExitCodeFailure
		}

		return osutil.ExitCodeSuccess
	}

	return osutil.ExitCodeSuccess
}
