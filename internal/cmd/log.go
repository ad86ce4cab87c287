package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns a new logger configured from the log settings and the
// command-line options.  conf may be nil.
func newLogger(conf *logConfig, opts *options) (l *slog.Logger) {
	if conf == nil {
		conf = &logConfig{}
	}

	lvl := slog.LevelInfo
	if conf.Verbose || opts.verbose {
		lvl = slog.LevelDebug
	}

	// Command-line arguments can override config settings.
	logFilePath := conf.File
	if opts.logFile != "" {
		logFilePath = opts.logFile
	}

	var output io.Writer = os.Stdout
	if logFilePath != "" {
		if !filepath.IsAbs(logFilePath) {
			logFilePath = filepath.Join(opts.workDir, logFilePath)
		}

		output = &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    int(conf.MaxSize.MBytes()),
			MaxBackups: conf.MaxBackups,
			MaxAge:     conf.MaxAge,
			Compress:   conf.Compress,
		}
	}

	return slogutil.New(&slogutil.Config{
		Output:       output,
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})
}
