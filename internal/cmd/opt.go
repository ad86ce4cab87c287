package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/osutil"
	"github.com/lanstead/dhcpc/internal/version"
)

// options contains all command-line options for the dhcpc binary.
type options struct {
	// confFile is the path to the configuration file.
	confFile string

	// logFile is the path to the log file.  An empty value means writing to
	// stdout.
	logFile string

	// pidFile is the path to the file where to store the PID.
	pidFile string

	// serviceAction is the service control action to perform:
	//
	//   - "install":  Installs dhcpc as a system service.
	//   - "uninstall":  Uninstalls it.
	//   - "status":  Prints the service status.
	//   - "start":  Starts the previously installed service.
	//   - "stop":  Stops the previously installed service.
	//   - "restart":  Restarts the previously installed service.
	//   - "run":  This is a special command that is not supposed to be used
	//     directly it is specified when we register a service, and it
	//     indicates to the daemon that it is being run as a service.
	serviceAction string

	// workDir is the path to the working directory.  It is applied before
	// the configuration is read, so all relative paths are relative to it.
	workDir string

	// checkConfig, if true, instructs dhcpc to check the configuration file,
	// optionally print an error message to stdout, and exit with a
	// corresponding exit code.
	checkConfig bool

	// help, if true, instructs dhcpc to print the command-line option help
	// message and quit with a successful exit code.
	help bool

	// verbose, if true, instructs dhcpc to enable verbose logging.
	verbose bool

	// version, if true, instructs dhcpc to print the version to stdout and
	// quit with a successful exit code.  If verbose is also true, print a
	// more detailed version description.
	version bool
}

// Indexes to help with the [commandLineOptions] initialization.
const (
	confFileIdx = iota
	logFileIdx
	pidFileIdx
	serviceActionIdx
	workDirIdx
	checkConfigIdx
	helpIdx
	verboseIdx
	versionIdx
)

// commandLineOption contains information about a command-line option: its
// long and, if there is one, short forms, the value type, the description,
// and the default value.
type commandLineOption struct {
	defaultValue any
	description  string
	long         string
	short        string
	valueType    string
}

// commandLineOptions are all command-line options currently supported by
// dhcpc.
var commandLineOptions = []*commandLineOption{
	confFileIdx: {
		defaultValue: "/etc/dhcpc/dhcpc.yaml",
		description:  "Path to the config file.",
		long:         "config",
		short:        "c",
		valueType:    "path",
	},

	logFileIdx: {
		defaultValue: "",
		description:  "Path to the log file.  If empty, write to stdout.",
		long:         "logfile",
		short:        "l",
		valueType:    "path",
	},

	pidFileIdx: {
		defaultValue: "",
		description:  "Path to the file where to store the PID.",
		long:         "pidfile",
		short:        "",
		valueType:    "path",
	},

	serviceActionIdx: {
		defaultValue: "",
		description: `Service control action: "status", "install" (as a service), ` +
			`"uninstall" (as a service), "start", "stop", "restart".`,
		long:      "service",
		short:     "s",
		valueType: "action",
	},

	workDirIdx: {
		defaultValue: "",
		description: `Path to the working directory.  ` +
			`It is applied before the configuration is read, ` +
			`so all relative paths are relative to it.`,
		long:      "work-dir",
		short:     "w",
		valueType: "path",
	},

	checkConfigIdx: {
		defaultValue: false,
		description:  "Check configuration, print errors to stdout, and quit.",
		long:         "check-config",
		short:        "",
		valueType:    "",
	},

	helpIdx: {
		defaultValue: false,
		description:  "Print this help message and quit.",
		long:         "help",
		short:        "h",
		valueType:    "",
	},

	verboseIdx: {
		defaultValue: false,
		description:  "Enable verbose logging.",
		long:         "verbose",
		short:        "v",
		valueType:    "",
	},

	versionIdx: {
		defaultValue: false,
		description: `Print the version to stdout and quit.  ` +
			`Print a more detailed version description with -v.`,
		long:      "version",
		short:     "",
		valueType: "",
	},
}

// parseOptions parses the command-line options for dhcpc.
func parseOptions(cmdName string, args []string) (opts *options, err error) {
	flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)

	opts = &options{}
	for i, fieldPtr := range []any{
		confFileIdx:      &opts.confFile,
		logFileIdx:       &opts.logFile,
		pidFileIdx:       &opts.pidFile,
		serviceActionIdx: &opts.serviceAction,
		workDirIdx:       &opts.workDir,
		checkConfigIdx:   &opts.checkConfig,
		helpIdx:          &opts.help,
		verboseIdx:       &opts.verbose,
		versionIdx:       &opts.version,
	} {
		addOption(flags, fieldPtr, commandLineOptions[i])
	}

	flags.Usage = func() { usage(cmdName, os.Stderr) }

	err = flags.Parse(args)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return opts, nil
}

// addOption adds the command-line option described by o to flags using
// fieldPtr as the pointer to the value.
func addOption(flags *flag.FlagSet, fieldPtr any, o *commandLineOption) {
	switch fieldPtr := fieldPtr.(type) {
	case *string:
		flags.StringVar(fieldPtr, o.long, o.defaultValue.(string), o.description)
		if o.short != "" {
			flags.StringVar(fieldPtr, o.short, o.defaultValue.(string), o.description)
		}
	case *bool:
		flags.BoolVar(fieldPtr, o.long, o.defaultValue.(bool), o.description)
		if o.short != "" {
			flags.BoolVar(fieldPtr, o.short, o.defaultValue.(bool), o.description)
		}
	default:
		panic(fmt.Errorf("unexpected field pointer type %T", fieldPtr))
	}
}

// usage prints a usage message similar to the one printed by package flag
// but taking long vs. short versions into account as well as using more
// informative value hints.
func usage(cmdName string, output io.Writer) {
	options := slices.Clone(commandLineOptions)
	slices.SortStableFunc(options, func(a, b *commandLineOption) (res int) {
		return strings.Compare(a.long, b.long)
	})

	b := &strings.Builder{}
	_, _ = fmt.Fprintf(b, "Usage of %s:\n", cmdName)

	for _, o := range options {
		writeUsageLine(b, o)

		// Use four spaces before the tab to trigger good alignment for both
		// 4- and 8-space tab stops.
		if shouldIncludeDefault(o.defaultValue) {
			_, _ = fmt.Fprintf(b, "    \t%s  (Default value: %q)\n", o.description, o.defaultValue)
		} else {
			_, _ = fmt.Fprintf(b, "    \t%s\n", o.description)
		}
	}

	_, _ = io.WriteString(output, b.String())
}

// shouldIncludeDefault returns true if this default value should be printed.
func shouldIncludeDefault(v any) (ok bool) {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return v != ""
	default:
		return v == nil
	}
}

// writeUsageLine writes the usage line for the provided command-line option.
func writeUsageLine(b *strings.Builder, o *commandLineOption) {
	if o.short == "" {
		if o.valueType == "" {
			_, _ = fmt.Fprintf(b, "  --%s\n", o.long)
		} else {
			_, _ = fmt.Fprintf(b, "  --%s=%s\n", o.long, o.valueType)
		}

		return
	}

	if o.valueType == "" {
		_, _ = fmt.Fprintf(b, "  --%s/-%s\n", o.long, o.short)
	} else {
		_, _ = fmt.Fprintf(b, "  --%[1]s=%[3]s/-%[2]s %[3]s\n", o.long, o.short, o.valueType)
	}
}

// processOptions decides if dhcpc should exit depending on the results of
// command-line option parsing.
func processOptions(
	opts *options,
	cmdName string,
	parseErr error,
) (exitCode int, needExit bool) {
	if parseErr != nil {
		// Assume that usage has already been printed.
		return osutil.ExitCodeArgumentError, true
	}

	if opts.help {
		usage(cmdName, os.Stdout)

		return osutil.ExitCodeSuccess, true
	}

	if opts.version {
		if opts.verbose {
			fmt.Print(version.Verbose())
		} else {
			fmt.Printf("dhcpc %s\n", version.Version())
		}

		return osutil.ExitCodeSuccess, true
	}

	if opts.checkConfig {
		_, err := readConfig(opts.confFile)
		if err != nil {
			_, _ = io.WriteString(os.Stdout, err.Error()+"\n")

			return osutil.ExitCodeFailure, true
		}

		return osutil.ExitCodeSuccess, true
	}

	return 0, false
}
