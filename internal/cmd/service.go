package cmd

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/AdguardTeam/golibs/osutil"
	"github.com/kardianos/service"
)

// Service properties of the installed daemon.
const (
	serviceName        = "dhcpc"
	serviceDisplayName = "dhcpc DHCP client"
	serviceDescription = "Standalone DHCPv4 client daemon"
)

// serviceActionRun is the service action with which the service manager
// starts the installed daemon.  It is not supposed to be used directly.
const serviceActionRun = "run"

// program glues the daemon to the service manager.
type program struct {
	opts *options
}

// type check
var _ service.Interface = (*program)(nil)

// Start implements the [service.Interface] interface for *program.  It must
// not block, so the actual work is done asynchronously.
func (p *program) Start(_ service.Service) (err error) {
	go func() {
		os.Exit(run(context.Background(), p.opts))
	}()

	return nil
}

// Stop implements the [service.Interface] interface for *program.
func (p *program) Stop(_ service.Service) (err error) {
	if appSignals == nil {
		os.Exit(osutil.ExitCodeSuccess)
	}

	appSignals <- syscall.SIGTERM

	return nil
}

// newService returns the service manager handle for the daemon.
func newService(opts *options) (s service.Service, err error) {
	args := []string{"-s", serviceActionRun, "-c", opts.confFile}
	if opts.workDir != "" {
		args = append(args, "-w", opts.workDir)
	}

	if opts.pidFile != "" {
		args = append(args, "-p", opts.pidFile)
	}

	svcConf := &service.Config{
		Name:        serviceName,
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		Arguments:   args,
	}

	return service.New(&program{opts: opts}, svcConf)
}

// runAsService runs the daemon under the service manager and returns the
// exit code of the process.
func runAsService(opts *options) (exitCode int) {
	s, err := newService(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "initializing service: %s\n", err)

		return osutil.ExitCodeFailure
	}

	err = s.Run()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "running service: %s\n", err)

		return osutil.ExitCodeFailure
	}

	return osutil.ExitCodeSuccess
}

// control performs the requested service control action and returns the exit
// code of the process.
func control(opts *options) (exitCode int) {
	s, err := newService(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "initializing service: %s\n", err)

		return osutil.ExitCodeFailure
	}

	action := opts.serviceAction
	if action == "status" {
		return printStatus(s)
	}

	err = service.Control(s, action)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "performing action %q: %s\n", action, err)

		return osutil.ExitCodeFailure
	}

	fmt.Printf("action %q has been done successfully on %s\n", action, service.ChosenSystem())

	return osutil.ExitCodeSuccess
}

// printStatus prints the status of the installed service and returns the
// exit code of the process.
func printStatus(s service.Service) (exitCode int) {
	status, err := s.Status()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "querying status: %s\n", err)

		return osutil.ExitCodeFailure
	}

	switch status {
	case service.StatusRunning:
		fmt.Println("service is running")
	case service.StatusStopped:
		fmt.Println("service is stopped")
	default:
		fmt.Println("service status is unknown")
	}

	return osutil.ExitCodeSuccess
}
