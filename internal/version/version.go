// Package version contains the version and build information of the dhcpc
// binary.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Channel constants.
const (
	ChannelDevelopment = "development"
	ChannelEdge        = "edge"
	ChannelRelease     = "release"
)

// These are set by the linker.  Unfortunately we cannot set constants during
// linking, so to be thorough we only export them through getters.
var (
	channel = ChannelDevelopment
	version string
	branch  string
	commit  string
)

// Channel returns the current release channel.
func Channel() (v string) {
	return channel
}

// Version returns the build version.
func Version() (v string) {
	return version
}

// Verbose returns the full formatted build information.  Output example:
//
//	dhcpc
//	Version: v0.1.0
//	Channel: development
//	Go version: go1.24.5
//	Branch: master
//	Commit: abcdef0
func Verbose() (v string) {
	b := &strings.Builder{}

	_, _ = fmt.Fprintf(b, "dhcpc\nVersion: %s\nChannel: %s\nGo version: %s\n",
		version, channel, runtime.Version())

	if branch != "" {
		_, _ = fmt.Fprintf(b, "Branch: %s\n", branch)
	}

	if commit != "" {
		_, _ = fmt.Fprintf(b, "Commit: %s\n", commit)
	}

	_, _ = fmt.Fprintf(b, "GOOS: %s\nGOARCH: %s\n", runtime.GOOS, runtime.GOARCH)

	return b.String()
}
