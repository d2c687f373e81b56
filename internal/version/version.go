// Package version reports the build identity of the manualrag binary.
// Release builds stamp the variables with -ldflags "-X ...version.Version=v0.3.0";
// plain `go build` leaves the placeholders below.
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA.
	Commit = "unknown"
	// BuildDate is the RFC3339 build timestamp.
	BuildDate = "unknown"
)

// UserAgent is the User-Agent manualrag sends on outbound HTTP requests.
func UserAgent() string {
	return "manualrag/" + Version
}

// String renders a one-line summary such as "v0.3.0 (abc1234, 2026-01-02)".
func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, BuildDate)
}
