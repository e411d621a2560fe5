// Package version holds vecguard build metadata. The variables are
// overridden with -ldflags "-X" at release time.
package version

import "fmt"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String formats the build metadata for the version command.
func String() string {
	return fmt.Sprintf("vecguard %s (commit %s, built %s)", Version, Commit, Date)
}
