// Package buildinfo exposes the ctxsync build identity. Release builds set
// it with -ldflags "-X github.com/go-ports/ctxsync/internal/buildinfo.Version=v1.2.3".
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Summary is the line printed by `ctxsync --version`.
func Summary() string {
	if Commit == "unknown" && Date == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
