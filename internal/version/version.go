// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X ollamaswarm/internal/version.Version=v1.2.0 -X ollamaswarm/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("ollamaswarm %s (commit %s, built %s)", Version, Commit, Date)
}
