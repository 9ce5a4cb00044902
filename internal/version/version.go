// Package version carries build metadata stamped by the release build:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.3 \
//	  -X .../internal/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X .../internal/version.BuildTime=$(date -u +%FT%TZ)"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns a one-line summary for startup logs.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, runtime.Version())
}

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }
