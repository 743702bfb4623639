// Package version exposes build identification for the sagaflow binary.
package version

import "runtime"

// Populated at link time via -ldflags "-X github.com/sagaflow/sagaflow/pkg/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns the build identification as a flat map, suitable for
// embedding in health and status responses.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}

// String returns a single-line summary, e.g. "dev (unknown, go1.24)".
func String() string {
	return Version + " (" + GitCommit + ", " + GoVersion + ")"
}
