package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Full returns the version string in the format "release (commit)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform returns the version string with the Go platform and
// toolchain it was built with.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s, %s)",
		Release, GitCommit, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
