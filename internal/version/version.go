package version

import (
	"fmt"
	"runtime"
)

// Set at build time via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Full returns the release and commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform appends the Go runtime platform to Full.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s)", Release, GitCommit, runtime.GOOS, runtime.GOARCH)
}
