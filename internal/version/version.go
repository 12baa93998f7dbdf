package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent identifies esgwatch to the backend when api.user_agent is unset.
func UserAgent() string {
	return fmt.Sprintf("esgwatch/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// Info renders the build information printed by the version command.
func Info() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\ngo: %s\n", Version, Commit, BuildDate, runtime.Version())
}
