package version

import "fmt"

// Set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// String returns a short human-readable version, e.g. "1.2.0 (ab12cd3)".
func String() string {
	if GitCommit != "" {
		return fmt.Sprintf("%s (%s)", Version, GitCommit)
	}
	return Version
}

// Info returns the version fields for status endpoints.
func Info() map[string]string {
	info := map[string]string{"version": Version}
	if GitCommit != "" {
		info["commit"] = GitCommit
	}
	if BuildTime != "" {
		info["buildTime"] = BuildTime
	}
	return info
}
