// Package version provides build-time version information for the Jimu
// binaries (jimu and jimuctl).
package version

var (
	// Version is the semantic version (set via ldflags)
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash (set via ldflags)
	GitCommit = "unknown"

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = "unknown"
)

// Info returns a formatted version string, e.g. "jimu v0.3.1 (abc123) built at …".
func Info(binary string) string {
	return binary + " " + Version + " (" + GitCommit + ") built at " + BuildTime
}
