// Package buildinfo exposes build-time version metadata injected via ldflags.
package buildinfo

var (
	// Version is the semantic version of the gateway build.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
