// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the cupdance release version.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
