// Package version holds build metadata injected at link time via
// -ldflags "-X github.com/wisbric/kuberdock/internal/version.Version=...".
package version

var (
	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"
)
