package version

import "fmt"

var (
	// Injected at build time with -ldflags "-X .../version.semver=... -X .../version.revision=..."
	semver   = "0.3.0"
	revision = "unknown"
)

func Get() string {
	return semver
}

func Commit() string {
	return revision
}

// Release is the identifier reported to Sentry.
func Release() string {
	return fmt.Sprintf("cppay@%s+%s", semver, revision)
}
