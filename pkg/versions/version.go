// Package versions provides build version information for the gateway.
package versions

import (
	"fmt"
	"runtime"
)

var (
	// Version is the gateway version, set at build time via ldflags.
	Version = "dev"

	// Commit is the git commit hash, set at build time via ldflags.
	Commit = "unknown"

	// BuildDate is the build timestamp, set at build time via ldflags.
	BuildDate = "unknown"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information of this binary.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
