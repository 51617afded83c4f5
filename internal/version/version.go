// Package version holds build information for the nrf-collector tools
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set with -ldflags "-X nrf-collector/internal/version.Commit=..."
var (
	Version   = "0.3.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info describes the running binary
type Info struct {
	Version   string `yaml:"version"`
	Commit    string `yaml:"commit"`
	BuildDate string `yaml:"build_date"`
	GoVersion string `yaml:"go_version"`
	Platform  string `yaml:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns the version with an abbreviated commit, e.g. "0.3.0-1a2b3c4"
func (i Info) Short() string {
	if i.Commit == "unknown" || i.Commit == "" {
		return i.Version
	}
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return i.Version + "-" + commit
}

// Describe renders the multi-line banner printed by the version commands
func (i Info) Describe(appName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s", appName, i.Short())
	if i.BuildDate != "unknown" && i.BuildDate != "" {
		fmt.Fprintf(&b, "\nBuilt: %s", i.BuildDate)
	}
	fmt.Fprintf(&b, "\nGo: %s", i.GoVersion)
	fmt.Fprintf(&b, "\nPlatform: %s", i.Platform)
	return b.String()
}
