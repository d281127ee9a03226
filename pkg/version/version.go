// Package version reports what build of the service is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Name identifies the service in health and version output.
const Name = "devtest-backend"

// Set with -ldflags "-X github.com/frostdev-ops/devtest-backend-go/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// BuildInfo contains all build-related information
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	vcsOnce     sync.Once
	vcsRevision string
	vcsTime     string
	vcsModified bool
)

// vcs falls back to the revision the go tool stamps into the binary when
// the ldflags were not set.
func vcs() (revision, at string, modified bool) {
	vcsOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				vcsRevision = s.Value
			case "vcs.time":
				vcsTime = s.Value
			case "vcs.modified":
				vcsModified = s.Value == "true"
			}
		}
	})
	return vcsRevision, vcsTime, vcsModified
}

func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	rev, _, _ := vcs()
	if rev == "" {
		return "unknown"
	}
	return rev
}

func buildDate() string {
	if BuildDate != "" {
		return BuildDate
	}
	_, at, _ := vcs()
	if at == "" {
		return "unknown"
	}
	return at
}

// GetVersion returns the release version, or dev-<short commit> for
// development builds.
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	c := commit()
	if len(c) > 8 {
		c = c[:8]
	}
	return "dev-" + c
}

// GetFullVersion returns a detailed version string
func GetFullVersion() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)",
		Name, GetVersion(), commit(), buildDate(), runtime.Version())
}

// GetBuildInfo returns all build information
func GetBuildInfo() *BuildInfo {
	_, _, modified := vcs()
	return &BuildInfo{
		Name:      Name,
		Version:   GetVersion(),
		GitCommit: commit(),
		BuildDate: buildDate(),
		GoVersion: runtime.Version(),
		Modified:  modified && GitCommit == "",
	}
}
