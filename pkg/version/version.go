// Package version reports build metadata for the skc binary.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is set with -ldflags at release time.
	Version = "dev"

	// GitCommit is set with -ldflags at release time. When empty the VCS
	// revision recorded by the Go toolchain is used instead.
	GitCommit = ""

	// BuildTime is set with -ldflags at release time.
	BuildTime = "unknown"
)

// Info represents version information
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version information
func Get() Info {
	commit := GitCommit
	if commit == "" {
		commit = vcsRevision()
	}
	return Info{
		Version:   Version,
		GitCommit: commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}

func (i Info) String() string {
	return fmt.Sprintf("skc %s (commit %s, built %s, %s)", i.Version, i.GitCommit, i.BuildTime, i.GoVersion)
}

// JSON returns the JSON representation of version info
func (i Info) JSON() (string, error) {
	bytes, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
