package version

import "runtime"

// Set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// GetInfo returns the build information of the running binary
func GetInfo() Info {
	return Info{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}

// String renders the version for the CLI
func (i Info) String() string {
	return i.Version + " (" + i.GitCommit + ", built " + i.BuildTime + ", " + i.GoVersion + ")"
}
