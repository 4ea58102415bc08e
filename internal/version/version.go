package version

import (
	"fmt"
	"runtime/debug"
)

var (
	CLIName    = "arrakis"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

// Long reports the version with commit and build date. When ldflags did not
// set them, the VCS stamp from `go build` is used instead.
func Long() string {
	commit, built := Commit, BuildDate
	if info, ok := debug.ReadBuildInfo(); ok {
		commit, built = fromBuildInfo(info, commit, built)
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", CLIVersion, commit, built)
}

func fromBuildInfo(info *debug.BuildInfo, commit, built string) (string, string) {
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == "unknown" && setting.Value != "" {
				commit = setting.Value
				if len(commit) > 12 {
					commit = commit[:12]
				}
			}
		case "vcs.time":
			if built == "unknown" && setting.Value != "" {
				built = setting.Value
			}
		}
	}
	return commit, built
}
