package version

import (
	"runtime/debug"
	"strings"
)

var (
	// Version is the current version of the application.
	// It is intended to be set at build time using -ldflags.
	// Falls back to the module version embedded by go install.
	Version = "dev"

	// Commit is the VCS revision, from -ldflags or embedded build settings.
	Commit = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	if Commit == "" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				Commit = s.Value
			}
		}
	}
}

// String returns the version with a short commit suffix when known.
func String() string {
	commit := strings.TrimSpace(Commit)
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if commit == "" {
		return Version
	}
	return Version + " (" + commit + ")"
}
