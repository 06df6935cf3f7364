// Package version resolves the binary's build identity. Release builds
// stamp it through -ldflags; development builds fall back to the VCS
// metadata the Go toolchain embeds.
package version

import (
	"runtime/debug"
	"time"
)

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
	// BuildTime is the build timestamp (set via -ldflags).
	BuildTime = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// Resolve returns the best identity available: ldflags first, then the
// embedded build info, then a development timestamp.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}

	if info.Commit == "" || info.BuildTime == "" {
		rev, at := vcsStamp()
		if info.Commit == "" {
			info.Commit = rev
		}
		if info.BuildTime == "" {
			info.BuildTime = at
		}
	}
	if info.Version == "" {
		switch {
		case info.BuildTime != "":
			info.Version = info.BuildTime
		default:
			info.Version = time.Now().UTC().Format("20060102T150405Z")
		}
	}
	return info
}

func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	commit := info.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return info.Version + " (" + commit + ")"
}

// vcsStamp pulls the revision and commit time recorded by the toolchain,
// when the binary was built inside a checkout.
func vcsStamp() (rev, at string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			at = s.Value
		}
	}
	return rev, at
}
