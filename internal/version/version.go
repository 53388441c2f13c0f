// Package version reports the keycancel-gen build identity.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/keycancel/internal/version.Version=v1.0.0 \
//	                   -X github.com/muurk/keycancel/internal/version.Commit=abc1234"
//
// Values left empty are filled from the VCS stamp in the build info.
var (
	Version = ""
	Commit  = ""
)

// Info is the resolved build identity.
type Info struct {
	Version   string
	Commit    string
	Modified  bool
	GoVersion string
	Platform  string
}

// Get resolves the build identity from ldflags, then build info.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		fromBuildInfo(&info, bi)
	}

	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}

func fromBuildInfo(info *Info, bi *debug.BuildInfo) {
	if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}

	var revision, vcsTime string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if info.Commit == "" && revision != "" {
		info.Commit = shortHash(revision)
	}
	// 2025-01-31T10:00:00Z -> dev-20250131
	if info.Version == "" && len(vcsTime) >= 10 {
		info.Version = "dev-" + strings.ReplaceAll(vcsTime[:10], "-", "")
	}
}

func shortHash(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// String formats the identity as printed by the version command.
func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit: %s, %s, %s)", i.Version, commit, i.GoVersion, i.Platform)
}

// Full returns Get().String().
func Full() string {
	return Get().String()
}
