// Package version reports the pangolog build, which every writer stamps
// into the file header it emits.
package version

import "runtime/debug"

// Set with -ldflags "-X github.com/samcharles93/pangolog/internal/version.Version=...".
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

// devel is reported when neither ldflags nor module info name a version.
const devel = "devel"

type Info struct {
	Version   string
	Commit    string
	BuildTime string
	Modified  bool
}

// Resolve combines the ldflags values with the build info the toolchain
// embeds, preferring ldflags.
func Resolve() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}

	if info.Version == "" {
		info.Version = devel
	}
	return info
}

// String is the value written to the "version" field of file headers.
func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	s := info.Version + "+" + shortCommit(info.Commit)
	if info.Modified {
		s += ".dirty"
	}
	return s
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
