// Package appversion provides build-time version information.
package appversion

import (
	"fmt"
	"runtime/debug"
)

// version is set at build time via -ldflags.
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo //nolint:gochecknoglobals // test seam

// String returns the current version. An ldflags value wins; otherwise the
// main module version recorded by `go install` is used.
func String() string {
	if version != "dev" {
		return version
	}
	if bi, ok := readBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return version
}

// Info returns the version plus the VCS revision and Go version when the
// binary carries them.
func Info() string {
	v := String()
	bi, ok := readBuildInfo()
	if !ok {
		return v
	}

	var rev, dirty string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "+dirty"
			}
		}
	}
	if rev != "" {
		v = fmt.Sprintf("%s (%s%s)", v, rev, dirty)
	}
	return fmt.Sprintf("%s %s", v, bi.GoVersion)
}
