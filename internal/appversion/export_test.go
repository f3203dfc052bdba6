package appversion

import "runtime/debug"

// SetBuildInfo replaces the build info reader and version for a test.
func SetBuildInfo(v string, bi *debug.BuildInfo) (restore func()) {
	oldVersion, oldRead := version, readBuildInfo
	version = v
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	return func() { version, readBuildInfo = oldVersion, oldRead }
}
