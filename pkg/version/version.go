// Package version reports the version of idk.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version represents a version of idk.
type Version struct {
	Major    uint64
	Minor    uint64
	Patch    uint64
	Metadata string
	Build    string
}

// IdkVersion is the current version of idk.
var IdkVersion = Version{
	Major: 0, Minor: 3, Patch: 0, Metadata: "",
	Build: "$Id$",
}

// Semver returns v as a semantic version.
func (v Version) Semver() *semver.Version {
	return semver.New(v.Major, v.Minor, v.Patch, v.Metadata, "")
}

func (v Version) String() string {
	fixBuild(&v)
	return fmt.Sprintf("Version: %s\nBuild: %s", v.Semver(), v.Build)
}

var buildInfo = func() string {
	return ""
}

// BuildInfo returns the Go version and the modules idk was built with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}

func fixBuild(v *Version) {
	// keep an explicit build, replace the unexpanded ident
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
