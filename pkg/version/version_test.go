package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: 1, Minor: 2, Patch: 3, Metadata: "rc1", Build: "abc"}
	if s := v.String(); s != "Version: 1.2.3-rc1\nBuild: abc" {
		t.Errorf("wrong version string %q", s)
	}
	if !strings.HasPrefix(IdkVersion.String(), "Version: "+IdkVersion.Semver().String()) {
		t.Errorf("wrong current version %q", IdkVersion)
	}
	if IdkVersion.Semver().Major() != IdkVersion.Major {
		t.Errorf("semver does not round trip")
	}
}
