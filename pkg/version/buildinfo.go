package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

func init() {
	buildInfo = moduleBuildInfo
}

// moduleBuildInfo lists the main module and the dependencies linked in.
func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}

	var b strings.Builder
	module := func(kind string, m *debug.Module) {
		fmt.Fprintf(&b, " %s\t%s\t%s", kind, m.Path, m.Version)
		if m.Replace != nil {
			fmt.Fprintf(&b, "\t=> %s\t%s", m.Replace.Path, m.Replace.Version)
		}
		b.WriteByte('\n')
	}
	module("mod", &info.Main)
	for _, dep := range info.Deps {
		module("dep", dep)
	}
	return b.String()
}
