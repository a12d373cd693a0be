package main

import (
	"runtime/debug"

	"github.com/cloesce/cloesce/idl"
)

// Version returns the version string.
//
// When installed via `go install ...@version`, returns the module version.
// Development builds return "devel-<idl version>+<revision>" when VCS
// information is available.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return idl.Version
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	var vcsRev string
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			vcsRev = s.Value[:7]
			break
		}
	}

	if vcsRev != "" {
		return "devel-" + idl.Version + "+" + vcsRev
	}
	return "devel-" + idl.Version
}
