// Package buildinfo carries version stamps set with -ldflags -X.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	info := map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
		"go":      runtime.Version(),
	}
	if info["commit"] == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info["commit"] = s.Value
				}
			}
		}
	}
	return info
}

// String is the one-line form printed by -version.
func String() string {
	i := Info()
	if i["commit"] == "" {
		return fmt.Sprintf("%s (%s)", i["version"], i["go"])
	}
	return fmt.Sprintf("%s %s (%s)", i["version"], i["commit"], i["go"])
}
