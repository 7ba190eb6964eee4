// Package config carries the build identity stamped in by the dev tool.
package config

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// BuildVersion renders the full build identity shown by --version.
func BuildVersion() string {
	return fmt.Sprintf("%s-%s-%s", Version, BuildTime, Commit)
}
