// pkg/version/version.go - build version stamping for the deployment binaries.

package version

import (
	"fmt"
	"strings"
)

// Set at build time via -ldflags "-X .../pkg/version.version=...". Private so
// release builds are the only way to stamp them.
var (
	version   = "unknown"
	commit    = "unknown"
	goVersion = "unknown"
	buildDate = "unknown"
	appName   = "appdeploy"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	BuildDate string `json:"build_date"`
}

// Version returns the stamped build information.
func Version() Info {
	return Info{
		Version:   version,
		Commit:    commit,
		GoVersion: goVersion,
		BuildDate: buildDate,
	}
}

// String renders the build as "appdeploy 1.2.3 (abc1234)". The commit
// suffix is omitted for unstamped developer builds.
func (i Info) String() string {
	s := fmt.Sprintf("%s %s", appName, i.Version)
	if i.Commit != "" && i.Commit != "unknown" {
		s += fmt.Sprintf(" (%s)", i.Commit)
	}
	return s
}

// Print writes the version line for --version flags.
func Print() {
	fmt.Println(Version().String())
}

// Normalize trims trailing ".0" segments so scaffolded definition versions
// read the way an admin would write them ("23.1.0" becomes "23.1").
func Normalize(v string) string {
	parts := strings.Split(v, ".")
	for len(parts) > 1 && parts[len(parts)-1] == "0" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}
