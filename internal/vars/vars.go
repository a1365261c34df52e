// Package vars holds build-time variables populated via the linker (ldflags).
package vars

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"time"
)

// License of the project
const License = "AGPL-3.0"

var (
	// Name of the project
	Name = "LMStats"

	// Version of application (git tag) semver/tag, e.g. v1.2.3
	Version = "dev"

	// Commit is the current git commit, full or short git SHA
	Commit = "unknown"

	// Revision build, count of commits
	Revision = 0

	// BuildTime is the time of start build app, RFC3339 UTC
	BuildTime = time.Unix(0, 0)

	// URL to repository (https)
	URL = "https://github.com/woozymasta/lmstats"

	_revision  string
	_buildTime string
)

// BuildInfo exposes build metadata on the health endpoint.
type BuildInfo struct {
	// betteralign:ignore

	// Project name
	Name string `json:"name" example:"LMStats"`

	// Version of application (git tag) semver/tag, e.g. v1.2.3
	Version string `json:"version" example:"v1.2.3"`

	// Current git commit short SHA
	Commit string `json:"commit" example:"da15c17"`

	// Revision build, count of commits
	Revision int `json:"revision,omitempty" example:"1337"`

	// Time of start build app, RFC3339 UTC
	BuildTime time.Time `json:"build_time,omitempty" example:"1970-01-01T00:00:00Z"`

	// Go runtime version
	GoVersion string `json:"go_version,omitempty" example:"go1.25.5"`
}

func init() {
	if n, err := strconv.Atoi(_revision); err == nil {
		Revision = n
	}

	if _buildTime != "" {
		if t, err := time.Parse(time.RFC3339, _buildTime); err == nil {
			BuildTime = t.UTC()
		}
	}
}

// Print writes the build information to w.
func Print(w io.Writer) {
	_, _ = fmt.Fprintf(w, `name:     %s
url:      %s
version:  %s
commit:   %s
revision: %d
built:    %s
go:       %s
license:  %s
`, Name, URL, Version, Commit, Revision, BuildTime.Format(time.RFC3339), runtime.Version(), License)
}

// Info returns the build metadata.
func Info() BuildInfo {
	return BuildInfo{
		Name:      Name,
		Version:   Version,
		Commit:    CommitShort(),
		Revision:  Revision,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// UserAgent is sent on outgoing HTTP requests (GeoIP downloads).
func UserAgent() string {
	return Name + "/" + Version + " (+" + URL + ")"
}

// CommitShort returns the first 7 characters of the git commit hash.
func CommitShort() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}

	return Commit
}
