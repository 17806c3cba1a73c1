package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const devVersion = "0.1.0-dev"

// Overridden at release time with -ldflags "-X".
var (
	AppName   = "vobby"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// BuildInfo is the JSON form served by the control plane index.
type BuildInfo struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func Info() BuildInfo {
	return BuildInfo{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// fill replaces placeholder values with the module version and VCS stamps.
func fill(mainVersion string, settings map[string]string) {
	if Version == devVersion || Version == "" {
		if mainVersion != "" && mainVersion != "(devel)" {
			Version = strings.TrimPrefix(mainVersion, "v")
		}
	}

	if rev := settings["vcs.revision"]; rev != "" && (Revision == "HEAD" || Revision == "") {
		if settings["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Revision = rev
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

// Short is `0.1.0 (5e23a4)`.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

func ShortWithApp() string {
	return AppName + " " + Short()
}

// Detailed is `0.1.0 (5e23a4; go1.23.6; linux/amd64; 2025-01-01T00:00:00Z)`.
func Detailed() string {
	i := Info()
	return fmt.Sprintf("%s (%s; %s; %s; %s)", i.Version, i.Revision, i.Go, i.Platform, i.BuildDate)
}

func DetailedWithApp() string {
	return AppName + " " + Detailed()
}

// UserAgent identifies the bridge to the collaboration server.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s)", AppName, Version, runtime.GOOS)
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		settings := make(map[string]string, len(info.Settings))
		for _, s := range info.Settings {
			settings[s.Key] = s.Value
		}
		fill(info.Main.Version, settings)
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
