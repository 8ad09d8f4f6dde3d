/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package libinfo provides information about the library build.
package libinfo

import (
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LibShortName is a short name of the library used in User-Agent header.
const LibShortName = "go-crptclient"

const moduleName = "github.com/acronis/" + LibShortName

const unknownVersion = "v0.0.0"

// PrometheusLibVersionLabel is a name of the constant label with the library version.
const PrometheusLibVersionLabel = "crptclient_version"

var (
	libVersion     string
	libVersionOnce sync.Once
)

// GetLibVersion returns the version of the library module linked into the running binary.
func GetLibVersion() string {
	libVersionOnce.Do(func() {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			libVersion = extractLibVersion(buildInfo, moduleName)
		}
		if libVersion == "" {
			libVersion = unknownVersion
		}
	})
	return libVersion
}

// UserAgent returns "go-crptclient/<version>".
func UserAgent() string {
	return LibShortName + "/" + GetLibVersion()
}

// AddPrometheusLibVersionLabel returns a copy of labels with the library version label added.
func AddPrometheusLibVersionLabel(labels prometheus.Labels) prometheus.Labels {
	res := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		res[k] = v
	}
	res[PrometheusLibVersionLabel] = GetLibVersion()
	return res
}

// extractLibVersion looks for modName (or modName/vN) among the main module and dependencies.
// "(devel)" version of the main module is treated as unknown.
func extractLibVersion(buildInfo *debug.BuildInfo, modName string) string {
	if buildInfo == nil {
		return ""
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(modName) + `(/v[0-9]+)?$`)
	if re.MatchString(buildInfo.Main.Path) && buildInfo.Main.Version != "(devel)" {
		return buildInfo.Main.Version
	}
	for _, dep := range buildInfo.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}
