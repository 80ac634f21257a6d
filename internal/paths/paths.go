// Package paths derives default per-user directories for crossbuild.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/opencontainers/go-digest"
)

const (

	// Name used for directory and file naming.
	appName = "crossbuild"

	// Name of the build file looked up when none is given.
	ConfigName = "crossbuild.yaml"
)

// Cache is the root of per-project staging and package directories.
//
//	Linux:   $XDG_CACHE_HOME/crossbuild
//	macOS:   ~/Library/Caches/crossbuild
func Cache() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// State holds files that outlive a run, such as the event log.
//
//	Linux:   $XDG_STATE_HOME/crossbuild
//	macOS:   ~/Library/Application Support/crossbuild
func State() string {
	return filepath.Join(xdg.StateHome, appName)
}

// ProjectKey names a source tree: its base name plus a short digest of its
// absolute path, so two checkouts of one project never share staging.
func ProjectKey(sourceDir string) string {
	abs, err := filepath.Abs(sourceDir)
	if err != nil {
		abs = sourceDir
	}
	sum := digest.FromString(abs).Encoded()[:12]
	base := strings.ToLower(filepath.Base(abs))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "root"
	}
	return base + "-" + sum
}

// StagingRoot is the default root of cell staging directories.
func StagingRoot(sourceDir string) string {
	return filepath.Join(Cache(), ProjectKey(sourceDir), "staging")
}

// PackageDir is the default output directory of the packager.
func PackageDir(sourceDir string) string {
	return filepath.Join(Cache(), ProjectKey(sourceDir), "package")
}

// EventsFile is the default file event sink.
func EventsFile() string {
	return filepath.Join(State(), "events.json")
}

// FindConfig returns ./crossbuild.yaml if present, otherwise the file in the
// user config directory.
func FindConfig() (string, error) {
	if _, err := os.Stat(ConfigName); err == nil {
		return filepath.Abs(ConfigName)
	}
	return xdg.SearchConfigFile(filepath.Join(appName, ConfigName))
}
