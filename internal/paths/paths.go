package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "forge"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory holding platform and project definitions.
//
//	Linux:   ~/.config/forge
//	macOS:   ~/Library/Application Support/forge
func Config() string {
	return filepath.Join(xdg.ConfigHome, toolName)
}

// Path to the directory under which per-build working directories are
// created.
//
//	Linux:   ~/.cache/forge/builds
//	macOS:   ~/Library/Caches/forge/builds
func Workdirs() string {
	return filepath.Join(xdg.CacheHome, toolName, "builds")
}

// Path to the hardware lease database.
//
// Lease records must survive a crashed build so that the next invocation
// still sees which pool hosts are held, so they live under the state dir
// rather than the cache dir.
//
//	Linux:   ~/.local/state/forge/leases.db
func LeaseDB() string {
	return filepath.Join(xdg.StateHome, toolName, "leases.db")
}
