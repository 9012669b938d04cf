// Package payload loads the diagnostic script shipped alongside the
// binary.
package payload

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScriptName is the fixed name of the diagnostic script expected next
// to the nbot-diagnose binary.
const ScriptName = "diagnose.sh"

// Loader reads the diagnostic script from a directory.
type Loader struct {
	dir string
}

// New creates a loader rooted at the directory of the running
// executable.
func New() (*Loader, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}
	return &Loader{dir: filepath.Dir(exe)}, nil
}

// NewWithDir creates a loader rooted at a specific directory (for
// testing).
func NewWithDir(dir string) *Loader {
	return &Loader{dir: dir}
}

// Path returns the full path the loader reads from.
func (l *Loader) Path() string {
	return filepath.Join(l.dir, ScriptName)
}

// Load reads the script content. The file must exist before any
// connection is opened; a missing script is a local precondition
// failure, not a network one.
func (l *Loader) Load() ([]byte, error) {
	path := l.Path()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("missing local script: %s", path)
		}
		return nil, fmt.Errorf("reading local script %s: %w", path, err)
	}

	return data, nil
}
