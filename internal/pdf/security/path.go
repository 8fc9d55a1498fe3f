package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator keeps every project file inside the configured data directory
type PathValidator struct {
	root string
}

// NewPathValidator creates a new path validator for the given directory
func NewPathValidator(root string) (*PathValidator, error) {
	if root == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	return &PathValidator{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute data directory
func (v *PathValidator) Root() string {
	return v.root
}

// Resolve turns path (absolute, or relative to the data directory) into an
// absolute path and rejects anything that escapes the data directory, including
// through symlinks.
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(v.root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	if !within(abs, v.root) {
		return "", fmt.Errorf("path is outside data directory: %s", path)
	}

	// Symlinks are checked against the real data directory
	realRoot := v.root
	if resolved, err := filepath.EvalSymlinks(v.root); err == nil {
		realRoot = resolved
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		if !within(real, realRoot) {
			return "", fmt.Errorf("path resolves outside data directory: %s", path)
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to evaluate symlinks: %w", err)
	}

	return abs, nil
}

func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
