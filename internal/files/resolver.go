package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns an absolute path within the workspace root. Existing
// paths are canonicalized through the filesystem so symlinks cannot
// escape; paths that do not exist yet are normalized lexically.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if canonical, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = canonical
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	if canonical, err := filepath.EvalSymlinks(target); err == nil {
		target = canonical
	} else {
		target = filepath.Clean(target)
	}

	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", escapeError(path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", escapeError(path)
	}
	return target, nil
}

// Rel returns the workspace-relative form of an absolute path already
// validated by Resolve.
func (r Resolver) Rel(abs string) string {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return abs
	}
	if canonical, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = canonical
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return abs
	}
	return rel
}

func escapeError(path string) error {
	return fmt.Errorf("Access denied: path escapes workspace: %s", path)
}
