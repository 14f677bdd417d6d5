// Package security guards the CLI's file outputs (database backups and
// simulator dumps) against landing outside the directories an operator
// expects.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// canonical resolves p to an absolute path with symlinks evaluated. When p
// does not exist yet, the nearest existing ancestor is resolved instead and
// the missing tail is re-attached.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, err := filepath.Rel(dir, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// WithinDirectory reports an error unless path, after symlink resolution,
// sits inside dir.
func WithinDirectory(path, dir string) error {
	target, err := canonical(path)
	if err != nil {
		return err
	}
	root, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("%s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s escapes %s", path, dir)
	}
	return nil
}

// ValidateOutputPath accepts paths under the temp directory, the working
// directory or any of extra. Empty entries in extra are ignored.
func ValidateOutputPath(path string, extra ...string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	allowed := []string{os.TempDir(), cwd}
	for _, dir := range extra {
		if dir != "" {
			allowed = append(allowed, dir)
		}
	}
	for _, dir := range allowed {
		if WithinDirectory(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("output path %s must be within one of %v", path, allowed)
}
