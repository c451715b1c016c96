// Package pathutil confines caller-supplied paths to a workspace root.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath reduces a full path to .../<parent>/<basename> for error messages.
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// Resolve interprets path relative to root and returns the absolute path.
// The result, after symlinks are resolved, must lie inside root. The path
// itself need not exist.
func Resolve(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path contains null byte")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	rootReal, err := evalExisting(rootAbs)
	if err != nil {
		return "", err
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(rootAbs, abs)
	}
	abs = filepath.Clean(abs)

	real, err := evalExisting(abs)
	if err != nil {
		return "", err
	}
	if !within(real, rootReal) {
		return "", fmt.Errorf("%q is outside the workspace", RedactPath(abs))
	}
	return abs, nil
}

// evalExisting resolves symlinks on the deepest existing ancestor of p and
// re-appends the missing tail.
func evalExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolving %s: %w", RedactPath(p), err)
	}

	parent := filepath.Dir(p)
	if parent == p {
		return "", fmt.Errorf("cannot resolve %s", RedactPath(p))
	}
	resolvedParent, err := evalExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}

func within(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}
