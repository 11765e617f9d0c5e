package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const indexFile = "index.html"

// FindRoot locates the first directory at or below dir that holds an
// index.html, searching subdirectories in lexical order. Hidden directories
// and __MACOSX are skipped.
func FindRoot(dir string) (string, error) {
	if info, err := os.Stat(filepath.Join(dir, indexFile)); err == nil && info.Mode().IsRegular() {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, indexFile)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || name == "__MACOSX" {
			continue
		}
		if root, err := FindRoot(filepath.Join(dir, name)); err == nil {
			return root, nil
		}
	}
	return "", fmt.Errorf("%w: %s under %s", ErrNotFound, indexFile, dir)
}

// ResolveRoot is FindRoot falling back to dir itself.
func ResolveRoot(dir string) string {
	if root, err := FindRoot(dir); err == nil {
		return root
	}
	return dir
}
