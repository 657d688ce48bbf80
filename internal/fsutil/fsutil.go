// Package fsutil holds the small filesystem helpers shared by the file cache
// backend and the result artifacts.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const maxNameLength = 150

// SafeName maps an arbitrary identifier (drug name, SMILES string, cache key)
// to a single path segment. Identical inputs always map to the same name.
// Identifiers that would escape to an overly long segment are hashed.
func SafeName(name string) string {
	escaped := url.PathEscape(name)
	escaped = strings.ReplaceAll(escaped, "*", "%2A")
	escaped = strings.ReplaceAll(escaped, ":", "%3A")
	if escaped == "" || strings.Trim(escaped, ".") == "" {
		escaped = "%2E" + escaped
	}
	if len(escaped) <= maxNameLength {
		return escaped
	}
	sum := sha256.Sum256([]byte(name))
	return escaped[:64] + "-" + hex.EncodeToString(sum[:12])
}

// WriteAtomic writes data to path through a temp file in the same directory
// and renames it into place. Missing parent directories are created.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("fsutil: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: rename %s: %w", path, err)
	}
	return nil
}
