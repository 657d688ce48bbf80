// Package reference loads the bundled reference tables (TCMSP molecule and
// target exports, OMIM morbidmap, TTD disease mapping, GeneCards exports)
// and keeps them cached in memory until the underlying file changes.
package reference

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/l0p7/netpharm/internal/table"
)

// ErrNotFound reports a reference file that does not exist.
var ErrNotFound = errors.New("reference: file not found")

// Store resolves reference files relative to a data directory and caches
// their decoded contents.
type Store struct {
	root   string
	logger *slog.Logger

	mu     sync.RWMutex
	tables map[string]table.Table
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   filepath.Clean(dir),
		logger: logger.With(slog.String("agent", "reference")),
		tables: make(map[string]table.Table),
	}
}

// Root reports the data directory.
func (s *Store) Root() string { return s.root }

// Resolve returns the absolute location of name. Absolute names are kept.
func (s *Store) Resolve(name string) string {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// Load returns the decoded table for name. Files ending in .txt or .tsv are
// tab separated; anything else is comma separated. Rows are shared between
// callers and must not be mutated.
func (s *Store) Load(name string) (table.Table, error) {
	path := s.Resolve(name)

	s.mu.RLock()
	cached, ok := s.tables[path]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return table.Table{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return table.Table{}, fmt.Errorf("reference: open %s: %w", path, err)
	}
	defer f.Close()

	loaded, err := table.ReadRaw(f, separator(path))
	if err != nil {
		return table.Table{}, fmt.Errorf("reference: decode %s: %w", path, err)
	}

	s.mu.Lock()
	s.tables[path] = loaded
	s.mu.Unlock()
	s.logger.Debug("reference table loaded", slog.String("path", path), slog.Int("rows", loaded.Len()))
	return loaded, nil
}

// Invalidate drops the cached table for path so the next Load re-reads it.
// It reports whether a table was cached.
func (s *Store) Invalidate(path string) bool {
	path = filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[path]
	delete(s.tables, path)
	return ok
}

func separator(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".tsv":
		return '\t'
	default:
		return ','
	}
}
