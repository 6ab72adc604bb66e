// Package cache persists gob-encoded blobs under a directory, addressed by
// plain string names.
package cache

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store is a directory of cache blobs. The zero value and a nil *Store
// are disabled: Get always misses and Put does nothing.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if dir == "" {
		return &Store{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir is <user cache dir>/subsync.
func DefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "subsync")
}

func (s *Store) Enabled() bool {
	return s != nil && s.dir != ""
}

func (s *Store) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".gob")
}

// Get decodes the blob called name into v. A missing blob reports false
// with no error.
func (s *Store) Get(name string, v any) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open cache entry: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", name, err)
	}
	return true, nil
}

// Put encodes v into a temp file and renames it over the blob called name.
func (s *Store) Put(name string, v any) error {
	if !s.Enabled() {
		return nil
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode cache entry %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to store cache entry %s: %w", name, err)
	}
	return nil
}

func (s *Store) Invalidate(name string) error {
	if !s.Enabled() {
		return nil
	}
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache entry %s: %w", name, err)
	}
	return nil
}

// Key names a cache entry after a media file. The sanitized base name keeps
// entries recognisable on disk, the hash keeps them unique per absolute
// path, and the size invalidates entries when the file changes.
func Key(path string, size int64, suffix string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	base := unsafeChars.ReplaceAllString(filepath.Base(abs), "_")
	if len(base) > 64 {
		base = base[:64]
	}
	sum := strconv.FormatUint(xxhash.Sum64String(abs), 16)
	return base + "-" + sum + "-" + strconv.FormatInt(size, 10) + "-" + suffix
}

// FileKey is Key with the size read from disk.
func FileKey(path, suffix string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return Key(path, info.Size(), suffix), nil
}
