package tle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultCacheDir  = "data"
	DefaultCacheFile = "satellites.tle"
)

// Cache is the on-disk catalog artifact: a single text file whose
// modification time is the only freshness signal.
type Cache struct {
	dir      string
	filename string
}

// NewCache creates a Cache for dir/filename.
func NewCache(dir, filename string) *Cache {
	if dir == "" {
		dir = DefaultCacheDir
	}
	if filename == "" {
		filename = DefaultCacheFile
	}
	return &Cache{
		dir:      dir,
		filename: filename,
	}
}

// Path returns the artifact path.
func (c *Cache) Path() string {
	return filepath.Join(c.dir, c.filename)
}

// ModTime returns the artifact's modification time. ok is false when the
// artifact does not exist.
func (c *Cache) ModTime() (modTime time.Time, ok bool, err error) {
	info, err := os.Stat(c.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("stat cache file: %w", err)
	}
	return info.ModTime(), true, nil
}

// Read returns the artifact contents and modification time.
func (c *Cache) Read() ([]byte, time.Time, error) {
	f, err := os.Open(c.Path())
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat cache file: %w", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, info.ModTime(), nil
}

// Write atomically replaces the artifact: data goes to a temp file in the
// same directory which is then renamed over the target, so readers see
// either the old file or the new one.
func (c *Cache) Write(data []byte) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+c.filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.Path()); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	committed = true
	return nil
}
