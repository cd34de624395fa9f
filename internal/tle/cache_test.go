package tle

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheWriteRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	c := NewCache(dir, "sats.tle")

	if _, ok, err := c.ModTime(); err != nil || ok {
		t.Fatalf("ModTime on missing file: ok=%v err=%v", ok, err)
	}

	if err := c.Write([]byte(twoRecordFeed())); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, modTime, err := c.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != twoRecordFeed() {
		t.Error("cache contents mismatch")
	}
	if time.Since(modTime) > time.Minute {
		t.Errorf("modTime %v is not recent", modTime)
	}
}

// TestCacheWriteLeavesNoTempFiles verifies the atomic replace cleans up and
// that a rewrite fully replaces the previous contents.
func TestCacheWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, "sats.tle")

	if err := c.Write([]byte("first version, longer than the second\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := c.Write([]byte("second\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "sats.tle" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected directory contents: %v", names)
	}

	data, _, err := c.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second\n" {
		t.Errorf("contents = %q, want %q", data, "second\n")
	}
}

func TestCacheDefaults(t *testing.T) {
	c := NewCache("", "")
	if want := filepath.Join(DefaultCacheDir, DefaultCacheFile); c.Path() != want {
		t.Errorf("path = %q, want %q", c.Path(), want)
	}
}
