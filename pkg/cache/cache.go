package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Manager restores and saves workspace state through a Store.
// Restore never fails: any problem degrades to a miss.
type Manager struct {
	store Store
}

// NewManager creates a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Restore extracts the entry for key into dir and reports whether it was a hit.
// The entry is unpacked into a staging directory first, so a corrupt entry
// leaves dir untouched.
func (m *Manager) Restore(ctx context.Context, key, dir string) bool {
	rc, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Info("cache miss", "key", key)
		} else {
			slog.Warn("cache entry unreadable, treating as miss", "key", key, "error", err)
		}
		return false
	}
	defer rc.Close()

	staging, err := os.MkdirTemp(dir, ".restore-")
	if err != nil {
		slog.Warn("creating restore staging directory failed, treating as miss", "key", key, "error", err)
		return false
	}
	defer os.RemoveAll(staging)

	n, err := Unpack(rc, staging)
	if err != nil {
		slog.Warn("cache entry corrupt, treating as miss", "key", key, "unpacked", n, "error", err)
		return false
	}

	if err := moveTree(staging, dir); err != nil {
		slog.Warn("placing restored files failed", "key", key, "error", err)
		return false
	}

	slog.Info("cache restored", "key", key, "files", n)
	return true
}

// moveTree renames every regular file under src to the same relative path under dst.
func moveTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("creating directory for %s: %w", rel, err)
		}
		if err := os.Rename(path, target); err != nil {
			return fmt.Errorf("placing %s: %w", rel, err)
		}
		return nil
	})
}

// Save packs the files under dir matching paths and stores them under key,
// replacing any previous entry. Nothing is written when no file matches.
func (m *Manager) Save(ctx context.Context, key, dir string, paths []string) error {
	files, err := globFiles(os.DirFS(dir), paths)
	if err != nil {
		return fmt.Errorf("resolving cache paths: %w", err)
	}
	if len(files) == 0 {
		slog.Info("nothing to cache", "key", key)
		return nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, packErr := Pack(pw, dir, paths)
		pw.CloseWithError(packErr)
	}()

	if err := m.store.Put(ctx, key, pr); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("storing cache entry %s: %w", key, err)
	}

	slog.Info("cache saved", "key", key, "files", len(files))
	return nil
}
