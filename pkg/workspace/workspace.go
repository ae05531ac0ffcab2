// Package workspace provides isolated, disposable working directories for runs.
package workspace

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExclude lists source paths never copied into a workspace.
var DefaultExclude = []string{".git", ".git/**"}

// Workspace is a private copy of the project source.
type Workspace struct {
	Dir string

	once sync.Once
	err  error
}

// Acquire creates a fresh directory under root (the system temp dir when empty)
// and copies source into it, skipping paths matching exclude. The caller must
// Release the workspace; on error nothing is left behind.
func Acquire(root, source string, exclude []string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("creating workspace root: %w", err)
		}
	}

	dir, err := os.MkdirTemp(root, "run-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	ws := &Workspace{Dir: dir}
	if source != "" {
		if err := copyTree(source, dir, exclude); err != nil {
			_ = ws.Release()
			return nil, err
		}
	}

	slog.Debug("workspace acquired", "dir", dir, "source", source)
	return ws, nil
}

// Release removes the workspace. It is safe to call more than once.
// Read-only directories left by steps, such as a Go module cache, are made
// writable before a second removal attempt.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			slog.Debug("retrying workspace removal with write permission", "dir", w.Dir, "error", err)
			makeWritable(w.Dir)
			if err := os.RemoveAll(w.Dir); err != nil {
				w.err = fmt.Errorf("removing workspace %s: %w", w.Dir, err)
				return
			}
		}
		slog.Debug("workspace released", "dir", w.Dir)
	})
	return w.err
}

// makeWritable grants the owner full access to every directory under dir.
// Errors are ignored; the following removal reports what is left.
func makeWritable(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if perm := info.Mode().Perm(); perm&0o700 != 0o700 {
			_ = os.Chmod(path, perm|0o700)
		}
		return nil
	})
}

func copyTree(src, dst string, exclude []string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", path, err)
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, relErr)
		}
		if rel != "." && excluded(filepath.ToSlash(rel), exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return copyEntry(dst, rel, path, d)
	})
	if err != nil {
		return fmt.Errorf("copying source tree: %w", err)
	}
	return nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func copyEntry(dst, rel, srcPath string, d fs.DirEntry) error {
	target := filepath.Join(dst, rel)

	if d.IsDir() {
		if err := os.MkdirAll(target, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", target, err)
		}
		return nil
	}

	if d.Type()&fs.ModeSymlink != 0 {
		link, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("reading link %s: %w", srcPath, err)
		}
		if err := os.Symlink(link, target); err != nil {
			return fmt.Errorf("creating link %s: %w", target, err)
		}
		return nil
	}

	if !d.Type().IsRegular() {
		return nil
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", srcPath, err)
	}

	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	if err := os.WriteFile(target, data, info.Mode()); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}
