package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Store.Get on a cache miss.
var ErrNotFound = errors.New("cache entry not found")

// Store is a keyed blob store holding at most one entry per key.
type Store interface {
	// Get opens the entry for key. It returns ErrNotFound on a miss.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put replaces the entry for key with the content of r.
	Put(ctx context.Context, key string, r io.Reader) error
}

const entryExt = ".tar.gz"

// FileStore implements Store on the local filesystem, one archive per key:
//
//	{Dir}/{key}.tar.gz
type FileStore struct {
	Dir string
}

// NewFileStore creates a filesystem-backed store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.Dir, key+entryExt)
}

// Get opens the entry for key.
func (s *FileStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening cache entry: %w", err)
	}
	return f, nil
}

// Put writes into a temp file in the store directory and renames it into
// place, so readers see either the old or the new entry, never a partial one.
// With concurrent writers of the same key the last rename wins.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, key+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp cache entry: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache entry: %w", err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}
