// Package cache persists dependency state between runs, keyed by a fingerprint
// of the project's dependency manifests.
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/blake2b"
)

// ErrNoManifest is returned when none of the manifest patterns match a file.
var ErrNoManifest = errors.New("no dependency manifest found")

// Fingerprint hashes the files under dir matching the manifest patterns.
// Files are visited in sorted order and each contributes its slash-separated
// path, size and content, so renames and content changes both change the result.
func Fingerprint(dir string, manifests []string) (string, error) {
	files, err := globFiles(os.DirFS(dir), manifests)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNoManifest
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	for _, rel := range files {
		if err := hashFile(h, dir, rel); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, dir, rel string) error {
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("opening manifest %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat manifest %s: %w", rel, err)
	}

	header := rel + "\x00" + strconv.FormatInt(info.Size(), 10) + "\x00"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("hashing manifest %s: %w", rel, err)
	}
	return nil
}

// globFiles expands doublestar patterns to a sorted, de-duplicated list of regular files.
func globFiles(fsys fs.FS, patterns []string) ([]string, error) {
	var result []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		result = append(result, matches...)
	}
	slices.Sort(result)
	return slices.Compact(result), nil
}
