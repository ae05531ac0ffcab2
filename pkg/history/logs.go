// Package history keeps what runs leave behind: step logs and the run ledger.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogStore writes captured step output to files under BaseDir.
type LogStore struct {
	BaseDir string
}

// NewLogStore creates a log store rooted at baseDir.
func NewLogStore(baseDir string) *LogStore {
	return &LogStore{BaseDir: baseDir}
}

// SaveLog writes the output of step index of a run to
// <BaseDir>/<run>/NN-<name>.log and returns the path.
func (ls *LogStore) SaveLog(runID string, index int, name string, output []byte) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID, "run"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%02d-%s.log", index, sanitize(name, "step")))
	if err := os.WriteFile(path, output, 0o600); err != nil {
		return "", fmt.Errorf("writing step log: %w", err)
	}
	return path, nil
}

// sanitize removes characters that are unsafe in file names.
func sanitize(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}
