package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/systemstart/pushgate/pkg/api"
)

// Ledger is an append-only JSON-lines file of finished runs.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// OpenLedger creates the ledger file if it is missing.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return &Ledger{path: path}, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Append writes rec as one line.
func (l *Ledger) Append(rec api.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", rec.ID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending run %s: %w", rec.ID, err)
	}
	return f.Close()
}

// List returns every record in append order.
func (l *Ledger) List() ([]api.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	var records []api.Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec api.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decoding ledger line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return records, nil
}

// Find returns the last record for id.
func (l *Ledger) Find(id string) (api.Record, bool, error) {
	records, err := l.List()
	if err != nil {
		return api.Record{}, false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ID == id {
			return records[i], true, nil
		}
	}
	return api.Record{}, false, nil
}
