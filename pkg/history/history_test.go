package history

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/pushgate/pkg/api"
)

func TestSaveLog(t *testing.T) {
	store := NewLogStore(t.TempDir())

	path, err := store.SaveLog("run-1", 2, "lint (examples)", []byte("warning: unused\n"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store.BaseDir, "run-1", "02-lintexamples.log"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "warning: unused\n", string(content))
}

func TestSaveLog_SanitizesNames(t *testing.T) {
	store := NewLogStore(t.TempDir())

	path, err := store.SaveLog("../escape", 0, "///", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(path, store.BaseDir), "log %s escaped the store", path)
	assert.Equal(t, "00-step.log", filepath.Base(path))
}

func newRecord(id string, status api.Status) api.Record {
	run := api.NewRun("ci", api.NewPushEvent("refs/heads/main", "abc"))
	rec := run.Snapshot()
	rec.ID = id
	rec.Status = status
	return rec
}

func TestLedger_AppendAndList(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "state", "runs.jsonl"))
	require.NoError(t, err)

	records, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, l.Append(newRecord("a", api.StatusSucceeded)))
	require.NoError(t, l.Append(newRecord("b", api.StatusFailed)))

	records, err = l.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, api.StatusFailed, records[1].Status)

	rec, ok, err := l.Find("b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, api.StatusFailed, rec.Status)

	_, ok, err = l.Find("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(newRecord("a", api.StatusCancelled)))

	reopened, err := OpenLedger(path)
	require.NoError(t, err)
	records, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, api.StatusCancelled, records[0].Status)
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "runs.jsonl"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Append(newRecord(string(rune('a'+i)), api.StatusSucceeded)))
		}()
	}
	wg.Wait()

	records, err := l.List()
	require.NoError(t, err)
	assert.Len(t, records, n)
}

func TestLedger_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o600))

	l, err := OpenLedger(path)
	require.NoError(t, err)

	_, err = l.List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding ledger line 1")
}
