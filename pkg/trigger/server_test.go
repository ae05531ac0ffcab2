package trigger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/pushgate/pkg/api"
)

type fakeHistory struct {
	records []api.Record
}

func (f *fakeHistory) List() ([]api.Record, error) { return f.records, nil }

func (f *fakeHistory) Find(id string) (api.Record, bool, error) {
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, true, nil
		}
	}
	return api.Record{}, false, nil
}

func newTestServer(t *testing.T, history RunFinder) (*httptest.Server, *Listener) {
	t.Helper()
	l := NewListener(context.Background(), &fakeExecutor{}, staticPipeline, 1)
	srv := httptest.NewServer(NewServer(l, history).Routes())
	t.Cleanup(func() {
		srv.Close()
		l.Close()
		_ = l.Wait()
	})
	return srv, l
}

func decodeRecord(t *testing.T, resp *http.Response) api.Record {
	t.Helper()
	defer resp.Body.Close()
	var rec api.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	return rec
}

func TestServer_PushStartsRun(t *testing.T) {
	srv, l := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/hooks/push", "application/json",
		strings.NewReader(`{"ref":"refs/heads/main","after":"deadbeef"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	rec := decodeRecord(t, resp)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, api.EventPush, rec.Event.Kind)
	assert.Equal(t, "refs/heads/main", rec.Event.Ref)
	assert.Equal(t, "deadbeef", rec.Event.Commit)

	_, ok := l.Get(rec.ID)
	assert.True(t, ok)
}

func TestServer_EmptyPushIsValid(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/hooks/push", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestServer_InvalidPayload(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/hooks/push", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_GetRun(t *testing.T) {
	stored := api.NewRun("ci", api.NewPushEvent("", "")).Snapshot()
	stored.Status = api.StatusFailed
	srv, l := newTestServer(t, &fakeHistory{records: []api.Record{stored}})

	live, err := l.OnEvent(context.Background(), api.NewPushEvent("", ""))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/runs/" + live.ID())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, live.ID(), decodeRecord(t, resp).ID)

	resp, err = http.Get(srv.URL + "/runs/" + stored.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.StatusFailed, decodeRecord(t, resp).Status)

	resp, err = http.Get(srv.URL + "/runs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListRuns(t *testing.T) {
	stored := api.NewRun("ci", api.NewPushEvent("", "")).Snapshot()
	srv, l := newTestServer(t, &fakeHistory{records: []api.Record{stored}})

	_, err := l.OnEvent(context.Background(), api.NewPushEvent("", ""))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []api.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 2)
	assert.Equal(t, stored.ID, records[0].ID)
}

func TestServer_CancelUnknownRun(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/runs/missing/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMergeRecords(t *testing.T) {
	a := api.Record{ID: "a"}
	b := api.Record{ID: "b", Status: api.StatusSucceeded}
	liveB := api.Record{ID: "b", Status: api.StatusRunning}

	got := mergeRecords([]api.Record{a, b}, []api.Record{liveB})

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, api.StatusRunning, got[1].Status)
}
