package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presift/presift/apiclient"
	"github.com/presift/presift/config"
	"github.com/presift/presift/events"
	"github.com/presift/presift/models"
)

// fakeService records every call the engine makes to the indexing service.
type fakeService struct {
	mu      sync.Mutex
	cfg     models.AllConfigurations
	batches [][]*models.FileMetadata
	deleted []string
	cleaned []string
	added   []models.MonitoredDirectory
	calls   []string
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/config/all", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		cfg := f.cfg
		f.mu.Unlock()
		json.NewEncoder(w).Encode(cfg)
	})
	mux.HandleFunc("/file-screening/batch", func(w http.ResponseWriter, r *http.Request) {
		var payload apiclient.BatchPayload
		json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.batches = append(f.batches, payload.DataList)
		f.mu.Unlock()
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/screening/delete-by-path", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.deleted = append(f.deleted, body["file_path"])
		f.mu.Unlock()
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/screening/clean-by-path", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.cleaned = append(f.cleaned, body["path"].(string))
		f.mu.Unlock()
		json.NewEncoder(w).Encode(apiclient.CleanResult{Deleted: 1})
	})
	mux.HandleFunc("/directories", func(w http.ResponseWriter, r *http.Request) {
		var dir models.MonitoredDirectory
		json.NewDecoder(r.Body).Decode(&dir)
		f.mu.Lock()
		f.added = append(f.added, dir)
		f.mu.Unlock()
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		w.Write([]byte("{}"))
	})
	return mux
}

func (f *fakeService) allRecords() []*models.FileMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FileMetadata
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

// newTestMonitor builds a monitor against a fake service with a snapshot
// installed directly, bypassing the network refresh.
func newTestMonitor(t *testing.T, svc *fakeService, serviceCfg models.AllConfigurations) *Monitor {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Service.BaseURL = srv.URL
	client := apiclient.New(srv.URL, 5*time.Second, 5*time.Second)

	coalescer := events.New(events.LogEmitter{}, events.WithSweepInterval(time.Hour))
	t.Cleanup(coalescer.Close)

	m := New(cfg, client, coalescer)
	m.snap = buildSnapshot(&serviceCfg)
	t.Cleanup(m.StopMonitoring)
	return m
}

func scenarioConfig(docs, blacklisted string) models.AllConfigurations {
	return models.AllConfigurations{
		FileCategories: []models.FileCategory{{ID: 1, Name: "document"}},
		FileExtensionMaps: []models.FileExtensionMap{
			{ID: 1, Extension: "txt", CategoryID: 1},
		},
		MonitoredFolders: []models.MonitoredDirectory{
			{Path: docs},
			{Path: blacklisted, IsBlacklist: true},
		},
	}
}

func TestProcessFileEventAcceptsWhitelistedFile(t *testing.T) {
	docs := t.TempDir()
	tmp := filepath.Join(docs, "tmp")
	require.NoError(t, os.Mkdir(tmp, 0o755))

	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, tmp))

	path := filepath.Join(docs, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("body"), 0o644))

	meta, err := m.ProcessFileEvent(context.Background(), FileEvent{Path: path, Kind: Added})
	require.NoError(t, err)
	require.NotNil(t, meta)

	require.NotNil(t, meta.CategoryID)
	assert.Equal(t, 1, *meta.CategoryID)
	assert.False(t, meta.Excluded())

	// Batcher is not running, so the record went out via direct submission.
	records := svc.allRecords()
	require.Len(t, records, 1)
	assert.Equal(t, path, records[0].FilePath)
}

func TestProcessFileEventDropsBlacklistedPath(t *testing.T) {
	docs := t.TempDir()
	tmp := filepath.Join(docs, "tmp")
	require.NoError(t, os.Mkdir(tmp, 0o755))

	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, tmp))

	path := filepath.Join(tmp, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("body"), 0o644))

	meta, err := m.ProcessFileEvent(context.Background(), FileEvent{Path: path, Kind: Added})
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, svc.allRecords())
}

func TestProcessFileEventRemovedIssuesDelete(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	gone := filepath.Join(docs, "gone.txt")
	meta, err := m.ProcessFileEvent(context.Background(), FileEvent{Path: gone, Kind: Removed})
	require.NoError(t, err)
	assert.Nil(t, meta)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.deleted, 1)
	assert.Equal(t, gone, svc.deleted[0])
	assert.Empty(t, svc.batches)
}

func TestProcessFileEventSkipsNonWhitelistedExtension(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	path := filepath.Join(docs, "binary.exe")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	meta, err := m.ProcessFileEvent(context.Background(), FileEvent{Path: path, Kind: Added})
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, svc.allRecords())
}

func TestProcessFileEventSkipsHidden(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	path := filepath.Join(docs, ".secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	meta, err := m.ProcessFileEvent(context.Background(), FileEvent{Path: path, Kind: Added})
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestProcessFileEventOutsideMonitoredRoots(t *testing.T) {
	docs := t.TempDir()
	other := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	path := filepath.Join(other, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	meta, err := m.ProcessFileEvent(context.Background(), FileEvent{Path: path, Kind: Added})
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestProcessFileEventRequiresSnapshot(t *testing.T) {
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(t.TempDir(), "/nowhere"))
	m.snap = nil

	_, err := m.ProcessFileEvent(context.Background(), FileEvent{Path: "/x", Kind: Added})
	assert.Error(t, err)
}

func TestRefreshConfigSwapsSnapshot(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{cfg: scenarioConfig(docs, filepath.Join(docs, "tmp"))}
	m := newTestMonitor(t, svc, models.AllConfigurations{})

	require.NoError(t, m.RefreshConfig(context.Background()))

	snap := m.snapshotRef()
	require.NotNil(t, snap)
	assert.Equal(t, []string{docs}, snap.monitoredDirs)
	assert.Contains(t, snap.whitelist, "txt")

	summary := m.ConfigurationSummary()
	assert.Equal(t, true, summary["loaded"])
	assert.Equal(t, 1, summary["monitored_folders"])
	assert.Equal(t, 1, summary["blacklisted_folders"])
}

func TestInitialScanEndToEnd(t *testing.T) {
	docs := t.TempDir()
	tmp := filepath.Join(docs, "tmp")
	require.NoError(t, os.Mkdir(tmp, 0o755))

	// Blacklisted and non-whitelisted entries must not surface.
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "skip.bin"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, ".hidden.txt"), []byte("x"), 0o644))

	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, tmp))

	require.NoError(t, m.RunInitialScan(context.Background()))

	records := svc.allRecords()
	require.Len(t, records, 1)
	assert.Equal(t, filepath.Join(docs, "keep.txt"), records[0].FilePath)
	assert.True(t, m.ScanCompleted())
}

func TestInitialScanBatchesThroughAccumulator(t *testing.T) {
	docs := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(docs, name), []byte("x"), 0o644))
	}

	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	// One-shot scans run the accumulator without watchers; stopping it
	// flushes the tail as one batch instead of per-record submissions.
	require.NoError(t, m.StartBatching(context.Background()))
	require.NoError(t, m.RunInitialScan(context.Background()))
	m.Stop()

	require.Len(t, svc.allRecords(), 3)
	svc.mu.Lock()
	assert.Len(t, svc.batches, 1)
	svc.mu.Unlock()
}

func TestInitialScanRunsOnce(t *testing.T) {
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "keep.txt"), []byte("x"), 0o644))

	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	require.NoError(t, m.RunInitialScan(context.Background()))
	require.NoError(t, m.RunInitialScan(context.Background()))

	assert.Len(t, svc.allRecords(), 1)
}

func TestScanByTimeRangeAndType(t *testing.T) {
	docs := t.TempDir()
	fresh := filepath.Join(docs, "fresh.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := filepath.Join(docs, "old.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	past := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(old, past, past))

	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	today, err := m.ScanByTimeRange(context.Background(), models.RangeToday)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, fresh, today[0].FilePath)

	month, err := m.ScanByTimeRange(context.Background(), models.RangeLast30Days)
	require.NoError(t, err)
	assert.Len(t, month, 1)

	_, err = m.ScanByTimeRange(context.Background(), models.TimeRange("yesterday"))
	assert.Error(t, err)

	docsOnly, err := m.ScanByType(context.Background(), models.TypeDocument)
	require.NoError(t, err)
	assert.Len(t, docsOnly, 2)

	images, err := m.ScanByType(context.Background(), models.TypeImage)
	require.NoError(t, err)
	assert.Empty(t, images)

	all, err := m.ScanByType(context.Background(), models.TypeAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, filepath.Join(home, "docs"), expandHome("~/docs"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
}
