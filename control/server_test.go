package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presift/presift/apiclient"
	"github.com/presift/presift/config"
	"github.com/presift/presift/events"
	"github.com/presift/presift/models"
	"github.com/presift/presift/monitor"
)

func newTestServer(t *testing.T) (*Server, *Hub) {
	t.Helper()

	docs := t.TempDir()
	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/config/all":
			json.NewEncoder(w).Encode(models.AllConfigurations{
				FileCategories:    []models.FileCategory{{ID: 1, Name: "document"}},
				FileExtensionMaps: []models.FileExtensionMap{{ID: 1, Extension: "txt", CategoryID: 1}},
				MonitoredFolders:  []models.MonitoredDirectory{{Path: docs}},
			})
		default:
			w.Write([]byte("{}"))
		}
	}))
	t.Cleanup(svc.Close)

	cfg := config.Default()
	cfg.Service.BaseURL = svc.URL
	client := apiclient.New(svc.URL, 5*time.Second, 5*time.Second)

	hub := NewHub()
	coalescer := events.New(hub, events.WithSweepInterval(time.Hour))
	t.Cleanup(coalescer.Close)

	m := monitor.New(cfg, client, coalescer)
	require.NoError(t, m.RefreshConfig(context.Background()))
	t.Cleanup(m.StopMonitoring)

	return NewServer(m, hub), hub
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigSummaryEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/config/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, true, summary["loaded"])
	assert.Equal(t, float64(1), summary["monitored_folders"])
}

func TestQueueEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/queue/blacklist", `{"path":"/data/tmp","parent_id":3}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(s, http.MethodPost, "/queue/whitelist", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/queue/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Contains(t, status, "pending")
	assert.Contains(t, status, "scan_complete")
}

func TestQueueRequestsAppendInArrivalOrder(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/queue/blacklist", `{"path":"/data/tmp"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = doRequest(s, http.MethodPost, "/queue/whitelist", `{"path":"/data/docs"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The scan has not completed, so both requests sit in the queue in
	// request order as soon as their handlers return.
	rec = doRequest(s, http.MethodGet, "/queue/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Pending      int      `json:"pending"`
		PendingKinds []string `json:"pending_kinds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.Pending)
	assert.Equal(t,
		[]string{string(models.ChangeAddBlacklist), string(models.ChangeAddWhitelist)},
		status.PendingKinds)
}

func TestScanEndpointsRejectBadParameters(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/scan/time-range?range=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/scan/type?type=spreadsheet", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/scan/time-range?range=today", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartScanEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/scan/start", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()

	hub.Emit("tags-updated", map[string]any{"n": 1})

	select {
	case n := <-sub:
		assert.Equal(t, "tags-updated", n.Event)
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}

	hub.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)

	// Emitting after unsubscribe must not panic.
	hub.Emit("tags-updated", nil)
}
