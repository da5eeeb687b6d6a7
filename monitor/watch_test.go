package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	present := filepath.Join(t.TempDir(), "present")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	tests := []struct {
		name string
		ev   fsnotify.Event
		want EventKind
	}{
		{"create", fsnotify.Event{Name: missing, Op: fsnotify.Create}, Added},
		{"remove", fsnotify.Event{Name: present, Op: fsnotify.Remove}, Removed},
		{"rename is the source side of a move", fsnotify.Event{Name: present, Op: fsnotify.Rename}, Removed},
		{"write on existing path", fsnotify.Event{Name: present, Op: fsnotify.Write}, Added},
		{"chmod on vanished path", fsnotify.Event{Name: missing, Op: fsnotify.Chmod}, Removed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.ev))
		})
	}
}

func TestWatcherPicksUpCreatedFile(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))
	m.cfg.Monitor.DebounceMS = 20

	require.NoError(t, m.StartMonitoring(context.Background()))
	defer m.StopMonitoring()

	path := filepath.Join(docs, "live.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	waitFor(t, func() bool {
		for _, r := range svc.allRecords() {
			if r.FilePath == path {
				return true
			}
		}
		return false
	})
}

func TestWatcherPicksUpRemoval(t *testing.T) {
	docs := t.TempDir()
	path := filepath.Join(docs, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))
	m.cfg.Monitor.DebounceMS = 20

	require.NoError(t, m.StartMonitoring(context.Background()))
	defer m.StopMonitoring()

	require.NoError(t, os.Remove(path))

	waitFor(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		for _, d := range svc.deleted {
			if d == path {
				return true
			}
		}
		return false
	})
}

func TestStartMonitoringReplacesPriorSet(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))
	m.cfg.Monitor.DebounceMS = 20

	require.NoError(t, m.StartMonitoring(context.Background()))
	first := m.watchers
	require.Len(t, first, 1)

	require.NoError(t, m.StartMonitoring(context.Background()))
	defer m.StopMonitoring()

	// The first set was stopped and replaced, never doubled.
	m.watchMu.Lock()
	assert.Len(t, m.watchers, 1)
	m.watchMu.Unlock()
	assert.Equal(t, stateStopped, first[0].state)
}

func TestStopMonitoringDeliversBufferedEventsAfterCancel(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))
	m.cfg.Monitor.DebounceMS = 60000

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.StartMonitoring(ctx))

	path := filepath.Join(docs, "late.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	// Let the event land in the debounce buffer; the interval is far too
	// long for a tick flush.
	time.Sleep(300 * time.Millisecond)

	// On signal shutdown the run context is canceled before the watchers
	// drain. The buffered event must still reach the service.
	cancel()
	m.StopMonitoring()

	found := false
	for _, r := range svc.allRecords() {
		if r.FilePath == path {
			found = true
		}
	}
	assert.True(t, found, "event buffered before shutdown was not delivered")
}

func TestStopMonitoringIsIdempotent(t *testing.T) {
	docs := t.TempDir()
	svc := &fakeService{}
	m := newTestMonitor(t, svc, scenarioConfig(docs, filepath.Join(docs, "tmp")))

	require.NoError(t, m.StartMonitoring(context.Background()))
	m.StopMonitoring()
	m.StopMonitoring()
}
