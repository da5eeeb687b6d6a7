package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/presift/presift/events"
	"github.com/presift/presift/models"
)

const (
	replayAttempts  = 3
	replayBackoff   = 500 * time.Millisecond
	refreshAttempts = 3
)

// ChangeQueue holds configuration-mutating requests until the initial scan has
// completed, then replays them in arrival order. Requests arriving after the
// scan still pass through the queue so there is a single code path.
type ChangeQueue struct {
	monitor *Monitor

	mu           sync.Mutex
	pending      []models.ConfigChangeRequest
	scanComplete bool
	draining     bool
	executed     int
	failures     []string
}

func newChangeQueue(m *Monitor) *ChangeQueue {
	return &ChangeQueue{monitor: m}
}

// Queue returns the monitor's change queue.
func (m *Monitor) Queue() *ChangeQueue { return m.queue }

// Append records one request and reports whether the queue is ready to drain.
// Callers that must preserve arrival order append inline and run the drain on
// their own schedule.
func (q *ChangeQueue) Append(req models.ConfigChangeRequest) bool {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	ready := q.scanComplete
	q.mu.Unlock()

	log.Printf("queued configuration change %s for %s", req.Kind, req.FolderPath)
	return ready
}

// Enqueue appends one request. Once the initial scan is complete the queue
// drains immediately; before that the request waits.
func (q *ChangeQueue) Enqueue(ctx context.Context, req models.ConfigChangeRequest) {
	if q.Append(req) {
		q.Drain(ctx)
	}
}

// MarkScanComplete flips the gate and drains everything accumulated during
// the scan.
func (q *ChangeQueue) MarkScanComplete(ctx context.Context) {
	q.mu.Lock()
	q.scanComplete = true
	q.mu.Unlock()
	q.Drain(ctx)
}

// Status reports queue depth and replay outcomes.
func (q *ChangeQueue) Status() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	failures := make([]string, len(q.failures))
	copy(failures, q.failures)
	kinds := make([]string, len(q.pending))
	for i, req := range q.pending {
		kinds[i] = string(req.Kind)
	}
	return map[string]any{
		"pending":       len(q.pending),
		"pending_kinds": kinds,
		"scan_complete": q.scanComplete,
		"executed":      q.executed,
		"failures":      failures,
	}
}

// Drain replays pending requests in order. A request that exhausts its retries
// is recorded and skipped; the rest still run. A configuration refresh is
// forced afterward. Reentrant calls are absorbed by the draining flag.
func (q *ChangeQueue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining || !q.scanComplete {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	ran := 0
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		req := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.replayOne(ctx, req); err != nil {
			msg := fmt.Sprintf("%s %s: %v", req.Kind, req.FolderPath, err)
			log.Printf("configuration change failed permanently: %s", msg)
			q.monitor.events.Publish(events.APIError, msg)
			q.mu.Lock()
			q.failures = append(q.failures, msg)
			q.mu.Unlock()
			continue
		}
		q.mu.Lock()
		q.executed++
		q.mu.Unlock()
		ran++
	}

	if ran > 0 {
		q.refreshAfterDrain(ctx)
	}
}

// replayOne executes a single request with bounded retry.
func (q *ChangeQueue) replayOne(ctx context.Context, req models.ConfigChangeRequest) error {
	var lastErr error
	for attempt := 1; attempt <= replayAttempts; attempt++ {
		lastErr = q.execute(ctx, req)
		if lastErr == nil {
			return nil
		}
		if attempt == replayAttempts {
			break
		}
		log.Printf("change %s attempt %d/%d failed: %v", req.Kind, attempt, replayAttempts, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(replayBackoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

// execute applies one request against the indexing service, with the side
// effect the request kind implies: paths that stop being monitored are purged,
// paths that start being monitored are scanned incrementally.
func (q *ChangeQueue) execute(ctx context.Context, req models.ConfigChangeRequest) error {
	client := q.monitor.client

	switch req.Kind {
	case models.ChangeAddBlacklist:
		dir := models.MonitoredDirectory{Path: req.FolderPath, Alias: req.FolderAlias, IsBlacklist: true}
		if err := client.AddDirectory(ctx, dir); err != nil {
			return err
		}
		return q.purge(ctx, req.FolderPath)

	case models.ChangeAddWhitelist:
		dir := models.MonitoredDirectory{Path: req.FolderPath, Alias: req.FolderAlias}
		if err := client.AddDirectory(ctx, dir); err != nil {
			return err
		}
		return q.monitor.ScanSingleDirectory(ctx, req.FolderPath)

	case models.ChangeDeleteFolder:
		if err := client.DeleteDirectory(ctx, req.FolderID); err != nil {
			return err
		}
		return q.purge(ctx, req.FolderPath)

	case models.ChangeToggleFolder:
		// req.IsBlacklist carries the target state.
		if err := client.ToggleDirectory(ctx, req.FolderID, req.IsBlacklist); err != nil {
			return err
		}
		if req.IsBlacklist {
			return q.purge(ctx, req.FolderPath)
		}
		return q.monitor.ScanSingleDirectory(ctx, req.FolderPath)

	case models.ChangeBundleExtension:
		// No direct call; the forced refresh after the drain picks it up.
		return nil

	default:
		return fmt.Errorf("unknown change kind %q", req.Kind)
	}
}

func (q *ChangeQueue) purge(ctx context.Context, path string) error {
	deleted, err := q.monitor.client.CleanByPath(ctx, expandHome(path))
	if err != nil {
		return err
	}
	log.Printf("purged %d records under %s", deleted, path)
	q.monitor.events.Publish(events.ScreeningResultUpdated, map[string]any{
		"path":    path,
		"deleted": deleted,
	})
	return nil
}

// refreshAfterDrain forces a configuration refresh, retried with increasing
// delay, and realigns the watch set when it succeeds.
func (q *ChangeQueue) refreshAfterDrain(ctx context.Context) {
	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		if err := q.monitor.RefreshConfig(ctx); err == nil {
			if werr := q.monitor.StartMonitoring(ctx); werr != nil {
				log.Printf("restarting watchers after refresh: %v", werr)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(replayBackoff * time.Duration(attempt)):
		}
	}
	log.Printf("configuration refresh after queue drain failed %d times", refreshAttempts)
	q.monitor.events.Publish(events.APIError, "configuration refresh after queue drain failed")
}
