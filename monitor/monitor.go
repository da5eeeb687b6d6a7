// Package monitor is the engine core: it owns the configuration snapshot, the
// per-file processing pipeline, the initial scan, the live watchers, the batch
// accumulator and the configuration-change queue.
package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/presift/presift/apiclient"
	"github.com/presift/presift/blacklist"
	"github.com/presift/presift/bundle"
	"github.com/presift/presift/config"
	"github.com/presift/presift/events"
	"github.com/presift/presift/models"
	"github.com/presift/presift/rules"
	"github.com/presift/presift/scanner"
)

// EventKind is the public classification of a filesystem change.
type EventKind int

const (
	Added EventKind = iota
	Removed
)

func (k EventKind) String() string {
	if k == Removed {
		return "removed"
	}
	return "added"
}

// FileEvent is one debounced filesystem change.
type FileEvent struct {
	Path string
	Kind EventKind
}

// Sink accepts records the pipeline has approved for submission.
type Sink interface {
	Accept(ctx context.Context, meta *models.FileMetadata) error
}

// directSink submits records one at a time, bypassing the accumulator. Used
// when the accumulator is not running so no accepted record is silently lost.
type directSink struct {
	client *apiclient.Client
}

func (s *directSink) Accept(ctx context.Context, meta *models.FileMetadata) error {
	return s.client.SubmitBatch(ctx, []*models.FileMetadata{meta})
}

// snapshot is everything derived from one configuration fetch. Immutable after
// construction; readers grab the pointer under a short lock and use it without
// further synchronization.
type snapshot struct {
	cfg           *models.AllConfigurations
	monitoredDirs []string
	blacklistDirs []string
	blacklist     *blacklist.Index
	whitelist     map[string]struct{}
	bundles       *bundle.Detector
	engine        *rules.Engine
}

// Monitor drives the whole observation pipeline for one configuration scope.
type Monitor struct {
	cfg    *config.Config
	client *apiclient.Client
	events *events.Coalescer

	mu   sync.Mutex
	snap *snapshot

	stats models.MonitorStats

	batcher *Batcher
	queue   *ChangeQueue

	watchMu  sync.Mutex
	watchers []*dirWatcher

	scanMu      sync.Mutex
	scanStarted bool
	scanDone    bool
}

// New wires a monitor. Call RefreshConfig before Start.
func New(cfg *config.Config, client *apiclient.Client, coalescer *events.Coalescer) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		client: client,
		events: coalescer,
	}
	m.batcher = newBatcher(client, coalescer, cfg.Monitor.BatchSize, cfg.BatchInterval(), m.allowRecord)
	m.queue = newChangeQueue(m)
	return m
}

// Stats returns a copy of the pipeline counters.
func (m *Monitor) Stats() models.MonitorStats {
	m.stats.Mutex.Lock()
	defer m.stats.Mutex.Unlock()
	return models.MonitorStats{
		ProcessedFiles:  m.stats.ProcessedFiles,
		FilteredFiles:   m.stats.FilteredFiles,
		FilteredBundles: m.stats.FilteredBundles,
		ErrorCount:      m.stats.ErrorCount,
	}
}

func (m *Monitor) addError() {
	m.stats.Mutex.Lock()
	m.stats.ErrorCount++
	m.stats.Mutex.Unlock()
}

// snapshotRef returns the current configuration snapshot, or nil before the
// first successful refresh.
func (m *Monitor) snapshotRef() *snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// expandHome resolves a leading ~ against the current user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("cannot resolve home directory for %s: %v", path, err)
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func buildSnapshot(cfg *models.AllConfigurations) *snapshot {
	var monitored, blacklisted []string
	for _, dir := range cfg.MonitoredFolders {
		path := expandHome(dir.Path)
		if dir.IsBlacklist {
			blacklisted = append(blacklisted, path)
		} else {
			monitored = append(monitored, path)
		}
	}

	whitelist := make(map[string]struct{}, len(cfg.FileExtensionMaps))
	for _, em := range cfg.FileExtensionMaps {
		whitelist[strings.ToLower(em.Extension)] = struct{}{}
	}

	return &snapshot{
		cfg:           cfg,
		monitoredDirs: monitored,
		blacklistDirs: blacklisted,
		blacklist:     blacklist.Build(blacklisted),
		whitelist:     whitelist,
		bundles:       bundle.New(cfg.BundleExtensions),
		engine:        rules.New(cfg),
	}
}

// RefreshConfig fetches the full configuration and swaps the derived snapshot
// atomically. On failure the previous snapshot stays in effect.
func (m *Monitor) RefreshConfig(ctx context.Context) error {
	cfg, err := m.client.FetchAllConfig(ctx)
	if err != nil {
		m.events.Publish(events.APIError, fmt.Sprintf("configuration refresh failed: %v", err))
		return fmt.Errorf("refresh configuration: %v", err)
	}

	snap := buildSnapshot(cfg)
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	log.Printf("configuration refreshed: %d monitored, %d blacklisted, %d rules, %d extensions",
		len(snap.monitoredDirs), len(snap.blacklistDirs),
		len(cfg.FileFilterRules), len(snap.whitelist))
	return nil
}

// ConfigurationSummary reports counts from the active snapshot.
func (m *Monitor) ConfigurationSummary() map[string]any {
	snap := m.snapshotRef()
	if snap == nil {
		return map[string]any{"loaded": false}
	}
	return map[string]any{
		"loaded":              true,
		"monitored_folders":   len(snap.monitoredDirs),
		"blacklisted_folders": len(snap.blacklistDirs),
		"filter_rules":        len(snap.cfg.FileFilterRules),
		"extension_maps":      len(snap.cfg.FileExtensionMaps),
		"file_categories":     len(snap.cfg.FileCategories),
		"bundle_extensions":   len(snap.bundles.Extensions()),
	}
}

// underMonitoredRoot reports whether path sits in one of the snapshot's
// active (non-blacklisted) roots.
func (s *snapshot) underMonitoredRoot(path string) bool {
	for _, root := range s.monitoredDirs {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// sink picks the delivery tier: the accumulator when it is running, otherwise
// a one-off direct submission.
func (m *Monitor) sink() Sink {
	if m.batcher.Running() {
		return m.batcher
	}
	return &directSink{client: m.client}
}

// ProcessFileEvent runs the shared per-file pipeline used by both the live
// watcher and the initial scan. The returned record is nil when the event was
// absorbed (removal handled, path filtered out, or record excluded).
func (m *Monitor) ProcessFileEvent(ctx context.Context, ev FileEvent) (*models.FileMetadata, error) {
	if ev.Kind == Removed {
		if err := m.client.DeleteByPath(ctx, ev.Path); err != nil {
			log.Printf("delete-by-path %s: %v", ev.Path, err)
			m.addError()
			return nil, err
		}
		m.events.Publish(events.ScreeningResultUpdated, map[string]any{
			"file_path": ev.Path,
			"action":    "deleted",
		})
		return nil, nil
	}

	snap := m.snapshotRef()
	if snap == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	path := ev.Path

	// Configuration may have changed since the event was generated; events for
	// directories no longer monitored are dropped without noise.
	if !snap.underMonitoredRoot(path) {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		// Gone again already. Treat as absorbed.
		return nil, nil
	}

	if scanner.IsHidden(path) {
		return nil, nil
	}

	// A change inside a bundle is a change to the bundle: redirect to its root.
	if root := snap.bundles.Resolve(path); root != path {
		path = root
		info, err = os.Stat(path)
		if err != nil {
			return nil, nil
		}
	}
	isBundle := snap.bundles.IsBundle(path)

	// Plain files outside the extension whitelist never produce records.
	if !isBundle && !info.IsDir() {
		ext := scanner.ExtractExtension(path)
		if _, ok := snap.whitelist[ext]; !ok {
			return nil, nil
		}
	}

	if snap.blacklist.Contains(path) {
		return nil, nil
	}

	meta, ok := scanner.Extract(path)
	if !ok {
		m.addError()
		return nil, nil
	}
	meta.IsOSBundle = isBundle

	snap.engine.Apply(meta)

	m.stats.Mutex.Lock()
	m.stats.ProcessedFiles++
	if meta.Excluded() {
		m.stats.FilteredFiles++
	}
	if isBundle {
		m.stats.FilteredBundles++
	}
	m.stats.Mutex.Unlock()

	if meta.Excluded() && !meta.IsOSBundle {
		return nil, nil
	}

	if err := m.sink().Accept(ctx, meta); err != nil {
		log.Printf("failed to hand off %s: %v", meta.FilePath, err)
		m.addError()
		return meta, err
	}
	return meta, nil
}

// StartBatching launches only the batch accumulator, for one-shot scans that
// run without watchers. Stop flushes whatever accumulated.
func (m *Monitor) StartBatching(ctx context.Context) error {
	return m.batcher.Start(ctx)
}

// Start refreshes configuration, starts the accumulator and the watchers, runs
// the initial scan and drains the change queue. Blocks until the scan is done;
// watchers keep running until Stop.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.RefreshConfig(ctx); err != nil {
		return err
	}
	if err := m.batcher.Start(ctx); err != nil {
		return err
	}
	if err := m.StartMonitoring(ctx); err != nil {
		return err
	}
	if err := m.RunInitialScan(ctx); err != nil {
		log.Printf("initial scan: %v", err)
	}
	m.queue.MarkScanComplete(ctx)
	return nil
}

// Stop tears down watchers, drains the accumulator and closes the coalescer.
func (m *Monitor) Stop() {
	m.StopMonitoring()
	m.batcher.Stop()
}
