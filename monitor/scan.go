package monitor

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/presift/presift/events"
	"github.com/presift/presift/models"
	"github.com/presift/presift/scanner"
)

// blacklistRecheckEvery is how many visited entries pass between blacklist
// re-reads during a walk, so a configuration change mid-scan takes effect
// without restarting the scan.
const blacklistRecheckEvery = 1000

// scanCounters tracks one directory walk.
type scanCounters struct {
	Seen      int `json:"seen"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Bundles   int `json:"bundles"`
}

// RunInitialScan walks every monitored directory once, feeding survivors
// through the shared per-file pipeline. Reentry is a no-op.
func (m *Monitor) RunInitialScan(ctx context.Context) error {
	m.scanMu.Lock()
	if m.scanStarted {
		m.scanMu.Unlock()
		log.Printf("initial scan already ran; ignoring")
		return nil
	}
	m.scanStarted = true
	m.scanMu.Unlock()

	snap := m.snapshotRef()
	if snap == nil {
		return fmt.Errorf("no configuration loaded")
	}

	ctx, span := otel.Tracer("presift/monitor").Start(ctx, "initial-scan")
	defer span.End()

	m.events.Publish(events.ScanStarted, map[string]any{
		"directories": len(snap.monitoredDirs),
	})

	total := scanCounters{}
	for _, dir := range snap.monitoredDirs {
		counters, err := m.scanDirectory(ctx, dir)
		if err != nil {
			log.Printf("scan of %s: %v", dir, err)
			m.events.Publish(events.ScanError, fmt.Sprintf("%s: %v", dir, err))
			m.addError()
			continue
		}
		log.Printf("scanned %s: seen=%d processed=%d skipped=%d bundles=%d",
			dir, counters.Seen, counters.Processed, counters.Skipped, counters.Bundles)
		total.Seen += counters.Seen
		total.Processed += counters.Processed
		total.Skipped += counters.Skipped
		total.Bundles += counters.Bundles
	}

	m.scanMu.Lock()
	m.scanDone = true
	m.scanMu.Unlock()

	m.events.Publish(events.ScanCompleted, total)
	return nil
}

// ScanCompleted reports whether the initial scan has finished.
func (m *Monitor) ScanCompleted() bool {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	return m.scanDone
}

// scanDirectory walks one root. The entry filter short-circuits before
// descending: hidden entries, blacklisted subtrees and bundle interiors are
// never entered; a bundle root is emitted as one record and then skipped.
func (m *Monitor) scanDirectory(ctx context.Context, dir string) (scanCounters, error) {
	counters := scanCounters{}
	snap := m.snapshotRef()
	if snap == nil {
		return counters, fmt.Errorf("no configuration loaded")
	}

	if snap.blacklist.Contains(dir) {
		counters.Skipped++
		return counters, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			counters.Skipped++
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		counters.Seen++
		if counters.Seen%blacklistRecheckEvery == 0 {
			if fresh := m.snapshotRef(); fresh != nil {
				snap = fresh
			}
		}

		if path == dir {
			return nil
		}

		if scanner.IsHidden(path) {
			counters.Skipped++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if snap.blacklist.Contains(path) {
			counters.Skipped++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() && snap.bundles.IsBundle(path) {
			// The bundle surfaces as a single record; its interior does not.
			counters.Bundles++
			if _, perr := m.ProcessFileEvent(ctx, FileEvent{Path: path, Kind: Added}); perr != nil {
				counters.Skipped++
			} else {
				counters.Processed++
			}
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}

		ext := scanner.ExtractExtension(path)
		if _, ok := snap.whitelist[ext]; !ok {
			counters.Skipped++
			return nil
		}

		if _, perr := m.ProcessFileEvent(ctx, FileEvent{Path: path, Kind: Added}); perr != nil {
			counters.Skipped++
			return nil
		}
		counters.Processed++
		return nil
	})
	return counters, err
}

// ScanSingleDirectory reuses the walk for one directory, outside the initial
// scan's latch and bookkeeping. Used when a folder turns monitored at runtime.
func (m *Monitor) ScanSingleDirectory(ctx context.Context, dir string) error {
	dir = expandHome(dir)
	counters, err := m.scanDirectory(ctx, dir)
	if err != nil {
		return fmt.Errorf("scan %s: %v", dir, err)
	}
	log.Printf("incremental scan of %s: processed=%d skipped=%d", dir, counters.Processed, counters.Skipped)
	return nil
}

// cutoffFor translates a time range into the earliest admissible mod time.
func cutoffFor(rng models.TimeRange, now time.Time) (time.Time, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch rng {
	case models.RangeToday:
		return midnight, nil
	case models.RangeLast7Days:
		return midnight.AddDate(0, 0, -7), nil
	case models.RangeLast30Days:
		return midnight.AddDate(0, 0, -30), nil
	default:
		return time.Time{}, fmt.Errorf("unknown time range %q", rng)
	}
}

// categoryFor maps a coarse file type to its category id; 0 means no filter.
func categoryFor(ft models.FileType) (int, error) {
	switch ft {
	case models.TypeDocument:
		return 1, nil
	case models.TypeImage:
		return 2, nil
	case models.TypeAudioVideo:
		return 3, nil
	case models.TypeArchive:
		return 4, nil
	case models.TypeAll:
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown file type %q", ft)
	}
}

// collectFiles walks the monitored roots with the standard short-circuit
// filter and keeps files the predicate accepts.
func (m *Monitor) collectFiles(ctx context.Context, keep func(path string, info fs.FileInfo) bool) ([]models.FileInfo, error) {
	snap := m.snapshotRef()
	if snap == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	var results []models.FileInfo
	for _, dir := range snap.monitoredDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if path == dir {
				return nil
			}
			if scanner.IsHidden(path) || snap.blacklist.Contains(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if snap.bundles.IsBundle(path) {
					return filepath.SkipDir
				}
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil {
				return nil
			}
			if !keep(path, info) {
				return nil
			}
			ext := scanner.ExtractExtension(path)
			fi := models.FileInfo{
				FilePath:     path,
				FileName:     filepath.Base(path),
				FileSize:     info.Size(),
				Extension:    ext,
				ModifiedTime: info.ModTime().UTC().Format(time.RFC3339),
			}
			for _, em := range snap.cfg.FileExtensionMaps {
				if em.Extension == ext {
					catID := em.CategoryID
					fi.CategoryID = &catID
					break
				}
			}
			results = append(results, fi)
			return nil
		})
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// ScanByTimeRange lists monitored files modified within the window.
func (m *Monitor) ScanByTimeRange(ctx context.Context, rng models.TimeRange) ([]models.FileInfo, error) {
	cutoff, err := cutoffFor(rng, time.Now())
	if err != nil {
		return nil, err
	}
	return m.collectFiles(ctx, func(path string, info fs.FileInfo) bool {
		return !info.ModTime().Before(cutoff)
	})
}

// ScanByType lists monitored files whose mapped category matches the filter.
func (m *Monitor) ScanByType(ctx context.Context, ft models.FileType) ([]models.FileInfo, error) {
	wantCategory, err := categoryFor(ft)
	if err != nil {
		return nil, err
	}
	snap := m.snapshotRef()
	if snap == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	byExt := make(map[string]int, len(snap.cfg.FileExtensionMaps))
	for _, em := range snap.cfg.FileExtensionMaps {
		byExt[em.Extension] = em.CategoryID
	}

	return m.collectFiles(ctx, func(path string, info fs.FileInfo) bool {
		if wantCategory == 0 {
			return true
		}
		cat, ok := byExt[scanner.ExtractExtension(path)]
		return ok && cat == wantCategory
	})
}
