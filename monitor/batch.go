package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/presift/presift/apiclient"
	"github.com/presift/presift/events"
	"github.com/presift/presift/models"
)

// queueCapacity bounds the metadata channel. Producers block when it is full;
// events are never dropped for backpressure.
const queueCapacity = 100

// recordFilter decides whether the accumulator keeps a record.
type recordFilter func(meta *models.FileMetadata) bool

// Batcher buffers accepted records and flushes them to the indexing service
// when the buffer reaches batchSize or batchInterval elapses. Delivery is
// at-most-once: a failed flush is logged and the batch is discarded.
type Batcher struct {
	client   *apiclient.Client
	events   *events.Coalescer
	size     int
	interval time.Duration
	allow    recordFilter

	ch   chan *models.FileMetadata
	stop chan struct{}
	done chan struct{}

	mu       sync.Mutex
	running  bool
	inflight sync.WaitGroup

	submitted int64
	dropped   int64
}

func newBatcher(client *apiclient.Client, coalescer *events.Coalescer, size int, interval time.Duration, allow recordFilter) *Batcher {
	if size <= 0 {
		size = 50
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Batcher{
		client:   client,
		events:   coalescer,
		size:     size,
		interval: interval,
		allow:    allow,
	}
}

// Running reports whether the accumulator loop is active.
func (b *Batcher) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start launches the accumulator loop. A second concurrent start is rejected.
func (b *Batcher) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("batch accumulator already running")
	}
	b.ch = make(chan *models.FileMetadata, queueCapacity)
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.running = true
	go b.run(ctx)
	return nil
}

// Stop signals the loop and waits for the final drain and flush. Accepts that
// passed the running check are allowed to land their record first, so nothing
// handed off before Stop can miss the final flush.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stop, done := b.stop, b.done
	b.mu.Unlock()

	b.inflight.Wait()
	close(stop)
	<-done
}

// Accept queues one record, blocking when the channel is full. Records the
// drop rules reject are absorbed without error.
func (b *Batcher) Accept(ctx context.Context, meta *models.FileMetadata) error {
	if b.allow != nil && !b.allow(meta) {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return nil
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("batch accumulator not running")
	}
	b.inflight.Add(1)
	ch := b.ch
	b.mu.Unlock()
	defer b.inflight.Done()

	select {
	case ch <- meta:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)

	batch := make([]*models.FileMetadata, 0, b.size)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	flush := func(flushCtx context.Context) {
		if len(batch) == 0 {
			return
		}
		records := batch
		batch = make([]*models.FileMetadata, 0, b.size)

		spanCtx, span := otel.Tracer("presift/monitor").Start(flushCtx, "batch-flush")
		span.SetAttributes(attribute.Int("batch_size", len(records)))
		err := b.client.SubmitBatch(spanCtx, records)
		span.End()
		if err != nil {
			log.Printf("batch submission of %d records failed: %v", len(records), err)
			b.events.Publish(events.APIError, fmt.Sprintf("batch submission failed: %v", err))
			return
		}
		b.mu.Lock()
		b.submitted += int64(len(records))
		b.mu.Unlock()
		b.events.Publish(events.DatabaseUpdated, map[string]any{"records": len(records)})
	}

	for {
		select {
		case <-b.stop:
			// Drain whatever producers already queued, then flush once.
			for {
				select {
				case meta := <-b.ch:
					batch = append(batch, meta)
				default:
					flush(context.Background())
					return
				}
			}
		case meta := <-b.ch:
			batch = append(batch, meta)
			if len(batch) >= b.size {
				flush(ctx)
				ticker.Reset(b.interval)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// allowRecord is the accumulator's drop filter: directories, hidden files,
// rule-excluded records and .DS_Store never reach the service, and plain files
// must sit in the extension whitelist. Bundle records bypass the whitelist
// since their "extension" is really a package type.
func (m *Monitor) allowRecord(meta *models.FileMetadata) bool {
	if meta.IsDir && !meta.IsOSBundle {
		return false
	}
	if meta.IsHidden {
		return false
	}
	if meta.Excluded() && !meta.IsOSBundle {
		return false
	}
	if strings.EqualFold(meta.FileName, ".DS_Store") {
		return false
	}
	if meta.IsOSBundle {
		return true
	}
	if snap := m.snapshotRef(); snap != nil {
		if _, ok := snap.whitelist[meta.Extension]; !ok {
			return false
		}
	}
	return true
}
