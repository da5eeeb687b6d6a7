package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{last: make(map[string]any)}
}

func (r *recordingEmitter) Emit(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last[event] = payload
}

func (r *recordingEmitter) countOf(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recordingEmitter) lastPayload(event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[event]
}

// quiet builds a coalescer whose background sweep never fires, so tests can
// drive sweeps deterministically.
func quiet(emitter Emitter, opts ...Option) *Coalescer {
	opts = append([]Option{WithSweepInterval(time.Hour)}, opts...)
	return New(emitter, opts...)
}

func TestImmediatePassesThrough(t *testing.T) {
	rec := newRecordingEmitter()
	c := quiet(rec)

	c.Publish(APIError, "boom")
	c.Publish(ScanStarted, "dir")

	assert.Equal(t, 1, rec.countOf(APIError))
	assert.Equal(t, 1, rec.countOf(ScanStarted))
}

func TestDelayedMergeCollapsesToLatest(t *testing.T) {
	rec := newRecordingEmitter()
	c := quiet(rec, WithStrategy(TagsUpdated, DelayedMerge(10*time.Millisecond)))

	c.Publish(TagsUpdated, "first")
	c.Publish(TagsUpdated, "second")
	c.Publish(TagsUpdated, "third")
	assert.Equal(t, 0, rec.countOf(TagsUpdated))

	c.sweep(time.Now().Add(time.Second))
	require.Equal(t, 1, rec.countOf(TagsUpdated))
	assert.Equal(t, "third", rec.lastPayload(TagsUpdated))
}

func TestDelayedMergeHoldsWhileUpdatesKeepArriving(t *testing.T) {
	rec := newRecordingEmitter()
	c := quiet(rec, WithStrategy(DatabaseUpdated, DelayedMerge(time.Minute)))

	c.Publish(DatabaseUpdated, "v1")
	c.sweep(time.Now()) // window not elapsed yet
	assert.Equal(t, 0, rec.countOf(DatabaseUpdated))
}

func TestThrottleFirstImmediateLatestTrailing(t *testing.T) {
	rec := newRecordingEmitter()
	c := quiet(rec, WithStrategy(FileTaggingProgress, Throttle(time.Minute)))

	c.Publish(FileTaggingProgress, 1)
	c.Publish(FileTaggingProgress, 2)
	c.Publish(FileTaggingProgress, 3)
	c.Publish(FileTaggingProgress, 4)
	c.Publish(FileTaggingProgress, 5)

	// Only the first got through inside the interval.
	require.Equal(t, 1, rec.countOf(FileTaggingProgress))
	assert.Equal(t, 1, rec.lastPayload(FileTaggingProgress))

	// After the interval the newest pending payload flushes.
	c.sweep(time.Now().Add(2 * time.Minute))
	require.Equal(t, 2, rec.countOf(FileTaggingProgress))
	assert.Equal(t, 5, rec.lastPayload(FileTaggingProgress))
}

func TestThrottleNoPendingNoTrailingEmit(t *testing.T) {
	rec := newRecordingEmitter()
	c := quiet(rec, WithStrategy(ScreeningResultUpdated, Throttle(time.Minute)))

	c.Publish(ScreeningResultUpdated, "only")
	c.sweep(time.Now().Add(2 * time.Minute))

	assert.Equal(t, 1, rec.countOf(ScreeningResultUpdated))
}

func TestUnknownEventUsesDefaultMerge(t *testing.T) {
	rec := newRecordingEmitter()
	c := quiet(rec)

	c.Publish("custom-event", "a")
	c.Publish("custom-event", "b")
	assert.Equal(t, 0, rec.countOf("custom-event"))

	c.sweep(time.Now().Add(time.Second))
	require.Equal(t, 1, rec.countOf("custom-event"))
	assert.Equal(t, "b", rec.lastPayload("custom-event"))
}

func TestCloseFlushesBuffered(t *testing.T) {
	rec := newRecordingEmitter()
	c := quiet(rec)

	c.Publish(TagsUpdated, "pending")
	c.Close()
	c.Close() // idempotent

	assert.Equal(t, 1, rec.countOf(TagsUpdated))
	assert.Equal(t, "pending", rec.lastPayload(TagsUpdated))
}
