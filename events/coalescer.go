// Package events rate-limits and merges outbound status notifications before
// they reach the presentation layer, turning bursts of internal events into a
// UI-friendly trickle.
package events

import (
	"log"
	"sync"
	"time"
)

// Notification names emitted by the engine.
const (
	APILog                 = "api-log"
	APIError               = "api-error"
	TagsUpdated            = "tags-updated"
	DatabaseUpdated        = "database-updated"
	TaskCompleted          = "task-completed"
	FileTaggingProgress    = "file-tagging-progress"
	ScreeningResultUpdated = "screening-result-updated"
	ScanStarted            = "scan_started"
	ScanCompleted          = "scan_completed"
	ScanError              = "scan_error"
	FileMonitorError       = "file-monitor-error"
	ModelStatusChanged     = "model-status-changed"
	OAuthLoginSuccess      = "oauth-login-success"
)

// Emitter delivers a coalesced notification to the presentation layer.
type Emitter interface {
	Emit(event string, payload any)
}

// LogEmitter writes notifications to the process log. Used when no
// presentation bridge is attached.
type LogEmitter struct{}

func (LogEmitter) Emit(event string, payload any) {
	log.Printf("[event] %s: %v", event, payload)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event string, payload any)

func (f EmitterFunc) Emit(event string, payload any) { f(event, payload) }

type strategyKind int

const (
	kindImmediate strategyKind = iota
	kindDelayedMerge
	kindThrottle
)

// Strategy is a delivery policy for one event name.
type Strategy struct {
	kind   strategyKind
	window time.Duration
}

// Immediate forwards synchronously with no buffering.
func Immediate() Strategy { return Strategy{kind: kindImmediate} }

// DelayedMerge buffers, later payloads overwriting earlier ones, and delivers
// once the window elapses with no further updates.
func DelayedMerge(window time.Duration) Strategy {
	return Strategy{kind: kindDelayedMerge, window: window}
}

// Throttle sends the first occurrence in an interval immediately; later
// occurrences within the interval replace a pending payload flushed at the
// next interval boundary.
func Throttle(interval time.Duration) Strategy {
	return Strategy{kind: kindThrottle, window: interval}
}

// defaultStrategy applies to event names with no configured policy.
var defaultStrategy = DelayedMerge(500 * time.Millisecond)

// DefaultStrategies is the stock policy table.
func DefaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		// Errors and state changes must reach the user without delay.
		APIError:           Immediate(),
		ScanError:          Immediate(),
		FileMonitorError:   Immediate(),
		ScanStarted:        Immediate(),
		ScanCompleted:      Immediate(),
		ModelStatusChanged: Immediate(),
		OAuthLoginSuccess:  Immediate(),

		// Batch-heavy updates collapse to the latest payload.
		TagsUpdated:     DelayedMerge(5 * time.Second),
		DatabaseUpdated: DelayedMerge(5 * time.Second),
		TaskCompleted:   DelayedMerge(2 * time.Second),

		// Progress streams are frequency-capped.
		FileTaggingProgress:    Throttle(1 * time.Second),
		ScreeningResultUpdated: Throttle(5 * time.Second),
	}
}

type bufferedEvent struct {
	payload    any
	window     time.Duration
	throttled  bool
	hasPending bool
	lastUpdate time.Time
	lastEmit   time.Time
	count      int
}

// Coalescer applies per-name delivery strategies in front of an Emitter.
// A background sweep flushes buffered entries whose age exceeds their window,
// so no event is held indefinitely.
type Coalescer struct {
	emitter    Emitter
	strategies map[string]Strategy
	sweepEvery time.Duration

	mu       sync.Mutex
	buffered map[string]*bufferedEvent

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option adjusts Coalescer construction.
type Option func(*Coalescer)

// WithStrategy overrides the policy for one event name.
func WithStrategy(event string, s Strategy) Option {
	return func(c *Coalescer) { c.strategies[event] = s }
}

// WithSweepInterval changes the background sweep period.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Coalescer) { c.sweepEvery = d }
}

// New builds a coalescer with the default policy table and starts its sweep.
func New(emitter Emitter, opts ...Option) *Coalescer {
	c := &Coalescer{
		emitter:    emitter,
		strategies: DefaultStrategies(),
		sweepEvery: time.Second,
		buffered:   make(map[string]*bufferedEvent),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Publish routes one notification through its strategy.
func (c *Coalescer) Publish(event string, payload any) {
	strategy, ok := c.strategies[event]
	if !ok {
		strategy = defaultStrategy
	}

	switch strategy.kind {
	case kindImmediate:
		c.emitter.Emit(event, payload)

	case kindDelayedMerge:
		c.mu.Lock()
		if buf, ok := c.buffered[event]; ok {
			buf.payload = payload
			buf.lastUpdate = time.Now()
			buf.count++
		} else {
			c.buffered[event] = &bufferedEvent{
				payload:    payload,
				window:     strategy.window,
				lastUpdate: time.Now(),
				count:      1,
			}
		}
		c.mu.Unlock()

	case kindThrottle:
		now := time.Now()
		c.mu.Lock()
		if buf, ok := c.buffered[event]; ok && now.Sub(buf.lastEmit) < buf.window {
			// Inside the interval: keep only the newest payload.
			buf.payload = payload
			buf.hasPending = true
			buf.lastUpdate = now
			buf.count++
			c.mu.Unlock()
			return
		}
		c.buffered[event] = &bufferedEvent{
			window:    strategy.window,
			throttled: true,
			lastEmit:  now,
			count:     1,
		}
		c.mu.Unlock()
		c.emitter.Emit(event, payload)
	}
}

// sweep flushes entries whose age exceeds their window as of now.
func (c *Coalescer) sweep(now time.Time) {
	type flushItem struct {
		event   string
		payload any
	}
	var flush []flushItem

	c.mu.Lock()
	for event, buf := range c.buffered {
		if buf.throttled {
			if now.Sub(buf.lastEmit) < buf.window {
				continue
			}
			if buf.hasPending {
				flush = append(flush, flushItem{event, buf.payload})
			}
			delete(c.buffered, event)
			continue
		}
		if now.Sub(buf.lastUpdate) >= buf.window {
			flush = append(flush, flushItem{event, buf.payload})
			delete(c.buffered, event)
		}
	}
	c.mu.Unlock()

	for _, item := range flush {
		c.emitter.Emit(item.event, item.payload)
	}
}

func (c *Coalescer) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

// Close stops the sweep and flushes everything still buffered. Idempotent.
func (c *Coalescer) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.mu.Lock()
		remaining := c.buffered
		c.buffered = make(map[string]*bufferedEvent)
		c.mu.Unlock()

		for event, buf := range remaining {
			if buf.throttled && !buf.hasPending {
				continue
			}
			c.emitter.Emit(event, buf.payload)
		}
	})
}
