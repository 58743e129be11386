// Package playback schedules decoded response audio for gapless, in-order
// playback against an output device.
//
// Segments arrive at irregular wall-clock intervals, but each one must start
// exactly where the previous one ends. The [Scheduler] keeps a single cursor
// — the earliest time the next segment may begin — anchored to the device's
// playback clock, and a set of live handles for everything scheduled but not
// yet finished. Barge-in interruption stops every handle at once and resets
// the cursor so the next segment re-anchors to "now".
//
// Failure degrades playback smoothness, never ordering: a segment scheduled
// too late causes a brief output gap, and a failed device write drops the
// rest of that segment only.
package playback

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lkw0831/HomeApplianceService/internal/observe"
	"github.com/lkw0831/HomeApplianceService/pkg/audio"
)

// writeBlock is the number of samples per sink write. Small enough that an
// interrupt takes effect within a few tens of milliseconds of audio.
const writeBlock = 1024

// Clock is the playback clock segments are scheduled against. Now is
// monotonic and starts near zero when the output device opens.
type Clock interface {
	Now() time.Duration
}

// wallClock is the production clock: monotonic time since the scheduler was
// created, which tracks the device clock as long as writes pace in real time.
type wallClock struct {
	epoch time.Time
}

func (c wallClock) Now() time.Duration { return time.Since(c.epoch) }

// Sink receives scheduled samples. Write blocks until the device has
// accepted them; [device.OutputStream] satisfies this.
type Sink interface {
	Write(samples []float32) error
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithClock substitutes the playback clock. Used in tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics substitutes the metrics instance. Used in tests to avoid the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// handle is one scheduled-but-possibly-still-playing segment.
type handle struct {
	timer *time.Timer
	stop  chan struct{}
	done  chan struct{}
	// prev is the done channel of the previously scheduled handle. Waiting
	// on it keeps segments strictly ordered even when the sink runs ahead
	// of real time. Nil for the first segment after an anchor reset.
	prev <-chan struct{}

	stopOnce sync.Once
	doneOnce sync.Once
}

func (h *handle) cancel() {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.timer != nil {
		h.timer.Stop()
	}
}

func (h *handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Scheduler owns the playback cursor and the set of active handles. All
// exported methods are safe for concurrent use; cursor and handle mutations
// form a single critical section so an Interrupt racing an Enqueue can never
// leave an orphaned handle playing.
type Scheduler struct {
	sink    Sink
	clock   Clock
	metrics *observe.Metrics

	mu      sync.Mutex
	cursor  time.Duration // earliest start time for the next segment
	handles map[*handle]struct{}
	tail    <-chan struct{}
	closed  bool
}

// New creates a Scheduler delivering samples to sink.
func New(sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:    sink,
		clock:   wallClock{epoch: time.Now()},
		handles: make(map[*handle]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Enqueue schedules buf to start at the cursor (or immediately, whichever is
// later) and advances the cursor by the buffer's duration. Segments play
// back-to-back in Enqueue order. An empty buffer is a no-op.
func (s *Scheduler) Enqueue(buf audio.Buffer) {
	if len(buf.Samples) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if s.cursor < now {
		s.cursor = now
	}
	lead := s.cursor - now
	s.cursor += buf.Duration()

	h := &handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
		prev: s.tail,
	}
	s.handles[h] = struct{}{}
	s.tail = h.done
	h.timer = time.AfterFunc(lead, func() { s.run(h, buf) })
	s.mu.Unlock()

	s.metrics.SegmentsScheduled.Add(context.Background(), 1)
	s.metrics.ScheduleLead.Record(context.Background(), lead.Seconds())
}

// run streams one segment to the sink. It fires at the segment's scheduled
// start time and first waits out its predecessor, so order holds even when
// timers fire close together.
func (s *Scheduler) run(h *handle, buf audio.Buffer) {
	defer s.remove(h)

	if h.prev != nil {
		select {
		case <-h.prev:
		case <-h.stop:
			return
		}
	}

	for chunk := range slices.Chunk(buf.Samples, writeBlock) {
		select {
		case <-h.stop:
			return
		default:
		}
		if err := s.sink.Write(chunk); err != nil {
			slog.Warn("playback write failed, dropping rest of segment", "err", err)
			return
		}
	}
}

// remove marks h complete and drops it from the active set.
func (s *Scheduler) remove(h *handle) {
	h.finish()
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Interrupt immediately stops every active handle, clears the set, and
// resets the cursor to zero so the next Enqueue re-anchors to "now". A
// segment whose decode completes after the interrupt starts fresh audio
// rather than extending the cancelled tail.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	for h := range s.handles {
		h.cancel()
		h.finish()
	}
	clear(s.handles)
	s.cursor = 0
	s.tail = nil
	s.mu.Unlock()

	s.metrics.PlaybackInterrupts.Add(context.Background(), 1)
}

// Shutdown stops and releases all active handles and rejects further
// enqueues. Idempotent — safe to call when already empty or already shut
// down.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for h := range s.handles {
		h.cancel()
		h.finish()
	}
	clear(s.handles)
	s.cursor = 0
	s.tail = nil
}

// NextStart returns the cursor: the earliest time the next segment may
// begin, on the playback clock. Zero means the next segment re-anchors.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active returns the number of scheduled-but-unfinished handles.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
