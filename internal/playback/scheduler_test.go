package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/lkw0831/HomeApplianceService/pkg/audio"
)

// fakeClock is a manually advanced playback clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// recordSink collects every write and signals on writes so tests can wait
// for playback without sleeping.
type recordSink struct {
	mu     sync.Mutex
	got    []float32
	writes chan struct{}
}

func newRecordSink() *recordSink {
	return &recordSink{writes: make(chan struct{}, 64)}
}

func (s *recordSink) Write(samples []float32) error {
	s.mu.Lock()
	s.got = append(s.got, samples...)
	s.mu.Unlock()
	s.writes <- struct{}{}
	return nil
}

func (s *recordSink) samples() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.got...)
}

// waitSamples blocks until the sink has received n samples total.
func (s *recordSink) waitSamples(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if len(s.samples()) >= n {
			return
		}
		select {
		case <-s.writes:
		case <-deadline:
			t.Fatalf("timed out waiting for %d samples, got %d", n, len(s.samples()))
		}
	}
}

// gateSink blocks each write until released, so tests can hold a segment
// mid-playback deterministically.
type gateSink struct {
	mu      sync.Mutex
	writes  int
	started chan struct{}
	release chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		started: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (s *gateSink) Write(samples []float32) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	s.started <- struct{}{}
	<-s.release
	return nil
}

func (s *gateSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func seg(n int, v float32, rate int) audio.Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.Buffer{Samples: samples, SampleRate: rate}
}

func TestEnqueueAdvancesCursorGapless(t *testing.T) {
	clock := &fakeClock{}
	sink := newRecordSink()
	s := New(sink, WithClock(clock))
	defer s.Shutdown()

	// Three 10ms segments at 24kHz enqueued back to back. Starts must
	// accumulate with no gap regardless of when the clock says "now".
	for i := 0; i < 3; i++ {
		s.Enqueue(seg(240, float32(i+1), 24000))
	}
	if got, want := s.NextStart(), 30*time.Millisecond; got != want {
		t.Fatalf("NextStart = %v, want %v", got, want)
	}

	sink.waitSamples(t, 720)
	got := sink.samples()
	for i, v := range got {
		want := float32(i/240 + 1)
		if v != want {
			t.Fatalf("sample %d = %v, want %v (segments out of order)", i, v, want)
		}
	}
}

func TestEnqueueAnchorsToClock(t *testing.T) {
	clock := &fakeClock{}
	sink := newRecordSink()
	s := New(sink, WithClock(clock))
	defer s.Shutdown()

	clock.Advance(100 * time.Millisecond)
	s.Enqueue(seg(240, 0.5, 24000))
	if got, want := s.NextStart(), 110*time.Millisecond; got != want {
		t.Fatalf("NextStart = %v, want %v", got, want)
	}
}

func TestEnqueueLateSegmentLeavesGap(t *testing.T) {
	clock := &fakeClock{}
	sink := newRecordSink()
	s := New(sink, WithClock(clock))
	defer s.Shutdown()

	s.Enqueue(seg(240, 0.5, 24000)) // cursor -> 10ms
	clock.Advance(50 * time.Millisecond)
	s.Enqueue(seg(240, 0.5, 24000)) // arrives late: starts at 50ms, not 10ms
	if got, want := s.NextStart(), 60*time.Millisecond; got != want {
		t.Fatalf("NextStart = %v, want %v", got, want)
	}
}

func TestInterruptClearsStateAndReanchors(t *testing.T) {
	clock := &fakeClock{}
	sink := newGateSink()
	s := New(sink, WithClock(clock))
	defer s.Shutdown()

	// One segment spanning three writes; hold it on the first write.
	s.Enqueue(seg(3*writeBlock, 0.5, 24000))
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback to start")
	}

	s.Interrupt()
	if got := s.NextStart(); got != 0 {
		t.Fatalf("NextStart after interrupt = %v, want 0", got)
	}

	// Release the held write; the stop signal must prevent further writes.
	close(sink.release)
	deadline := time.After(2 * time.Second)
	for s.Active() != 0 {
		select {
		case <-deadline:
			t.Fatalf("handles still active after interrupt: %d", s.Active())
		case <-time.After(time.Millisecond):
		}
	}
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("writes after interrupt = %d, want 1", got)
	}

	// Next enqueue re-anchors to the current clock position.
	clock.Advance(500 * time.Millisecond)
	s.Enqueue(seg(240, 0.5, 24000))
	if got, want := s.NextStart(), 510*time.Millisecond; got != want {
		t.Fatalf("NextStart after re-anchor = %v, want %v", got, want)
	}
}

func TestInterruptOnIdleSchedulerIsSafe(t *testing.T) {
	s := New(newRecordSink(), WithClock(&fakeClock{}))
	defer s.Shutdown()

	s.Interrupt()
	if got := s.Active(); got != 0 {
		t.Fatalf("Active = %d, want 0", got)
	}
	if got := s.NextStart(); got != 0 {
		t.Fatalf("NextStart = %v, want 0", got)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	clock := &fakeClock{}
	s := New(newRecordSink(), WithClock(clock))

	s.Enqueue(seg(240, 0.5, 24000))
	s.Shutdown()
	s.Shutdown()

	if got := s.Active(); got != 0 {
		t.Fatalf("Active after shutdown = %d, want %d", got, 0)
	}

	// Enqueue after shutdown is a silent no-op.
	s.Enqueue(seg(240, 0.5, 24000))
	if got := s.NextStart(); got != 0 {
		t.Fatalf("NextStart after post-shutdown enqueue = %v, want 0", got)
	}
}

func TestEmptyBufferIsIgnored(t *testing.T) {
	s := New(newRecordSink(), WithClock(&fakeClock{}))
	defer s.Shutdown()

	s.Enqueue(audio.Buffer{SampleRate: 24000})
	if got := s.Active(); got != 0 {
		t.Fatalf("Active = %d, want 0", got)
	}
	if got := s.NextStart(); got != 0 {
		t.Fatalf("NextStart = %v, want 0", got)
	}
}
