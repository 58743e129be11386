package capture

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"
)

// scriptedInput serves a fixed sequence of blocks, then blocks until closed.
type scriptedInput struct {
	mu     sync.Mutex
	blocks [][]float32
	closed chan struct{}
	once   sync.Once
}

func newScriptedInput(blocks ...[]float32) *scriptedInput {
	return &scriptedInput{blocks: blocks, closed: make(chan struct{})}
}

func (s *scriptedInput) Read() ([]float32, error) {
	s.mu.Lock()
	if len(s.blocks) > 0 {
		b := s.blocks[0]
		s.blocks = s.blocks[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	<-s.closed
	return nil, io.EOF
}

func (s *scriptedInput) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// frameCollector records delivered frames.
type frameCollector struct {
	mu      sync.Mutex
	chunks  [][]byte
	volumes []float64
	arrived chan struct{}
}

func newFrameCollector() *frameCollector {
	return &frameCollector{arrived: make(chan struct{}, 64)}
}

func (c *frameCollector) onFrame(chunk []byte, volume float64) {
	c.mu.Lock()
	c.chunks = append(c.chunks, append([]byte(nil), chunk...))
	c.volumes = append(c.volumes, volume)
	c.mu.Unlock()
	c.arrived <- struct{}{}
}

func (c *frameCollector) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.chunks)
		c.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-c.arrived:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, got %d", n, got)
		}
	}
}

func constBlock(n int, v float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestPipelineDeliversEncodedFrames(t *testing.T) {
	in := newScriptedInput(constBlock(BlockSize, 0.5), constBlock(BlockSize, -0.25))
	fc := newFrameCollector()
	p := New()

	if err := p.Start(in, fc.onFrame); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fc.wait(t, 2)
	p.Stop()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.chunks) != 2 {
		t.Fatalf("frames = %d, want 2", len(fc.chunks))
	}
	if got, want := len(fc.chunks[0]), BlockSize*2; got != want {
		t.Fatalf("chunk size = %d bytes, want %d", got, want)
	}
	// Spot-check the encoding of the first sample of each block.
	if got := int16(binary.LittleEndian.Uint16(fc.chunks[0])); got != 16384 {
		t.Errorf("first sample of block 0 = %d, want 16384", got)
	}
	if got := int16(binary.LittleEndian.Uint16(fc.chunks[1])); got != -8192 {
		t.Errorf("first sample of block 1 = %d, want -8192", got)
	}
	// RMS of a constant block is its magnitude.
	if math.Abs(fc.volumes[0]-0.5) > 1e-6 {
		t.Errorf("volume of block 0 = %v, want 0.5", fc.volumes[0])
	}
	if math.Abs(fc.volumes[1]-0.25) > 1e-6 {
		t.Errorf("volume of block 1 = %v, want 0.25", fc.volumes[1])
	}
}

func TestPipelineStopIsIdempotent(t *testing.T) {
	in := newScriptedInput()
	p := New()
	if err := p.Start(in, func([]byte, float64) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Stop()
	p.Stop()

	select {
	case <-in.closed:
	default:
		t.Fatal("input stream not closed by Stop")
	}
}

func TestPipelineStopBeforeStart(t *testing.T) {
	p := New()
	p.Stop()
	if err := p.Start(newScriptedInput(), func([]byte, float64) {}); err == nil {
		t.Fatal("Start after Stop should fail")
	}
}

func TestPipelineDoubleStart(t *testing.T) {
	p := New()
	in := newScriptedInput()
	if err := p.Start(in, func([]byte, float64) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()
	if err := p.Start(newScriptedInput(), func([]byte, float64) {}); err == nil {
		t.Fatal("second Start should fail")
	}
}

// readErrInput fails immediately with a device error.
type readErrInput struct{}

func (readErrInput) Read() ([]float32, error) { return nil, errors.New("device gone") }
func (readErrInput) Close() error             { return nil }

func TestPipelineReadErrorEndsLoop(t *testing.T) {
	p := New()
	if err := p.Start(readErrInput{}, func([]byte, float64) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Stop must not hang on a loop that already died.
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after read error")
	}
}
