package device

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Compile-time assertions that the PortAudio types satisfy the device interfaces.
var _ Host = (*PortAudioHost)(nil)
var _ InputStream = (*paInput)(nil)
var _ OutputStream = (*paOutput)(nil)

// PortAudioHost is the production [Host] backed by the PortAudio library.
// New initialises the library; Close terminates it. A process should hold at
// most one PortAudioHost at a time.
type PortAudioHost struct {
	mu     sync.Mutex
	closed bool
}

// NewPortAudioHost initialises PortAudio and returns a [Host] for the default
// capture and playback devices.
func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialize portaudio: %w", err)
	}
	return &PortAudioHost{}, nil
}

// OpenInput opens the default capture device, mono, at sampleRate Hz,
// yielding blockSize samples per Read.
func (h *PortAudioHost) OpenInput(sampleRate, blockSize int) (InputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("device: host is closed")
	}

	in := &paInput{buf: make([]float32, blockSize)}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), blockSize, &in.buf)
	if err != nil {
		return nil, fmt.Errorf("device: open capture stream: %w", err)
	}
	in.stream = stream
	return in, nil
}

// OpenOutput opens the default playback device, mono, at sampleRate Hz.
func (h *PortAudioHost) OpenOutput(sampleRate, blockSize int) (OutputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("device: host is closed")
	}

	out := &paOutput{
		buf:        make([]float32, blockSize),
		remainder:  make([]float32, 0, blockSize),
		sampleRate: sampleRate,
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), blockSize, &out.buf)
	if err != nil {
		return nil, fmt.Errorf("device: open playback stream: %w", err)
	}
	out.stream = stream
	return out, nil
}

// Close terminates the PortAudio library. Idempotent.
func (h *PortAudioHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("device: terminate portaudio: %w", err)
	}
	return nil
}

// ── input ──────────────────────────────────────────────────────────────────────

type paInput struct {
	stream  *portaudio.Stream
	buf     []float32
	started bool

	mu     sync.Mutex
	closed bool
}

// Read blocks until one block of samples is captured. The stream is started
// lazily on the first call.
func (in *paInput) Read() ([]float32, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil, errors.New("device: input stream closed")
	}
	in.mu.Unlock()

	if !in.started {
		if err := in.stream.Start(); err != nil {
			return nil, fmt.Errorf("device: start capture stream: %w", err)
		}
		in.started = true
	}
	if err := in.stream.Read(); err != nil {
		return nil, fmt.Errorf("device: read capture stream: %w", err)
	}
	return in.buf, nil
}

// Close stops and releases the stream. Idempotent.
func (in *paInput) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	in.mu.Unlock()

	if in.started {
		_ = in.stream.Stop()
	}
	if err := in.stream.Close(); err != nil {
		return fmt.Errorf("device: close capture stream: %w", err)
	}
	return nil
}

// ── output ─────────────────────────────────────────────────────────────────────

type paOutput struct {
	stream     *portaudio.Stream
	buf        []float32
	remainder  []float32
	sampleRate int
	started    bool

	mu     sync.Mutex
	closed bool
}

func (out *paOutput) SampleRate() int { return out.sampleRate }

// Write queues samples for playback, carrying partial device blocks over to
// the next call. Output underflow is logged and tolerated — the device plays
// a brief gap rather than failing the stream.
func (out *paOutput) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return errors.New("device: output stream closed")
	}

	if !out.started {
		if err := out.stream.Start(); err != nil {
			return fmt.Errorf("device: start playback stream: %w", err)
		}
		out.started = true
	}

	if len(out.remainder) > 0 {
		samples = append(out.remainder, samples...)
		out.remainder = out.remainder[:0]
	}

	for chunk := range slices.Chunk(samples, len(out.buf)) {
		if len(chunk) < len(out.buf) {
			out.remainder = append(out.remainder[:0], chunk...)
			break
		}
		copy(out.buf, chunk)
		if err := out.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				slog.Debug("playback output underflowed", "err", err)
				continue
			}
			return fmt.Errorf("device: write playback stream: %w", err)
		}
	}
	return nil
}

// Close flushes the remainder padded with silence, stops the stream, and
// releases it. Idempotent.
func (out *paOutput) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return nil
	}
	out.closed = true

	if len(out.remainder) > 0 && out.started {
		copy(out.buf, out.remainder)
		clear(out.buf[len(out.remainder):])
		if err := out.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Debug("playback flush failed", "err", err)
		}
		out.remainder = out.remainder[:0]
	}

	if out.started {
		_ = out.stream.Stop()
	}
	if err := out.stream.Close(); err != nil {
		return fmt.Errorf("device: close playback stream: %w", err)
	}
	return nil
}
