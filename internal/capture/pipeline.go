// Package capture reads microphone audio in fixed-size blocks and hands
// each block to the caller as an encoded PCM frame plus a volume estimate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/lkw0831/HomeApplianceService/internal/observe"
	"github.com/lkw0831/HomeApplianceService/pkg/audio"
	"github.com/lkw0831/HomeApplianceService/pkg/audio/device"
)

const (
	// SampleRate is the capture rate expected by the upstream channel.
	SampleRate = 16000
	// BlockSize is the number of samples per captured frame: 4096 samples
	// at 16kHz, i.e. 256ms of audio per callback.
	BlockSize = 4096
)

// FrameFunc receives one encoded capture frame. chunk is s16le PCM and
// volume is the RMS level of the block in [0, 1]. Called from the capture
// goroutine; implementations must not block for long.
type FrameFunc func(chunk []byte, volume float64)

// Pipeline pulls blocks from an input stream until stopped. Frames are
// fire-and-forget: delivery outcome never feeds back into capture pacing.
type Pipeline struct {
	metrics *observe.Metrics

	mu      sync.Mutex
	in      device.InputStream
	stopped bool
	done    chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics substitutes the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates an idle Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Start begins reading from in and invoking onFrame per block. It returns
// once the capture goroutine is running; capture errors terminate the loop
// silently apart from a log line, matching Stop. Start may be called once
// per Pipeline.
func (p *Pipeline) Start(in device.InputStream, onFrame FrameFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("capture: pipeline already stopped")
	}
	if p.in != nil {
		return errors.New("capture: pipeline already started")
	}
	if in == nil {
		return fmt.Errorf("capture: nil input stream")
	}
	p.in = in
	p.done = make(chan struct{})
	go p.loop(in, onFrame)
	return nil
}

func (p *Pipeline) loop(in device.InputStream, onFrame FrameFunc) {
	defer close(p.done)
	for {
		samples, err := in.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.isStopped() {
				slog.Warn("capture read failed, stopping", "err", err)
			}
			return
		}
		if len(samples) == 0 {
			continue
		}
		volume := audio.RMS(samples)
		chunk := audio.EncodePCM16(samples)
		onFrame(chunk, volume)

		p.metrics.CaptureFrames.Add(context.Background(), 1)
		p.metrics.AudioBytesSent.Add(context.Background(), int64(len(chunk)))
	}
}

func (p *Pipeline) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Stop closes the input stream, which unblocks the pending Read and ends
// the capture loop, then waits for the loop to exit. Idempotent; safe to
// call before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		done := p.done
		p.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	p.stopped = true
	in := p.in
	done := p.done
	p.mu.Unlock()

	if in != nil {
		if err := in.Close(); err != nil {
			slog.Debug("closing capture stream", "err", err)
		}
	}
	if done != nil {
		<-done
	}
}
