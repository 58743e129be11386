// Package device defines the audio hardware seam for a voice call: a [Host]
// opens microphone input and speaker output streams, and the call session
// owns exactly one of each for its lifetime.
//
// The interfaces are intentionally narrow so the capture pipeline and the
// playback scheduler depend on a capability, not on a concrete audio backend.
// The production implementation is [PortAudioHost]; tests substitute
// in-memory fakes.
package device

// InputStream is a live microphone capture stream delivering fixed-size
// blocks of mono float32 samples in [-1, 1].
//
// An InputStream is exclusively owned by one consumer; it is not safe for
// concurrent Reads.
type InputStream interface {
	// Read blocks until one full block of samples has been captured and
	// returns it. The returned slice is only valid until the next Read —
	// callers must finish processing (or copy) before reading again.
	Read() ([]float32, error)

	// Close releases the stream and unblocks any in-flight Read, which then
	// returns an error. Close is idempotent.
	Close() error
}

// OutputStream is a speaker playback stream accepting mono float32 samples
// in [-1, 1]. Write blocks until the device has accepted the samples, which
// paces callers at roughly real time.
type OutputStream interface {
	// Write queues samples for playback. Partial device blocks are retained
	// and flushed by subsequent Writes or by Close.
	Write(samples []float32) error

	// SampleRate returns the rate the stream was opened with, in Hz.
	SampleRate() int

	// Close flushes buffered samples, stops the stream, and releases it.
	// Close is idempotent.
	Close() error
}

// Host opens audio device streams. Implementations must be safe for
// concurrent use; the streams they return are not.
type Host interface {
	// OpenInput acquires the default capture device at the given sample rate,
	// delivering blockSize samples per Read. Returns an error when no capture
	// device is available or access to it is denied.
	OpenInput(sampleRate, blockSize int) (InputStream, error)

	// OpenOutput acquires the default playback device at the given sample
	// rate with an internal buffer of blockSize samples.
	OpenOutput(sampleRate, blockSize int) (OutputStream, error)

	// Close releases the host and its backend. Streams must be closed first.
	Close() error
}
