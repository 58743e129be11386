// Package audio provides the PCM sample conversions used on both sides of a
// voice call: encoding captured float32 microphone blocks into the 16-bit
// little-endian wire format, and decoding the model's synthesised PCM back
// into playable sample buffers.
//
// All functions are pure and allocation is limited to the returned slice.
// The wire format is signed 16-bit little-endian mono PCM throughout; sample
// rates are carried alongside the data, never inferred from it.
package audio

import (
	"fmt"
	"math"
	"time"
)

// DecodeError reports malformed inbound PCM data. A byte buffer is malformed
// when its length is zero or odd — int16 samples occupy exactly two bytes, so
// a trailing byte has no defined interpretation and the whole buffer is
// rejected rather than silently truncated.
type DecodeError struct {
	// ByteLen is the length of the rejected buffer.
	ByteLen int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: malformed PCM data (%d bytes, need a positive even length)", e.ByteLen)
}

// Buffer is a decoded, playable chunk of mono audio.
type Buffer struct {
	// Samples holds float32 samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (24000 for model output).
	SampleRate int
}

// Duration returns the playback duration of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// EncodePCM16 converts float32 samples in [-1, 1] to little-endian int16 PCM.
// Samples outside the range are clamped before scaling; quantisation rounds
// to the nearest integer. An empty input yields an empty output.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian int16 PCM back to float32 samples in
// [-1, 1]. It returns a *DecodeError when the byte length is zero or odd.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%2 != 0 {
		return nil, &DecodeError{ByteLen: len(data)}
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// DecodeBuffer interprets data as raw s16le mono PCM at sampleRate and wraps
// it in a playable [Buffer]. No resampling is performed — the wire rate and
// the output device rate are assumed equal. Returns a *DecodeError when the
// byte length is not a positive even number.
func DecodeBuffer(data []byte, sampleRate int) (Buffer, error) {
	samples, err := DecodePCM16(data)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// RMS computes the root-mean-square level of a sample block. For samples in
// [-1, 1] the result lies in [0, 1]; it is the per-block volume metric
// surfaced to the UI. An empty block has level 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
