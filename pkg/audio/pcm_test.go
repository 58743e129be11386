package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/lkw0831/HomeApplianceService/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestEncodePCM16_KnownValues(t *testing.T) {
	got := audio.EncodePCM16([]float32{0, 1, -1})
	want := samplesToBytes([]int16{0, 32767, -32767})
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestEncodePCM16_ClampsOutOfRange(t *testing.T) {
	got := audio.EncodePCM16([]float32{2.5, -3})
	want := samplesToBytes([]int16{32767, -32767})
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestEncodePCM16_Empty(t *testing.T) {
	if got := audio.EncodePCM16(nil); len(got) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(got))
	}
}

func TestDecodePCM16_RoundTrip(t *testing.T) {
	// Any sample in [-1, 1] must survive encode→decode within one
	// quantisation step (1/32768).
	rng := rand.New(rand.NewPCG(7, 42))
	in := make([]float32, 4096)
	for i := range in {
		in[i] = float32(rng.Float64()*2 - 1)
	}

	out, err := audio.DecodePCM16(audio.EncodePCM16(in))
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	const step = 1.0 / 32768
	for i := range in {
		if diff := math.Abs(float64(in[i]) - float64(out[i])); diff > step {
			t.Fatalf("sample %d: round-trip error %g exceeds %g", i, diff, step)
		}
	}
}

func TestDecodePCM16_RejectsMalformed(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"odd length", []byte{0x01, 0x02, 0x03}},
		{"single byte", []byte{0xff}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := audio.DecodePCM16(tc.data)
			var decErr *audio.DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if decErr.ByteLen != len(tc.data) {
				t.Errorf("ByteLen: got %d, want %d", decErr.ByteLen, len(tc.data))
			}
		})
	}
}

func TestDecodeBuffer(t *testing.T) {
	data := samplesToBytes([]int16{0, 16384, -16384})
	buf, err := audio.DecodeBuffer(data, 24000)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if buf.SampleRate != 24000 {
		t.Errorf("SampleRate: got %d, want 24000", buf.SampleRate)
	}
	if len(buf.Samples) != 3 {
		t.Fatalf("Samples: got %d, want 3", len(buf.Samples))
	}
	if buf.Samples[1] != 0.5 {
		t.Errorf("sample 1: got %g, want 0.5", buf.Samples[1])
	}
}

func TestDecodeBuffer_RejectsMalformed(t *testing.T) {
	if _, err := audio.DecodeBuffer([]byte{0x01}, 24000); err == nil {
		t.Error("expected error for odd-length input")
	}
	if _, err := audio.DecodeBuffer(nil, 24000); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestBuffer_Duration(t *testing.T) {
	buf := audio.Buffer{Samples: make([]float32, 24000), SampleRate: 24000}
	if got := buf.Duration(); got != time.Second {
		t.Errorf("Duration: got %v, want 1s", got)
	}
	if got := (audio.Buffer{}).Duration(); got != 0 {
		t.Errorf("empty buffer Duration: got %v, want 0", got)
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil): got %g, want 0", got)
	}
	// A constant-amplitude block has RMS equal to that amplitude.
	block := make([]float32, 256)
	for i := range block {
		block[i] = 0.5
	}
	if got := audio.RMS(block); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("RMS: got %g, want 0.5", got)
	}
	// Full-scale square wave has RMS 1 — level never exceeds 1.
	for i := range block {
		if i%2 == 0 {
			block[i] = 1
		} else {
			block[i] = -1
		}
	}
	if got := audio.RMS(block); math.Abs(got-1) > 1e-6 {
		t.Errorf("RMS full-scale: got %g, want 1", got)
	}
}
