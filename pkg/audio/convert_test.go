package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/meetcaption/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResample_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		n       int
		src     int
		dst     int
		wantLen int
	}{
		{name: "48k to 16k", n: 4800, src: 48000, dst: 16000, wantLen: 1600},
		{name: "44.1k to 16k exact", n: 4410, src: 44100, dst: 16000, wantLen: 1600},
		{name: "44.1k to 16k rounded", n: 1000, src: 44100, dst: 16000, wantLen: 363},
		{name: "equal rates", n: 512, src: 16000, dst: 16000, wantLen: 512},
		{name: "empty", n: 0, src: 48000, dst: 16000, wantLen: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := make([]float32, tc.n)
			out, err := audio.Resample(in, tc.src, tc.dst)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(out) != tc.wantLen {
				t.Errorf("length: got %d, want %d", len(out), tc.wantLen)
			}
			ratio := float64(tc.src) / float64(tc.dst)
			if want := int(math.Round(float64(tc.n) / ratio)); len(out) != want {
				t.Errorf("length: got %d, want round(n/ratio) = %d", len(out), want)
			}
		})
	}
}

func TestResample_BoxAverage(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.3, 0.6, 0.1, 0.1, 0.1}
	out, err := audio.Resample(in, 48000, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{0.3, 0.1}
	if len(out) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(want))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %f, want %f", i, out[i], want[i])
		}
	}
}

func TestResample_EqualRatesCopies(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}
	out, err := audio.Resample(in, 16000, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out[0] = 0.9
	if in[0] != 0.1 {
		t.Error("equal-rate resample must not alias the input")
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()

	_, err := audio.Resample(make([]float32, 160), 8000, 16000)
	if !errors.Is(err, audio.ErrUpsample) {
		t.Fatalf("got err %v, want ErrUpsample", err)
	}
}

func TestResample_InvalidRate(t *testing.T) {
	t.Parallel()

	if _, err := audio.Resample(nil, 0, 16000); err == nil {
		t.Fatal("expected error for zero source rate")
	}
	if _, err := audio.Resample(nil, 48000, -1); err == nil {
		t.Fatal("expected error for negative target rate")
	}
}

func TestFloatToPCM16_Endpoints(t *testing.T) {
	t.Parallel()

	in := []float32{1.0, -1.0, 0, 2.0, -2.0, 0.5, -0.5}
	got := bytesToSamples(audio.FloatToPCM16(in))
	want := []int16{32767, -32768, 0, 32767, -32768, 16383, -16384}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloatToPCM16_LittleEndian(t *testing.T) {
	t.Parallel()

	b := audio.FloatToPCM16([]float32{1.0, -1.0})
	want := []byte{0xFF, 0x7F, 0x00, 0x80}
	if len(b) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(b), len(want))
	}
	for i := range want {
		if b[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, b[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	stereo := []float32{0.2, 0.4, -0.5, 0.5, 1.0}
	got := audio.Downmix(stereo, 2)
	want := []float32{0.3, 0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}

	mono := []float32{0.1, 0.2}
	if out := audio.Downmix(mono, 1); len(out) != 2 || out[1] != 0.2 {
		t.Errorf("mono input should pass through, got %v", out)
	}
}

func TestChunkBytes(t *testing.T) {
	t.Parallel()

	if audio.ChunkBytes != 3200 {
		t.Errorf("ChunkBytes: got %d, want 3200", audio.ChunkBytes)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 48000, Channels: 6}, "48000Hz 6ch"},
	}
	for _, tc := range tests {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("Format%+v.String() = %q, want %q", tc.f, got, tc.want)
		}
	}
}
