package audio_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/meetcaption/pkg/audio"
)

func TestFramer_SplitsAcrossBoundaries(t *testing.T) {
	t.Parallel()

	f := audio.NewFramer(4)

	if chunks := f.Push([]byte{1, 2, 3}); len(chunks) != 0 {
		t.Fatalf("got %d chunks before a full chunk was queued", len(chunks))
	}

	chunks := f.Push([]byte{4, 5, 6, 7, 8, 9, 10})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !bytes.Equal(chunks[0], []byte{1, 2, 3, 4}) {
		t.Errorf("chunk 0: got %v", chunks[0])
	}
	if !bytes.Equal(chunks[1], []byte{5, 6, 7, 8}) {
		t.Errorf("chunk 1: got %v", chunks[1])
	}
	if f.Pending() != 2 {
		t.Errorf("pending: got %d, want 2", f.Pending())
	}

	chunks = f.Push([]byte{11, 12})
	if len(chunks) != 1 || !bytes.Equal(chunks[0], []byte{9, 10, 11, 12}) {
		t.Errorf("remainder chunk: got %v", chunks)
	}
	if f.Pending() != 0 {
		t.Errorf("pending: got %d, want 0", f.Pending())
	}
}

func TestFramer_ConcatenationPreservesStream(t *testing.T) {
	t.Parallel()

	const size = 3200
	f := audio.NewFramer(size)

	var input, output []byte
	// Irregular block sizes, as a capture callback would produce after
	// resampling 44.1 kHz input.
	blocks := []int{743, 1, 2048, 3199, 3200, 3201, 17, 6400, 999}
	next := byte(0)
	for _, n := range blocks {
		b := make([]byte, n)
		for i := range b {
			b[i] = next
			next++
		}
		input = append(input, b...)
		for _, c := range f.Push(b) {
			if len(c) != size {
				t.Fatalf("chunk size: got %d, want %d", len(c), size)
			}
			output = append(output, c...)
		}
	}

	if len(output)+f.Pending() != len(input) {
		t.Fatalf("bytes lost: emitted %d + pending %d != input %d", len(output), f.Pending(), len(input))
	}
	if !bytes.Equal(output, input[:len(output)]) {
		t.Error("concatenated chunks are not a prefix of the input stream")
	}
}

func TestFramer_CallerMayReuseInput(t *testing.T) {
	t.Parallel()

	f := audio.NewFramer(4)
	buf := []byte{1, 2}
	f.Push(buf)
	buf[0], buf[1] = 9, 9
	chunks := f.Push([]byte{3, 4})
	if len(chunks) != 1 || !bytes.Equal(chunks[0], []byte{1, 2, 3, 4}) {
		t.Errorf("got %v, want [[1 2 3 4]]", chunks)
	}
}

func TestFramer_Reset(t *testing.T) {
	t.Parallel()

	f := audio.NewFramer(0)
	if f.Size() != audio.ChunkBytes {
		t.Errorf("default size: got %d, want %d", f.Size(), audio.ChunkBytes)
	}
	f.Push(make([]byte, 100))
	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("pending after reset: got %d", f.Pending())
	}
}
