package audio

// Framer packs a stream of PCM byte ranges into chunks of one fixed size.
//
// Queued ranges are kept in arrival order. Whenever the queued total reaches
// the chunk size, exactly that many bytes are taken off the front of the queue
// and returned as a fresh chunk. A range that straddles a chunk boundary is
// split and its remainder stays queued. Every byte is emitted exactly once
// and in order, so the network send size stays constant no matter how the
// capture callback slices its blocks.
//
// A Framer is owned by a single goroutine and is not safe for concurrent use.
type Framer struct {
	size   int
	queue  [][]byte
	queued int
}

// NewFramer creates a Framer that emits chunks of size bytes. size <= 0
// selects [ChunkBytes].
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = ChunkBytes
	}
	return &Framer{size: size}
}

// Size returns the chunk size in bytes.
func (f *Framer) Size() int { return f.size }

// Push enqueues b and returns every complete chunk that is now available, in
// order. The caller may reuse b after Push returns.
func (f *Framer) Push(b []byte) [][]byte {
	if len(b) > 0 {
		cp := make([]byte, len(b))
		copy(cp, b)
		f.queue = append(f.queue, cp)
		f.queued += len(cp)
	}

	var chunks [][]byte
	for f.queued >= f.size {
		chunks = append(chunks, f.take())
	}
	return chunks
}

// take removes exactly f.size bytes from the front of the queue.
// Must only be called when f.queued >= f.size.
func (f *Framer) take() []byte {
	chunk := make([]byte, f.size)
	filled := 0
	for filled < f.size {
		head := f.queue[0]
		n := copy(chunk[filled:], head)
		filled += n
		if n < len(head) {
			f.queue[0] = head[n:]
		} else {
			f.queue[0] = nil
			f.queue = f.queue[1:]
		}
	}
	f.queued -= f.size
	return chunk
}

// Pending returns the number of queued bytes that have not been emitted yet.
func (f *Framer) Pending() int { return f.queued }

// Reset discards all queued bytes.
func (f *Framer) Reset() {
	f.queue = nil
	f.queued = 0
}
