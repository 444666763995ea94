package audio

import (
	"sync"
)

// ChunkBuffer is a thread-safe bounded FIFO of audio chunks.
// When full, Push evicts the oldest chunk instead of blocking or growing.
type ChunkBuffer struct {
	chunks [][]byte
	head   int
	count  int
	mu     sync.Mutex
}

// NewChunkBuffer creates a buffer holding at most capacity chunks
func NewChunkBuffer(capacity int) *ChunkBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ChunkBuffer{
		chunks: make([][]byte, capacity),
	}
}

// Push appends a chunk and returns the number of chunks evicted (0 or 1).
func (b *ChunkBuffer) Push(chunk []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.chunks)
	dropped := 0
	if b.count == size {
		b.chunks[b.head] = nil
		b.head = (b.head + 1) % size
		b.count--
		dropped = 1
	}

	b.chunks[(b.head+b.count)%size] = chunk
	b.count++
	return dropped
}

// Drain removes and returns every buffered chunk, oldest first.
func (b *ChunkBuffer) Drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, 0, b.count)
	size := len(b.chunks)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % size
		out = append(out, b.chunks[idx])
		b.chunks[idx] = nil
	}
	b.head = 0
	b.count = 0
	return out
}

// Len returns the number of buffered chunks
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the maximum number of chunks held
func (b *ChunkBuffer) Cap() int {
	return len(b.chunks)
}

// Clear drops every buffered chunk
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.chunks {
		b.chunks[i] = nil
	}
	b.head = 0
	b.count = 0
}

// IsEmpty returns true if the buffer is empty
func (b *ChunkBuffer) IsEmpty() bool {
	return b.Len() == 0
}
