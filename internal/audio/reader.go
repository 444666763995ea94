package audio

import (
	"errors"
	"fmt"
	"io"
)

// Chunk is one fixed-size block of captured audio with its energy level.
type Chunk struct {
	Samples []int16
	Level   float64
}

// ChunkReader slices a raw PCM16 byte stream into fixed-size chunks.
type ChunkReader struct {
	r   io.Reader
	buf []byte
}

// NewChunkReader reads chunks of samplesPerChunk samples from r.
func NewChunkReader(r io.Reader, samplesPerChunk int) *ChunkReader {
	if samplesPerChunk <= 0 {
		samplesPerChunk = SampleRate / 10
	}
	return &ChunkReader{
		r:   r,
		buf: make([]byte, samplesPerChunk*2),
	}
}

// Next returns the next chunk. A short trailing chunk is returned before
// io.EOF; a dangling odd byte is discarded.
func (c *ChunkReader) Next() (Chunk, error) {
	n, err := io.ReadFull(c.r, c.buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Chunk{}, err
	}

	n -= n % 2
	if n == 0 {
		return Chunk{}, io.EOF
	}

	samples, decodeErr := DecodePCM16(c.buf[:n])
	if decodeErr != nil {
		return Chunk{}, fmt.Errorf("failed to decode audio chunk: %w", decodeErr)
	}

	return Chunk{Samples: samples, Level: Level(samples)}, nil
}
