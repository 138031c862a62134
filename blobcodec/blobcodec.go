// Package blobcodec splits large values into bounded, numbered chunks and
// puts them back together.
//
// Chunk indices are a single byte, so a value has at most MaxChunks chunks.
// Split never copies: chunks alias the input slice.
package blobcodec

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	MaxChunks = 256

	// DefaultMaxChunkSize matches the chunk bound used for record blobs
	// when a field does not specify one.
	DefaultMaxChunkSize = 60000
)

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrCorruption       = errors.New("corruption")
)

type Chunk struct {
	Index uint8
	Data  []byte
}

// ChunkCount returns how many chunks Split would produce for size bytes.
func ChunkCount(size, maxChunkSize int) int {
	if size <= 0 {
		return 0
	}
	return (size + maxChunkSize - 1) / maxChunkSize
}

func Split(data []byte, maxChunkSize int) ([]Chunk, error) {
	if maxChunkSize <= 0 {
		return nil, fmt.Errorf("blobcodec: invalid max chunk size %d", maxChunkSize)
	}
	n := ChunkCount(len(data), maxChunkSize)
	if n > MaxChunks {
		return nil, fmt.Errorf("blobcodec: %d bytes need %d chunks of %d bytes, max is %d: %w", len(data), n, maxChunkSize, MaxChunks, ErrCapacityExceeded)
	}
	if n == 0 {
		return nil, nil
	}
	chunks := make([]Chunk, n)
	for i := range chunks {
		start := i * maxChunkSize
		end := min(start+maxChunkSize, len(data))
		chunks[i] = Chunk{Index: uint8(i), Data: data[start:end:end]}
	}
	return chunks, nil
}

// Reconstruct concatenates chunks, which must be in ascending index order
// starting at 0 with no gaps.
func Reconstruct(chunks []Chunk) ([]byte, error) {
	if len(chunks) > MaxChunks {
		return nil, fmt.Errorf("blobcodec: %d chunks: %w", len(chunks), ErrCorruption)
	}
	var total int
	for i, c := range chunks {
		if int(c.Index) != i {
			return nil, fmt.Errorf("blobcodec: chunk at position %d has index %d: %w", i, c.Index, ErrCorruption)
		}
		total += len(c.Data)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out, nil
}

func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}
