package rag

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the character budget of one chunk.
const DefaultChunkSize = 500

// ChunkLines splits content into line-bounded chunks. Whole lines accumulate
// until their combined length (newlines not counted) reaches chunkSize; the
// chunk is cut after that line. The remainder forms a trailing chunk.
// strings.Join(ChunkLines(c, n), "\n") == c for every c.
func ChunkLines(content string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	lines := strings.Split(content, "\n")
	chunks := make([]string, 0, len(lines)/8+1)

	current := make([]string, 0, 16)
	size := 0
	for _, line := range lines {
		current = append(current, line)
		size += utf8.RuneCountInString(line)
		if size >= chunkSize {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = current[:0]
			size = 0
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}
