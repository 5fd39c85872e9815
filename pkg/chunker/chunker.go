// Package chunker splits memory text into bounded pieces before embedding.
package chunker

import "unicode/utf8"

// DefaultMaxChunkChars is the chunk size used when none is configured.
const DefaultMaxChunkChars = 2000

// Chunk splits text into consecutive pieces of at most maxChunkChars
// characters (runes). Concatenating the pieces reproduces text exactly:
// nothing is trimmed, overlapped or reordered. Empty text yields no chunks.
// A non-positive maxChunkChars selects DefaultMaxChunkChars.
func Chunk(text string, maxChunkChars int) []string {
	if text == "" {
		return nil
	}
	if maxChunkChars <= 0 {
		maxChunkChars = DefaultMaxChunkChars
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/maxChunkChars+1)
	start, runes := 0, 0
	for i := range text {
		if runes == maxChunkChars {
			chunks = append(chunks, text[start:i])
			start, runes = i, 0
		}
		runes++
	}
	return append(chunks, text[start:])
}
