package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCoversEntireInput(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)
	cfg := Config{Size: 500, Overlap: 100, Method: MethodFixed}

	chunks, err := Split(text, len(text), 0, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, len(text), last.ChunkOffset+len(last.Content))
}

func TestSplitChunkIndexIsMonotonic(t *testing.T) {
	text := strings.Repeat("abcdefgh ", 300)
	cfg := Config{Size: 200, Overlap: 50, Method: MethodFixed}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestSplitOffsetsAreContiguousOrOverlapping(t *testing.T) {
	text := strings.Repeat("word ", 500)
	cfg := Config{Size: 300, Overlap: 80, Method: MethodFixed}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].ChunkOffset + len(chunks[i-1].Content)
		// Next chunk must start no later than the previous chunk's end,
		// guaranteeing no gap in coverage.
		assert.LessOrEqual(t, chunks[i].ChunkOffset, prevEnd)
		// Strictly increasing offsets (forward progress guarantee).
		assert.Greater(t, chunks[i].ChunkOffset, chunks[i-1].ChunkOffset)
	}
}

func TestSplitSnapsToSentenceBoundary(t *testing.T) {
	sentence := "This is a sentence that ends cleanly. "
	text := strings.Repeat(sentence, 20)
	cfg := Config{Size: len(sentence) * 3, Overlap: 10, Method: MethodFixed}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	first := chunks[0].Content
	trimmed := strings.TrimRight(first, " ")
	assert.True(t, strings.HasSuffix(trimmed, "."), "expected chunk to end at a sentence boundary, got %q", first)
}

func TestSplitSingleShortInputYieldsOneChunk(t *testing.T) {
	text := "short text"
	cfg := DefaultConfig()

	chunks, err := Split(text, len(text), 0, cfg)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkOffset)
	assert.Equal(t, TokenCount(text), chunks[0].TokenCount)
}

func TestSplitEmptyInputReturnsError(t *testing.T) {
	_, err := Split("", 0, 0, DefaultConfig())
	assert.Error(t, err)
}

func TestSplitSentenceAwareRespectsSentenceBreaks(t *testing.T) {
	text := "First sentence here. Second sentence follows! Third one too? " +
		"Fourth sentence is a bit longer to pad things out nicely."
	cfg := Config{Size: 40, Overlap: 5, Method: MethodSentenceAware}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Content)
	}
}

func TestSplitParagraphAwareSplitsOnBlankLines(t *testing.T) {
	text := "Paragraph one has some words in it.\n\nParagraph two has other words.\n\nParagraph three finishes things off."
	cfg := Config{Size: 30, Overlap: 5, Method: MethodParagraphAware}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
}

func TestSplitSentenceAwareChunksShareOverlap(t *testing.T) {
	text := strings.Repeat("This sentence is here to pad the chunk out a bit. ", 30)
	cfg := Config{Size: 150, Overlap: 40, Method: MethodSentenceAware}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "input must produce more than one chunk to exercise overlap")

	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].ChunkOffset + len(chunks[i-1].Content)
		overlapStart := chunks[i].ChunkOffset
		require.Less(t, overlapStart, prevEnd, "chunk %d should start before the previous chunk ends", i)

		overlapLen := prevEnd - overlapStart
		assert.Equal(t, text[overlapStart:prevEnd], chunks[i].Content[:overlapLen],
			"chunk %d content must begin with the overlapping bytes from chunk %d", i, i-1)
	}
}

func TestSplitParagraphAwareChunksShareOverlap(t *testing.T) {
	paragraph := "Paragraph text with enough words to matter here.\n\n"
	text := strings.Repeat(paragraph, 20)
	cfg := Config{Size: 150, Overlap: 30, Method: MethodParagraphAware}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "input must produce more than one chunk to exercise overlap")

	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].ChunkOffset + len(chunks[i-1].Content)
		overlapStart := chunks[i].ChunkOffset
		require.Less(t, overlapStart, prevEnd, "chunk %d should start before the previous chunk ends", i)

		overlapLen := prevEnd - overlapStart
		assert.Equal(t, text[overlapStart:prevEnd], chunks[i].Content[:overlapLen],
			"chunk %d content must begin with the overlapping bytes from chunk %d", i, i-1)
	}
}

func TestSplitFixedNeverStalls(t *testing.T) {
	// Degenerate input with no whitespace or sentence terminators must still
	// make forward progress every iteration.
	text := strings.Repeat("x", 5000)
	cfg := Config{Size: 100, Overlap: 99, Method: MethodFixed}

	chunks, err := Split(text, 0, 0, cfg)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].ChunkOffset, chunks[i-1].ChunkOffset)
	}
}

func TestTokenCountFormula(t *testing.T) {
	assert.Equal(t, 0, TokenCount(""))
	assert.Equal(t, 1, TokenCount("abc"))
	assert.Equal(t, 1, TokenCount("abcd"))
	assert.Equal(t, 2, TokenCount("abcde"))
}
