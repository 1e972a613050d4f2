package chunk

import (
	"regexp"
	"strings"

	apperrors "local-search-mcp/internal/errors"
)

var (
	sentenceSplitRegex  = regexp.MustCompile(`[.!?]+\s+`)
	paragraphSplitRegex = regexp.MustCompile(`\n\s*\n`)
)

// Split segments text according to cfg, returning an ordered list of chunks
// covering the full text. fileSize and lastModified are stamped onto every
// chunk as provided by the caller (component C2's read result).
func Split(text string, fileSize int, lastModified int64, cfg Config) ([]Chunk, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = DefaultConfig().Overlap
	}

	var chunks []Chunk
	switch cfg.Method {
	case MethodSentenceAware:
		chunks = splitByBoundary(text, sentenceSplitRegex, cfg)
	case MethodParagraphAware:
		chunks = splitByBoundary(text, paragraphSplitRegex, cfg)
	default:
		chunks = splitFixed(text, cfg)
	}

	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TokenCount = TokenCount(chunks[i].Content)
		chunks[i].FileSize = fileSize
		chunks[i].LastModified = lastModified
	}

	if len(chunks) == 0 {
		return nil, apperrors.FileProcessing("chunking produced zero chunks", nil)
	}
	return chunks, nil
}

// splitFixed implements the default fixed sliding-window algorithm: walk a
// window of width cfg.Size, snapping its right edge leftward to the best
// nearby sentence or whitespace breakpoint, then advance by (window width -
// overlap) while guaranteeing strictly positive progress.
func splitFixed(text string, cfg Config) []Chunk {
	n := len(text)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0

	for start < n {
		rawEnd := start + cfg.Size
		if rawEnd > n {
			rawEnd = n
		}

		end := rawEnd
		if rawEnd < n {
			end = snapBoundary(text, start, rawEnd, cfg.Size)
		}
		if end <= start {
			end = rawEnd
		}

		chunks = append(chunks, Chunk{
			Content:     text[start:end],
			ChunkOffset: start,
		})

		if end >= n {
			break
		}

		nextStart := end - cfg.Overlap
		if nextStart <= start {
			nextStart = start + 1
		}
		start = nextStart
	}

	return chunks
}

// snapBoundary finds the best breakpoint within text[start:rawEnd]: the last
// sentence terminator past 0.5*size of the window, else the last whitespace
// past 0.3*size, else the raw window end.
func snapBoundary(text string, start, rawEnd, size int) int {
	window := text[start:rawEnd]

	sentenceMin := int(float64(size) * 0.5)
	if idx := lastSentenceEnd(window); idx >= 0 && idx >= sentenceMin {
		return start + idx
	}

	whitespaceMin := int(float64(size) * 0.3)
	if idx := lastWhitespace(window); idx >= 0 && idx >= whitespaceMin {
		return start + idx
	}

	return rawEnd
}

func lastSentenceEnd(window string) int {
	best := -1
	for i := 0; i < len(window); i++ {
		c := window[i]
		if c == '.' || c == '!' || c == '?' {
			// Extend past a run of terminators.
			j := i + 1
			for j < len(window) && (window[j] == '.' || window[j] == '!' || window[j] == '?') {
				j++
			}
			best = j
			i = j - 1
		}
	}
	return best
}

func lastWhitespace(window string) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case ' ', '\t', '\n', '\r':
			return i + 1
		}
	}
	return -1
}

// splitByBoundary splits text on the given regex into segments, then
// greedily packs consecutive segments into chunks up to cfg.Size, carrying
// the trailing cfg.Overlap bytes of the previous chunk into the next so
// neighboring chunks still share context.
func splitByBoundary(text string, boundary *regexp.Regexp, cfg Config) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	segments := splitKeepingOffsets(text, boundary)
	if len(segments) == 0 {
		return splitFixed(text, cfg)
	}

	var chunks []Chunk
	var builder strings.Builder
	chunkStart := segments[0].start

	flush := func() {
		if builder.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Content: builder.String(), ChunkOffset: chunkStart})
	}

	for _, seg := range segments {
		if builder.Len() > 0 && builder.Len()+len(seg.text) > cfg.Size {
			prevEnd := chunkStart + builder.Len()
			flush()

			overlapStart := prevEnd - cfg.Overlap
			if overlapStart < chunkStart {
				overlapStart = chunkStart
			}
			builder.Reset()
			if overlapStart < prevEnd {
				builder.WriteString(text[overlapStart:prevEnd])
			}
			chunkStart = overlapStart
		}
		if builder.Len() == 0 {
			chunkStart = seg.start
		}
		builder.WriteString(seg.text)
	}
	flush()

	return chunks
}

type offsetSegment struct {
	text  string
	start int
}

// splitKeepingOffsets splits text on boundary, recording each segment's byte
// offset (including the trailing separator) so chunk_offset stays accurate.
func splitKeepingOffsets(text string, boundary *regexp.Regexp) []offsetSegment {
	locs := boundary.FindAllStringIndex(text, -1)
	if locs == nil {
		return []offsetSegment{{text: text, start: 0}}
	}

	var segments []offsetSegment
	prev := 0
	for _, loc := range locs {
		end := loc[1]
		if end > prev {
			segments = append(segments, offsetSegment{text: text[prev:end], start: prev})
		}
		prev = end
	}
	if prev < len(text) {
		segments = append(segments, offsetSegment{text: text[prev:], start: prev})
	}
	return segments
}
