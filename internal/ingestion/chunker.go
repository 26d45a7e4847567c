package ingestion

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/54b3r/edupolicy-go/internal/rag"
)

// Chunker splits page text into overlapping windows cut at whitespace.
type Chunker struct {
	// Size is the maximum chunk length in bytes.
	Size int
	// Overlap is how many trailing bytes of a chunk are repeated at the
	// start of the next one.
	Overlap int
}

// ChunkID formats the stable id of chunk idx on page of doc.
func ChunkID(doc string, page, idx int) string {
	return fmt.Sprintf("%s:p%d:c%d", doc, page, idx)
}

// Page chunks the text of one page. Spans are byte offsets into text.
// Chunk text has surrounding whitespace trimmed; empty windows are skipped.
func (c Chunker) Page(docID string, page int, text string, meta map[string]string) []rag.Chunk {
	size, overlap := c.Size, c.Overlap
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}

	var out []rag.Chunk
	for start := skipSpace(text, 0); start < len(text); {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = cutBack(text, start, end)
		}

		s, e := trimSpan(text, start, end)
		if s < e {
			out = append(out, rag.Chunk{
				ID:        ChunkID(docID, page, len(out)),
				DocID:     docID,
				Page:      page,
				SpanStart: s,
				SpanEnd:   e,
				Text:      text[s:e],
				Metadata:  meta,
			})
		}
		if end == len(text) {
			break
		}

		next := skipToWord(text, max(end-overlap, start+1))
		if next > end {
			// A word longer than the overlap straddles the cut.
			next = skipSpace(text, end)
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// cutBack moves end left to the last whitespace in the second half of the
// window so words are not split. Unbroken text is cut on a rune boundary.
func cutBack(text string, start, end int) int {
	for i := end; i > start+(end-start)/2; i-- {
		if i < len(text) && isSpaceByte(text[i]) {
			return i
		}
	}
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start {
		_, n := utf8.DecodeRuneInString(text[start:])
		end = start + n
	}
	return end
}

// skipToWord advances i to the start of the next word if it sits inside one.
func skipToWord(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	if i > 0 && !isSpaceByte(text[i-1]) {
		for i < len(text) && !isSpaceByte(text[i]) {
			i++
		}
	}
	return skipSpace(text, i)
}

func skipSpace(text string, i int) int {
	for i < len(text) {
		r, n := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += n
	}
	return i
}

func trimSpan(text string, s, e int) (int, int) {
	chunk := text[s:e]
	lead := len(chunk) - len(strings.TrimLeftFunc(chunk, unicode.IsSpace))
	trail := len(chunk) - len(strings.TrimRightFunc(chunk, unicode.IsSpace))
	return s + lead, e - trail
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '\f' || b == '\v'
}
