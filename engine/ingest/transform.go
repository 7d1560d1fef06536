package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/parentchild/engine/domain"
)

const (
	// DefaultParentSize is the target rune count of a parent chunk.
	DefaultParentSize = 2000
	// DefaultParentOverlap is the rune overlap between parent chunks.
	DefaultParentOverlap = 500
	// DefaultChildSize is the target rune count of a child chunk.
	DefaultChildSize = 500
	// DefaultChildOverlap is the rune overlap between child chunks.
	DefaultChildOverlap = 100
)

// DefaultSeparators are tried in order: paragraphs, lines, sentences, words,
// and finally single runes.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into overlapping chunks of at most Size runes. It splits
// on the coarsest separator present, recurses into pieces that are still too
// large, then greedily merges pieces back up to Size while carrying up to
// Overlap runes of the previous chunk into the next one.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter validates size and overlap and returns a Splitter using
// DefaultSeparators.
func NewSplitter(size, overlap int) (Splitter, error) {
	if size <= 0 {
		return Splitter{}, domain.NewValidationError("chunk_size", fmt.Sprint(size), domain.ErrInvalidConfig)
	}
	if overlap < 0 || overlap >= size {
		return Splitter{}, domain.NewValidationError("chunk_overlap", fmt.Sprint(overlap), domain.ErrInvalidConfig)
	}
	return Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}, nil
}

// Split returns the chunks of text. Whitespace-only text yields no chunks and
// text of at most Size runes yields exactly one.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.Size <= 0 || runeLen(text) <= s.Size {
		return []string{text}
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s Splitter) split(text string, seps []string) []string {
	sep, rest := pickSeparator(text, seps)
	var out, good []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) <= s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge joins pieces into chunks of at most Size runes. After a chunk is
// emitted the window is shrunk from the front until it fits in Overlap and
// leaves room for the next piece.
func (s Splitter) merge(pieces []string) []string {
	var out, window []string
	total := 0
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.Size && len(window) > 0 {
			if c := strings.TrimSpace(strings.Join(window, "")); c != "" {
				out = append(out, c)
			}
			for len(window) > 0 && (total > s.Overlap || total+n > s.Size) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if c := strings.TrimSpace(strings.Join(window, "")); c != "" {
		out = append(out, c)
	}
	return out
}

// pickSeparator returns the first separator found in text (the empty
// separator always matches) and the finer separators after it.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" || strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeep splits text on sep keeping sep at the end of each piece, so the
// pieces concatenate back to text. The empty separator splits into runes.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	var out []string
	for {
		i := strings.Index(text, sep)
		if i < 0 {
			break
		}
		out = append(out, text[:i+len(sep)])
		text = text[i+len(sep):]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
