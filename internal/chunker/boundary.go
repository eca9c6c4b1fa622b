package chunker

import (
	"unicode"
	"unicode/utf8"
)

// BoundaryDetector finds sentence ends inside a window of text.
type BoundaryDetector interface {
	// LastBoundary returns the largest position p in (lo, hi] such that a
	// sentence ends right before p, or -1 when there is none.
	LastBoundary(text []rune, lo, hi int) int
}

// SentenceBoundary treats a terminal punctuation mark as the end of a
// sentence. ASCII terminals must be followed by whitespace or the end of text
// so that "1.5" or "e.g" do not count; full-width marks such as "。" stand alone.
type SentenceBoundary struct {
	terminals map[rune]struct{}
}

// NewSentenceBoundary builds a detector for the given terminal punctuation.
// An empty set falls back to ".!?".
func NewSentenceBoundary(punctuation string) *SentenceBoundary {
	if punctuation == "" {
		punctuation = ".!?"
	}
	t := make(map[rune]struct{}, len(punctuation))
	for _, r := range punctuation {
		t[r] = struct{}{}
	}
	return &SentenceBoundary{terminals: t}
}

func (b *SentenceBoundary) LastBoundary(text []rune, lo, hi int) int {
	if hi > len(text) {
		hi = len(text)
	}
	if lo < 0 {
		lo = 0
	}
	for p := hi; p > lo; p-- {
		r := text[p-1]
		if _, ok := b.terminals[r]; !ok {
			continue
		}
		if p == len(text) || r >= utf8.RuneSelf || unicode.IsSpace(text[p]) {
			return p
		}
	}
	return -1
}
