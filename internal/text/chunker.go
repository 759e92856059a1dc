// Package text splits arbitrary text into segments below a maximum length
// for endpoints with input-length limits. Splitting prefers sentence
// boundaries and falls back to word boundaries.
package text

import "strings"

// Chunk splits text into an ordered sequence of segments, each at or below
// maxLen characters, preferring sentence-ending punctuation. A single word
// longer than maxLen appears whole in its own chunk. No chunk is ever empty,
// and joining the chunks with single spaces reproduces the text modulo
// chunk-boundary whitespace.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 1
	}
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, sentence := range splitSentences(text) {
		if len(sentence) > maxLen {
			// Oversize sentence: accumulate word by word instead.
			for _, word := range strings.Fields(sentence) {
				appendPiece(&current, word, maxLen, flush)
			}
			continue
		}
		appendPiece(&current, sentence, maxLen, flush)
	}
	flush()
	return chunks
}

// appendPiece adds one sentence or word to the running chunk, flushing first
// when the addition would push the chunk past maxLen. A piece longer than
// maxLen is emitted whole.
func appendPiece(current *strings.Builder, piece string, maxLen int, flush func()) {
	if piece == "" {
		return
	}
	needed := len(piece)
	if current.Len() > 0 {
		needed += current.Len() + 1
	}
	if needed > maxLen && current.Len() > 0 {
		flush()
	}
	if current.Len() > 0 {
		current.WriteByte(' ')
	}
	current.WriteString(piece)
}

// splitSentences cuts text at sentence terminators (. ! ?) followed by
// whitespace, keeping the terminator with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		if !isTerminator(r) {
			continue
		}
		// Absorb a run of terminators ("...", "?!").
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		if i+1 >= len(runes) || isSpace(runes[i+1]) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
			// Skip the inter-sentence whitespace.
			for i+1 < len(runes) && isSpace(runes[i+1]) {
				i++
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
