// Package speech turns streaming assistant text into speakable units.
package speech

import (
	"strings"
	"unicode"
)

// Segment scans buffer for complete speakable units. A unit ends at a run of
// sentence-terminal punctuation followed by whitespace or end of input, and
// is accepted when it is at least minChars runes long or carries an emphatic
// mark. Promoted units have their whitespace collapsed; rest is returned as a
// raw suffix of buffer, trailing whitespace included, so the caller can append
// later stream deltas without losing word boundaries. A rest longer than
// hardMax is force-split by word wrapping; everything but the final span is
// promoted.
//
// Calling Segment again on an unchanged rest below hardMax yields no new
// units, so a pending fragment is never re-split.
func Segment(buffer string, minChars, hardMax int) (complete []string, rest string) {
	runes := []rune(buffer)

	cut := 0
	for cut < len(runes) && unicode.IsSpace(runes[cut]) {
		cut++
	}
	for i := cut; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isTerminal(runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			// Mid-token punctuation (decimals, ellipsis glued to a word).
			i = end - 1
			continue
		}

		candidate := normalizeWhitespace(string(runes[cut:end]))
		if acceptUnit(candidate, minChars) {
			complete = append(complete, candidate)
			cut = end
			for cut < len(runes) && unicode.IsSpace(runes[cut]) {
				cut++
			}
		}
		i = end - 1
	}

	rest = string(runes[cut:])
	normRest := normalizeWhitespace(rest)
	if hardMax > 0 && len([]rune(normRest)) > hardMax {
		spans := wrapWords(normRest, hardMax)
		if len(spans) > 1 {
			openEnded := unicode.IsSpace(runes[len(runes)-1])
			complete = append(complete, spans[:len(spans)-1]...)
			rest = spans[len(spans)-1]
			if openEnded {
				rest += " "
			}
		}
	}
	return complete, rest
}

// Flush promotes a turn's final remainder. A remainder without a single
// letter or digit (stray punctuation, leftover markup) is not worth a
// synthesis call and is dropped.
func Flush(rest string, hardMax int) []string {
	rest = normalizeWhitespace(rest)
	if !hasSpeakableRune(rest) {
		return nil
	}
	return wrapWords(rest, hardMax)
}

func acceptUnit(s string, minChars int) bool {
	if s == "" {
		return false
	}
	// Emphatic utterances are spoken immediately regardless of length. This
	// can emit very short fragments ("?!"); tune minChars rather than the
	// rule if that hurts synthesis quality.
	if strings.ContainsAny(s, "!?") {
		return true
	}
	return len([]rune(s)) >= minChars
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	default:
		return false
	}
}

func hasSpeakableRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// wrapWords greedily packs whitespace-delimited words into spans of at most
// max runes. A single word longer than max is split at the cap so no span
// ever exceeds it.
func wrapWords(s string, max int) []string {
	if max <= 0 {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var spans []string
	var cur strings.Builder
	curLen := 0

	flushCur := func() {
		if curLen > 0 {
			spans = append(spans, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(s) {
		wlen := len([]rune(word))
		if wlen > max {
			flushCur()
			r := []rune(word)
			for len(r) > max {
				spans = append(spans, string(r[:max]))
				r = r[max:]
			}
			cur.WriteString(string(r))
			curLen = len(r)
			continue
		}
		need := wlen
		if curLen > 0 {
			need++
		}
		if curLen+need > max {
			flushCur()
			need = wlen
		}
		if curLen > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
		curLen += need
	}
	flushCur()
	return spans
}
