package protocol

import (
	"strconv"
)

// SequenceLocation is a byte range within a raw dispatch payload that
// holds the decimal digits of the numeric "s" field, discovered once
// at ingest so the field can be rewritten per client without
// reparsing the whole payload.
type SequenceLocation struct {
	Start int
	End   int // exclusive
}

// FindSequenceLocation scans a raw top-level gateway envelope for its
// "s" field and returns the byte range of that field's digits. Only
// the top-level object is considered (brace depth == 1), so a
// coincidentally-named "s" key nested inside "d" is never matched.
//
// Returns ok=false if no top-level numeric "s" field is present (e.g.
// "s":null, or the field is absent).
func FindSequenceLocation(payload []byte) (loc SequenceLocation, ok bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(payload); i++ {
		c := payload[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			// Check for a top-level key starting here.
			if depth == 1 {
				if _, keyEnd, matched := matchKey(payload, i, "s"); matched {
					j := skipColonAndSpace(payload, keyEnd)
					digitStart := j
					for j < len(payload) && isDigit(payload[j]) {
						j++
					}
					if j > digitStart {
						return SequenceLocation{Start: digitStart, End: j}, true
					}
					// "s":null or "s":"..." — not a numeric field.
				}
			}
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}

	return SequenceLocation{}, false
}

// matchKey checks whether the quoted string starting at payload[i] is
// exactly key, followed eventually by a colon. Returns the index just
// past the key's closing quote as keyEnd.
func matchKey(payload []byte, i int, key string) (start, keyEnd int, ok bool) {
	start = i
	i++ // past opening quote
	j := 0
	for i < len(payload) && j < len(key) && payload[i] == key[j] {
		i++
		j++
	}
	if j != len(key) {
		return start, 0, false
	}
	if i >= len(payload) || payload[i] != '"' {
		return start, 0, false
	}
	keyEnd = i + 1
	k := keyEnd
	for k < len(payload) && (payload[k] == ' ' || payload[k] == '\t' || payload[k] == '\n' || payload[k] == '\r') {
		k++
	}
	if k >= len(payload) || payload[k] != ':' {
		return start, 0, false
	}
	return start, keyEnd, true
}

func skipColonAndSpace(payload []byte, i int) int {
	for i < len(payload) && payload[i] != ':' {
		i++
	}
	i++ // past colon
	for i < len(payload) && (payload[i] == ' ' || payload[i] == '\t') {
		i++
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// RewriteSequence replaces the digits at loc within payload with seq's
// decimal representation, returning a new byte slice. The replacement
// width need not match the original — this is a range replacement,
// not an in-place overwrite.
func RewriteSequence(payload []byte, loc SequenceLocation, seq int64) []byte {
	digits := strconv.FormatInt(seq, 10)
	out := make([]byte, 0, len(payload)-(loc.End-loc.Start)+len(digits))
	out = append(out, payload[:loc.Start]...)
	out = append(out, digits...)
	out = append(out, payload[loc.End:]...)
	return out
}
