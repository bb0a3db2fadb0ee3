package parser

import (
	"html"
	"strings"
)

// scanResult classifies what scanTag found at a '<'.
type scanResult int

const (
	// scanNone means the '<' does not start a marker recognized in the
	// current state and is plain text.
	scanNone scanResult = iota
	// scanPartial means the text ends before the marker can be classified
	// or before its closing '>' arrived.
	scanPartial
	// scanMatch means a complete marker was recognized.
	scanMatch
)

// tagName is a marker recognized in a given state.
type tagName struct {
	closing bool
	name    string
}

// token is a complete recognized marker.
type token struct {
	closing bool
	name    string
	attrs   map[string]string
	// end is the index just past the closing '>'.
	end int
}

// scanTag classifies the marker starting at text[i] (which must be '<')
// against the allowed set.
func scanTag(text string, i int, allowed []tagName) (token, scanResult) {
	k := i + 1
	closing := false
	if k < len(text) && text[k] == '/' {
		closing = true
		k++
	}

	nameStart := k
	for k < len(text) && isNameByte(text[k]) {
		k++
	}
	name := strings.ToLower(text[nameStart:k])

	if k >= len(text) {
		// Name may still be growing; also covers a bare trailing "<".
		if prefixOfAllowed(allowed, closing, name, i+1 == len(text)) {
			return token{}, scanPartial
		}
		return token{}, scanNone
	}

	if !isAllowed(allowed, closing, name) {
		return token{}, scanNone
	}

	if closing {
		for k < len(text) && isSpace(text[k]) {
			k++
		}
		if k >= len(text) {
			return token{}, scanPartial
		}
		if text[k] != '>' {
			return token{}, scanNone
		}
		return token{closing: true, name: name, end: k + 1}, scanMatch
	}

	// Open tag: name must be followed by whitespace, '>' or '/'.
	if c := text[k]; !isSpace(c) && c != '>' && c != '/' {
		return token{}, scanNone
	}

	attrs, end, ok := scanAttrs(text, k)
	if !ok {
		return token{}, scanPartial
	}
	return token{name: name, attrs: attrs, end: end}, scanMatch
}

// scanAttrs parses attributes from text[k:] up to the closing '>'.
// Returns ok=false when the text ends first.
func scanAttrs(text string, k int) (map[string]string, int, bool) {
	attrs := make(map[string]string)
	for {
		for k < len(text) && (isSpace(text[k]) || text[k] == '/') {
			k++
		}
		if k >= len(text) {
			return nil, 0, false
		}
		if text[k] == '>' {
			return attrs, k + 1, true
		}

		nameStart := k
		for k < len(text) && !isSpace(text[k]) && text[k] != '=' && text[k] != '>' && text[k] != '/' {
			k++
		}
		key := strings.ToLower(text[nameStart:k])
		for k < len(text) && isSpace(text[k]) {
			k++
		}
		if k >= len(text) {
			return nil, 0, false
		}
		if text[k] != '=' {
			// Valueless attribute.
			if key != "" {
				attrs[key] = ""
			}
			continue
		}
		k++
		for k < len(text) && isSpace(text[k]) {
			k++
		}
		if k >= len(text) {
			return nil, 0, false
		}

		var value string
		if q := text[k]; q == '"' || q == '\'' {
			closeIdx := strings.IndexByte(text[k+1:], q)
			if closeIdx < 0 {
				return nil, 0, false
			}
			value = text[k+1 : k+1+closeIdx]
			k = k + 1 + closeIdx + 1
		} else {
			valueStart := k
			for k < len(text) && !isSpace(text[k]) && text[k] != '>' {
				k++
			}
			value = text[valueStart:k]
		}
		if key != "" {
			attrs[key] = html.UnescapeString(value)
		}
	}
}

func isAllowed(allowed []tagName, closing bool, name string) bool {
	for _, a := range allowed {
		if a.closing == closing && a.name == name {
			return true
		}
	}
	return false
}

func prefixOfAllowed(allowed []tagName, closing bool, partial string, bare bool) bool {
	for _, a := range allowed {
		// A bare "<" at the end may still become either an open or a close.
		if bare || (a.closing == closing && strings.HasPrefix(a.name, partial)) {
			return true
		}
	}
	return false
}

func isNameByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
