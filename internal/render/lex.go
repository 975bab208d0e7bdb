package render

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokVar
	tokTag
)

type token struct {
	kind tokenKind
	val  string
	line int
}

const whitespace = " \t\r\n"

// lex splits src into text, {{ var }} and {% tag %} tokens. Comments are
// dropped. A '-' just inside a delimiter trims the adjacent whitespace.
func lex(src string) ([]token, error) {
	var (
		out      []token
		trimNext bool
		pos      int
	)

	emitText := func(s string) {
		if trimNext {
			s = strings.TrimLeft(s, whitespace)
			trimNext = false
		}
		if s != "" {
			out = append(out, token{kind: tokText, val: s})
		}
	}

	for pos < len(src) {
		start, closer := nextOpen(src, pos)
		if start < 0 {
			emitText(src[pos:])
			break
		}
		emitText(src[pos:start])
		line := 1 + strings.Count(src[:start], "\n")

		end := strings.Index(src[start+2:], closer)
		if end < 0 {
			return nil, fmt.Errorf("render: line %d: unclosed %q", line, src[start:start+2])
		}
		end += start + 2
		inner := src[start+2 : end]
		pos = end + 2

		if strings.HasPrefix(inner, "-") {
			inner = inner[1:]
			if n := len(out); n > 0 && out[n-1].kind == tokText {
				out[n-1].val = strings.TrimRight(out[n-1].val, whitespace)
				if out[n-1].val == "" {
					out = out[:n-1]
				}
			}
		}
		if strings.HasSuffix(inner, "-") {
			inner = inner[:len(inner)-1]
			trimNext = true
		}

		switch closer {
		case "#}":
			continue
		case "}}":
			out = append(out, token{kind: tokVar, val: strings.TrimSpace(inner), line: line})
		case "%}":
			out = append(out, token{kind: tokTag, val: strings.TrimSpace(inner), line: line})
		}
	}
	return out, nil
}

// nextOpen finds the next {{, {% or {# at or after pos and returns its
// index with the matching closing delimiter.
func nextOpen(src string, pos int) (int, string) {
	for i := pos; i+1 < len(src); i++ {
		if src[i] != '{' {
			continue
		}
		switch src[i+1] {
		case '{':
			return i, "}}"
		case '%':
			return i, "%}"
		case '#':
			return i, "#}"
		}
	}
	return -1, ""
}
