// Package partialjson parses prefixes of JSON documents as they stream in.
// Providers deliver tool call arguments as raw JSON fragments; rendering
// partial arguments requires a parser that tolerates truncation anywhere: in
// the middle of a string, an escape sequence, a literal, or a number. The
// guarantee is that for any prefix P of a valid JSON document S, Parse(P)
// returns a value, and Parse(S) equals the strict decoding of S.
package partialjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	kindObject = iota
	kindArray
)

const (
	phaseWantKey = iota // object: expecting a key or '}'
	phaseWantColon
	phaseWantValue // object after ':' / array expecting a value or ']'
	phaseAfterValue
)

type frame struct {
	kind  int
	phase int
}

// Parse decodes any prefix of a valid JSON document. Truncated input is
// completed before decoding; complete input decodes strictly. An empty or
// all-whitespace prefix yields nil.
func Parse(data []byte) (any, error) {
	repaired, err := Complete(data)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(repaired)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(repaired, &v); err != nil {
		return nil, fmt.Errorf("partial json: %w", err)
	}
	return v, nil
}

// Complete returns a syntactically valid completion of the given JSON
// prefix: open strings are closed, dangling keys and separators dropped or
// completed, truncated literals and numbers finished, and open objects and
// arrays closed. Input that is not a prefix of valid JSON is an error.
func Complete(data []byte) ([]byte, error) {
	var (
		stack       []frame
		inString    bool
		stringIsKey bool
		stringStart int
		escape      bool
		escapeStart int
		unicodeLeft int
		tokenStart  = -1
	)

	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}
	valueEnded := func() {
		if f := top(); f != nil {
			f.phase = phaseAfterValue
		}
	}
	endToken := func(i int) error {
		tok := data[tokenStart:i]
		if !validLiteralOrNumber(tok, true) {
			return fmt.Errorf("partial json: invalid token %q", tok)
		}
		tokenStart = -1
		valueEnded()
		return nil
	}

	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			switch {
			case unicodeLeft > 0:
				unicodeLeft--
			case escape:
				escape = false
				if c == 'u' {
					unicodeLeft = 4
				}
			case c == '\\':
				escape = true
				escapeStart = i
			case c == '"':
				inString = false
				if stringIsKey {
					top().phase = phaseWantColon
				} else {
					valueEnded()
				}
			}
			continue
		}

		if tokenStart >= 0 {
			switch c {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				if err := endToken(i); err != nil {
					return nil, err
				}
			default:
				continue
			}
		}

		switch c {
		case ' ', '\t', '\n', '\r':
		case '"':
			inString = true
			stringStart = i
			f := top()
			stringIsKey = f != nil && f.kind == kindObject && f.phase == phaseWantKey
		case '{':
			stack = append(stack, frame{kind: kindObject, phase: phaseWantKey})
		case '[':
			stack = append(stack, frame{kind: kindArray, phase: phaseWantValue})
		case '}', ']':
			if len(stack) == 0 {
				return nil, fmt.Errorf("partial json: unexpected %q", c)
			}
			stack = stack[:len(stack)-1]
			valueEnded()
		case ':':
			if f := top(); f != nil && f.kind == kindObject {
				f.phase = phaseWantValue
			} else {
				return nil, fmt.Errorf("partial json: unexpected ':'")
			}
		case ',':
			f := top()
			if f == nil {
				return nil, fmt.Errorf("partial json: unexpected ','")
			}
			if f.kind == kindObject {
				f.phase = phaseWantKey
			} else {
				f.phase = phaseWantValue
			}
		default:
			tokenStart = i
		}
	}

	out := append([]byte(nil), data...)

	// Finish whatever token the input was cut inside of.
	switch {
	case inString && stringIsKey:
		// Drop the partial key entirely; the enclosing object closes below.
		out = out[:stringStart]
	case inString:
		if escape || unicodeLeft > 0 {
			out = out[:escapeStart]
		}
		out = append(out, '"')
		valueEnded()
	case tokenStart >= 0:
		tok := out[tokenStart:]
		switch {
		case prefixOf(tok, "true"):
			out = append(out[:tokenStart], "true"...)
			valueEnded()
		case prefixOf(tok, "false"):
			out = append(out[:tokenStart], "false"...)
			valueEnded()
		case prefixOf(tok, "null"):
			out = append(out[:tokenStart], "null"...)
			valueEnded()
		case validLiteralOrNumber(tok, false):
			if needsDigit(tok) {
				out = append(out, '0')
			}
			valueEnded()
		default:
			return nil, fmt.Errorf("partial json: invalid token %q", tok)
		}
	}

	// Close open containers innermost-first.
	for i := len(stack) - 1; i >= 0; i-- {
		out = bytes.TrimRight(out, " \t\n\r")
		f := stack[i]
		switch f.kind {
		case kindObject:
			switch f.phase {
			case phaseWantKey:
				out = bytes.TrimSuffix(out, []byte(","))
				out = append(out, '}')
			case phaseWantColon:
				out = append(out, ':', 'n', 'u', 'l', 'l', '}')
			case phaseWantValue:
				out = append(out, 'n', 'u', 'l', 'l', '}')
			default:
				out = append(out, '}')
			}
		case kindArray:
			if f.phase == phaseWantValue {
				out = bytes.TrimSuffix(bytes.TrimRight(out, " \t\n\r"), []byte(","))
			}
			out = append(out, ']')
		}
	}

	return out, nil
}

func prefixOf(tok []byte, lit string) bool {
	return len(tok) <= len(lit) && string(tok) == lit[:len(tok)]
}

// validLiteralOrNumber checks a bare token. When complete is true the token
// must be a whole literal or number; otherwise a truncated one is accepted.
func validLiteralOrNumber(tok []byte, complete bool) bool {
	if len(tok) == 0 {
		return false
	}
	s := string(tok)
	if complete {
		if s == "true" || s == "false" || s == "null" {
			return true
		}
		return json.Valid(tok)
	}
	if prefixOf(tok, "true") || prefixOf(tok, "false") || prefixOf(tok, "null") {
		return true
	}
	// Truncated number: digits, sign, decimal point, exponent.
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return true
}

// needsDigit reports whether a truncated number ends in a position that
// requires at least one more digit to be valid JSON.
func needsDigit(tok []byte) bool {
	switch tok[len(tok)-1] {
	case '-', '+', '.', 'e', 'E':
		return true
	}
	return false
}
