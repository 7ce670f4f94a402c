package searchindex

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

const literalOpen = "JSON.parse('"

// ErrNoLiteral is returned when the source holds neither a JSON.parse('...')
// literal nor bare JSON.
var ErrNoLiteral = errors.New("no search index literal found")

// ExtractLiteral returns the JSON text embedded in a search-index.js file.
// Sources that already start with JSON are returned unchanged.
func ExtractLiteral(src []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(src)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return trimmed, nil
	}

	start := bytes.Index(src, []byte(literalOpen))
	if start < 0 {
		return nil, ErrNoLiteral
	}
	out, err := unquoteJS(src[start+len(literalOpen):])
	if err != nil {
		return nil, fmt.Errorf("search index literal: %w", err)
	}
	return out, nil
}

// unquoteJS decodes the body of a single-quoted JavaScript string up to the
// closing quote.
func unquoteJS(s []byte) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\'':
			return out, nil
		case '\n', '\r':
			return nil, fmt.Errorf("unescaped line break at offset %d", i)
		case '\\':
		default:
			out = append(out, c)
			continue
		}

		i++
		if i >= len(s) {
			break
		}
		switch e := s[i]; e {
		case '\n':
			// line continuation
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'v':
			out = append(out, '\v')
		case '0':
			out = append(out, 0)
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("truncated \\x escape at offset %d", i)
			}
			v, err := strconv.ParseUint(string(s[i+1:i+3]), 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad \\x escape at offset %d: %w", i, err)
			}
			out = utf8.AppendRune(out, rune(v))
			i += 2
		case 'u':
			r, n, err := decodeUnicodeEscape(s[i+1:])
			if err != nil {
				return nil, fmt.Errorf("bad \\u escape at offset %d: %w", i, err)
			}
			i += n
			if utf16.IsSurrogate(r) && i+2 < len(s) && s[i+1] == '\\' && s[i+2] == 'u' {
				r2, n2, err := decodeUnicodeEscape(s[i+3:])
				if err == nil {
					if combined := utf16.DecodeRune(r, r2); combined != utf8.RuneError {
						r = combined
						i += 2 + n2
					}
				}
			}
			out = utf8.AppendRune(out, r)
		default:
			out = append(out, e)
		}
	}
	return nil, errors.New("unterminated string literal")
}

// decodeUnicodeEscape parses the part after "\u": either four hex digits or
// a braced code point. It returns the rune and the bytes consumed.
func decodeUnicodeEscape(s []byte) (rune, int, error) {
	if len(s) > 0 && s[0] == '{' {
		end := bytes.IndexByte(s, '}')
		if end < 0 {
			return 0, 0, errors.New("unterminated code point")
		}
		v, err := strconv.ParseUint(string(s[1:end]), 16, 32)
		if err != nil {
			return 0, 0, err
		}
		return rune(v), end + 1, nil
	}
	if len(s) < 4 {
		return 0, 0, errors.New("truncated")
	}
	v, err := strconv.ParseUint(string(s[:4]), 16, 16)
	if err != nil {
		return 0, 0, err
	}
	return rune(v), 4, nil
}

// quoteJS escapes b for use inside a single-quoted JavaScript string.
func quoteJS(b []byte) []byte {
	out := make([]byte, 0, len(b)+len(b)/16)
	for _, c := range b {
		switch c {
		case '\\', '\'':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		default:
			out = append(out, c)
		}
	}
	return out
}
