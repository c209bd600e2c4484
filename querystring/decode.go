// Package querystring turns raw request query strings into the fixed-width
// byte sequences the classifier consumes.
package querystring

import (
	"errors"
	"fmt"
)

// ErrMalformedEncoding is matched by every *MalformedEncodingError.
var ErrMalformedEncoding = errors.New("malformed percent-encoding")

// MalformedEncodingError reports a '%' that is not followed by two hex digits.
type MalformedEncodingError struct {
	Input  string
	Offset int // byte offset of the offending '%' in Input
}

func (e *MalformedEncodingError) Error() string {
	end := e.Offset + 3
	if end > len(e.Input) {
		end = len(e.Input)
	}
	return fmt.Sprintf("malformed percent-encoding at offset %d: %q", e.Offset, e.Input[e.Offset:end])
}

func (e *MalformedEncodingError) Unwrap() error { return ErrMalformedEncoding }

// Decode replaces every '+' with a space and then percent-decodes the result.
// Bytes outside escapes, including non-ASCII octets, pass through unchanged.
func Decode(text string) ([]byte, error) {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '+':
			out = append(out, ' ')
		case '%':
			if i+2 >= len(text) {
				return nil, &MalformedEncodingError{Input: text, Offset: i}
			}
			hi, ok1 := unhex(text[i+1])
			lo, ok2 := unhex(text[i+2])
			if !ok1 || !ok2 {
				return nil, &MalformedEncodingError{Input: text, Offset: i}
			}
			out = append(out, hi<<4|lo)
			i += 2
		default:
			out = append(out, c)
		}
	}
	return out, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
