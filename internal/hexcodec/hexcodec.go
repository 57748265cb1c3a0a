// Package hexcodec converts between raw bytes and their hexadecimal text form.
//
// Encoding always renders uppercase digit pairs. Decoding is lenient about
// layout (optional 0x prefix, whitespace anywhere) but strict about content.
package hexcodec

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultSeparator is placed between byte pairs by Encode.
const DefaultSeparator = " "

const digits = "0123456789ABCDEF"

// ErrInvalidFormat is returned by Decode for text that is not a hex byte string.
var ErrInvalidFormat = errors.New("hexcodec: invalid hex string")

// Encode renders b as space separated uppercase hex pairs, e.g. "7F 02 AB".
func Encode(b []byte) string {
	return EncodeSep(b, DefaultSeparator)
}

// EncodeSep renders b as uppercase hex pairs joined by sep.
func EncodeSep(b []byte, sep string) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*2 + (len(b)-1)*len(sep))
	for i, v := range b {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteByte(digits[v>>4])
		sb.WriteByte(digits[v&0x0F])
	}
	return sb.String()
}

// IsHexString reports whether s decodes cleanly and how many hex digits it holds.
func IsHexString(s string) (bool, int) {
	if strings.TrimSpace(s) == "" {
		return false, 0
	}
	count := 0
	for _, r := range stripPrefix(s) {
		if unicode.IsSpace(r) {
			continue
		}
		if _, ok := nibble(r); !ok {
			return false, count
		}
		count++
	}
	return count > 0 && count%2 == 0, count
}

// Decode parses hex text into bytes. A leading 0x (any case) is dropped and
// whitespace between digits is ignored.
func Decode(s string) ([]byte, error) {
	ok, count := IsHexString(s)
	if !ok {
		return nil, describe(s, count)
	}

	out := make([]byte, 0, count/2)
	var hi byte
	high := true
	for _, r := range stripPrefix(s) {
		if unicode.IsSpace(r) {
			continue
		}
		v, _ := nibble(r)
		if high {
			hi = v
		} else {
			out = append(out, hi<<4|v)
		}
		high = !high
	}
	return out, nil
}

func describe(s string, count int) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty input", ErrInvalidFormat)
	}
	for _, r := range stripPrefix(s) {
		if unicode.IsSpace(r) {
			continue
		}
		if _, ok := nibble(r); !ok {
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidFormat, r)
		}
	}
	if count == 0 {
		return fmt.Errorf("%w: no hex digits", ErrInvalidFormat)
	}
	return fmt.Errorf("%w: odd digit count %d", ErrInvalidFormat, count)
}

func stripPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func nibble(r rune) (byte, bool) {
	switch {
	case r >= '0' && r <= '9':
		return byte(r - '0'), true
	case r >= 'a' && r <= 'f':
		return byte(r-'a') + 10, true
	case r >= 'A' && r <= 'F':
		return byte(r-'A') + 10, true
	}
	return 0, false
}
