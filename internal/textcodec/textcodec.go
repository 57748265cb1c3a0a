// Package textcodec converts between channel bytes and display text in a
// named character set (utf-8, gb2312, gbk, shift_jis, ...).
package textcodec

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used when no name is configured.
const DefaultEncoding = "gb2312"

var (
	ErrUnknownEncoding = errors.New("textcodec: unknown encoding")
	ErrUnencodable     = errors.New("textcodec: text not representable")
)

// Lookup resolves a WHATWG encoding label. An empty name selects DefaultEncoding.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return enc, nil
}

// Decode renders b as text. Invalid sequences become U+FFFD rather than failing.
func Decode(b []byte, name string) (string, error) {
	enc, err := Lookup(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("textcodec: decode %s: %w", name, err)
	}
	return string(out), nil
}

// Encode converts s into bytes of the named character set. Runes the set
// cannot represent are an error.
func Encode(s, name string) ([]byte, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w in %s: %v", ErrUnencodable, name, err)
	}
	return out, nil
}
