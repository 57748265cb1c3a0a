// Package checksum implements the frame trailer algorithms.
//
// Every Checker treats the last Size() bytes of a frame as the received
// trailer and recomputes over everything before it.
package checksum

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownChecksum is returned by Lookup for unregistered names.
var ErrUnknownChecksum = errors.New("checksum: unknown algorithm")

// Checker computes and verifies one trailer algorithm.
type Checker interface {
	// Name is the registry key, e.g. "crc16".
	Name() string
	// Size is the trailer width in bytes.
	Size() int
	// Verify reports whether frame ends with a trailer matching its body.
	Verify(frame []byte) bool
	// Seal returns a copy of body with the trailer appended.
	Seal(body []byte) []byte
}

var registry = map[string]func() Checker{
	"crc16":    func() Checker { return NewCRC16(BigEndian) },
	"crc16-le": func() Checker { return NewCRC16(LittleEndian) },
	"crc-itu":  func() Checker { return NewCRCITU() },
	"crc8":     func() Checker { return NewCRC8() },
	"xor":      func() Checker { return NewXOR() },
}

// Lookup returns a fresh checker for name.
func Lookup(name string) (Checker, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChecksum, name)
	}
	return ctor(), nil
}

// Names lists the registered algorithms in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func split(frame []byte, size int) (body, trailer []byte, ok bool) {
	if len(frame) < size {
		return nil, nil, false
	}
	n := len(frame) - size
	return frame[:n], frame[n:], true
}

func seal(body []byte, trailer ...byte) []byte {
	out := make([]byte, 0, len(body)+len(trailer))
	out = append(out, body...)
	return append(out, trailer...)
}
