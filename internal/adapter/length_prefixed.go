package adapter

import (
	"bytes"
)

const (
	// SampleHeader opens every frame of the sample layout.
	SampleHeader byte = 0x7F
	// SampleTrailerLen is the CRC-16 trailer width of the sample layout.
	SampleTrailerLen = 2
	// MaxPayload is the largest payload a one-byte length field can describe.
	MaxPayload = 255
)

// LengthPrefixed delimits frames laid out as
// [header][len][payload: len bytes][trailer: fixed width].
//
// It keeps a backlog across calls. Bytes ahead of the first header byte are
// dropped without notice; a partial frame waits for the next chunk. A
// LengthPrefixed must not be shared between goroutines.
type LengthPrefixed struct {
	header  byte
	minLen  int
	backlog []byte
}

// NewLengthPrefixed returns an extractor for the given header sentinel and
// trailer width.
func NewLengthPrefixed(header byte, trailerLen int) *LengthPrefixed {
	if trailerLen < 0 {
		trailerLen = 0
	}
	return &LengthPrefixed{
		header: header,
		minLen: 2 + trailerLen,
	}
}

// NewSampleParser returns the extractor for the 0x7F / CRC-16 layout.
func NewSampleParser() *LengthPrefixed {
	return NewLengthPrefixed(SampleHeader, SampleTrailerLen)
}

// MinFrameLen is the length of a frame with an empty payload.
func (p *LengthPrefixed) MinFrameLen() int { return p.minLen }

// MaxFrameLen is the length of a frame carrying MaxPayload bytes.
func (p *LengthPrefixed) MaxFrameLen() int { return p.minLen + MaxPayload }

// Extract appends chunk to the backlog and returns every complete frame now
// available, oldest first. Returned frames are owned by the caller.
func (p *LengthPrefixed) Extract(chunk []byte) [][]byte {
	p.backlog = append(p.backlog, chunk...)

	var frames [][]byte
	head := 0
	for {
		rest := p.backlog[head:]
		i := bytes.IndexByte(rest, p.header)
		if i < 0 {
			head = len(p.backlog)
			break
		}
		head += i
		rest = rest[i:]

		if len(rest) < p.minLen {
			break
		}
		total := p.minLen + int(rest[1])
		if len(rest) < total {
			break
		}

		frames = append(frames, bytes.Clone(rest[:total]))
		head += total
	}

	n := copy(p.backlog, p.backlog[head:])
	p.backlog = p.backlog[:n]
	return frames
}

// Buffered reports how many bytes wait in the backlog.
func (p *LengthPrefixed) Buffered() int { return len(p.backlog) }

// Reset drops the backlog.
func (p *LengthPrefixed) Reset() { p.backlog = p.backlog[:0] }

// EncodeLengthPrefixed lays out header, length and payload. The caller
// appends the trailer.
func EncodeLengthPrefixed(header byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 0, 2+len(payload)+SampleTrailerLen)
	out = append(out, header, byte(len(payload)))
	return append(out, payload...), nil
}
