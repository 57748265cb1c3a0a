package adapter

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// JT808Flag opens and closes every delimited frame.
	JT808Flag byte = 0x7E
	// JT808Escape introduces a stuffed byte.
	JT808Escape byte = 0x7D

	// DefaultMaxDelimitedFrame bounds how long an unterminated frame may grow
	// before its opening flag is given up on.
	DefaultMaxDelimitedFrame = 4096

	// message header: MsgID(2) + BodyProps(2) + Phone(6) + Serial(2)
	jt808HeaderLen = 12
)

// Delimited extracts flag-delimited, byte-stuffed frames:
// 0x7E [escaped content] 0x7E, where 0x7D 0x02 stands for 0x7E and
// 0x7D 0x01 for 0x7D. Frames are returned unescaped, without flags.
type Delimited struct {
	maxFrame int
	backlog  []byte
}

// NewDelimited returns a JT/T 808 style extractor. maxFrame <= 0 selects
// DefaultMaxDelimitedFrame.
func NewDelimited(maxFrame int) *Delimited {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxDelimitedFrame
	}
	return &Delimited{maxFrame: maxFrame}
}

// Extract appends chunk to the backlog and returns every complete frame now
// available, oldest first.
func (d *Delimited) Extract(chunk []byte) [][]byte {
	d.backlog = append(d.backlog, chunk...)

	var frames [][]byte
	head := 0
	for {
		rest := d.backlog[head:]
		start := bytes.IndexByte(rest, JT808Flag)
		if start < 0 {
			head = len(d.backlog)
			break
		}
		head += start
		rest = rest[start:]

		end := bytes.IndexByte(rest[1:], JT808Flag)
		if end < 0 {
			if len(rest) > d.maxFrame {
				// never closed: resync past this flag
				head++
				continue
			}
			break
		}
		if end == 0 {
			// adjacent flags; the second one opens the frame
			head++
			continue
		}

		frames = append(frames, Unescape(rest[1:1+end]))
		head += end + 2
	}

	n := copy(d.backlog, d.backlog[head:])
	d.backlog = d.backlog[:n]
	return frames
}

// Buffered reports how many bytes wait in the backlog.
func (d *Delimited) Buffered() int { return len(d.backlog) }

// Reset drops the backlog.
func (d *Delimited) Reset() { d.backlog = d.backlog[:0] }

// Unescape reverses byte stuffing: 0x7d 0x02 -> 0x7e, 0x7d 0x01 -> 0x7d.
// Any other escape sequence is kept as-is.
func Unescape(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == JT808Escape && i+1 < len(data) {
			if data[i+1] == 0x02 {
				result = append(result, JT808Flag)
				i++
				continue
			} else if data[i+1] == 0x01 {
				result = append(result, JT808Escape)
				i++
				continue
			}
		}
		result = append(result, data[i])
	}
	return result
}

// Escape applies byte stuffing so data can sit between two flags.
func Escape(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case JT808Flag:
			result = append(result, JT808Escape, 0x02)
		case JT808Escape:
			result = append(result, JT808Escape, 0x01)
		default:
			result = append(result, b)
		}
	}
	return result
}

// EncodeDelimited wraps already-sealed content with flags, stuffing it first.
func EncodeDelimited(content []byte) []byte {
	escaped := Escape(content)
	packet := make([]byte, 0, len(escaped)+2)
	packet = append(packet, JT808Flag)
	packet = append(packet, escaped...)
	return append(packet, JT808Flag)
}

// JT808Header is the fixed message header at the front of an unescaped frame.
type JT808Header struct {
	MsgID     uint16
	BodyProps uint16
	Phone     string
	Serial    uint16
}

// BodyLen is the body length carried in the low ten bits of BodyProps.
func (h JT808Header) BodyLen() int { return int(h.BodyProps & 0x03FF) }

// ParseJT808Header reads the message header from unescaped frame content.
func ParseJT808Header(content []byte) (JT808Header, error) {
	if len(content) < jt808HeaderLen {
		return JT808Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(content))
	}
	return JT808Header{
		MsgID:     binary.BigEndian.Uint16(content[0:2]),
		BodyProps: binary.BigEndian.Uint16(content[2:4]),
		Phone:     bcdToString(content[4:10]),
		Serial:    binary.BigEndian.Uint16(content[10:12]),
	}, nil
}

// bcdToString converts BCD encoded bytes to string
func bcdToString(bcd []byte) string {
	var result []byte
	for _, b := range bcd {
		high := (b >> 4) & 0x0F
		low := b & 0x0F
		if high < 10 {
			result = append(result, '0'+high)
		}
		if low < 10 {
			result = append(result, '0'+low)
		}
	}
	return string(result)
}
