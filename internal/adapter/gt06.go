package adapter

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// GT06 packets:
//
//	0x78 0x78 len(1) proto(1) info(N) serial(2) crc(2) 0x0D 0x0A
//	0x79 0x79 len(2) proto(1) info(N) serial(2) crc(2) 0x0D 0x0A
//
// len counts proto through crc. The CRC covers len through serial.
const (
	GT06Short byte = 0x78
	GT06Long  byte = 0x79

	// DefaultMaxGT06Len bounds the length field of a long (0x79) packet.
	// Anything above it is taken as noise.
	DefaultMaxGT06Len = 1024

	// proto + serial + crc
	gt06MinLen = 5
)

var gt06Stop = []byte{0x0D, 0x0A}

// GT06 extracts GT06 tracker packets, start and stop bits included.
type GT06 struct {
	maxLen  int
	backlog []byte
}

// NewGT06 returns an extractor bounded by DefaultMaxGT06Len.
func NewGT06() *GT06 { return NewGT06Max(DefaultMaxGT06Len) }

// NewGT06Max returns an extractor that rejects long packets whose length
// field exceeds maxLen. maxLen <= 0 selects DefaultMaxGT06Len.
func NewGT06Max(maxLen int) *GT06 {
	if maxLen <= 0 {
		maxLen = DefaultMaxGT06Len
	}
	return &GT06{maxLen: maxLen}
}

// Extract appends chunk to the backlog and returns every complete packet,
// oldest first.
func (g *GT06) Extract(chunk []byte) [][]byte {
	g.backlog = append(g.backlog, chunk...)

	var frames [][]byte
	head := 0
	for {
		rest := g.backlog[head:]
		start := gt06Start(rest)
		if start < 0 {
			// a lone start byte at the end may be half of a header
			if n := len(rest); n > 0 && isGT06Start(rest[n-1]) {
				head += n - 1
			} else {
				head = len(g.backlog)
			}
			break
		}
		head += start
		rest = rest[start:]

		total, lenOK, complete := gt06Total(rest, g.maxLen)
		if !complete {
			break
		}
		if !lenOK {
			head++
			continue
		}
		if len(rest) < total {
			break
		}
		if !bytes.Equal(rest[total-2:total], gt06Stop) {
			head++
			continue
		}
		frames = append(frames, bytes.Clone(rest[:total]))
		head += total
	}

	n := copy(g.backlog, g.backlog[head:])
	g.backlog = g.backlog[:n]
	return frames
}

// Buffered reports how many bytes wait for the next chunk.
func (g *GT06) Buffered() int { return len(g.backlog) }

// Reset drops the backlog.
func (g *GT06) Reset() { g.backlog = g.backlog[:0] }

func isGT06Start(b byte) bool { return b == GT06Short || b == GT06Long }

func gt06Start(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if isGT06Start(data[i]) && data[i+1] == data[i] {
			return i
		}
	}
	return -1
}

// gt06Total reports the full packet size once the length field is buffered.
func gt06Total(p []byte, maxLen int) (total int, lenOK, complete bool) {
	if p[0] == GT06Short {
		if len(p) < 3 {
			return 0, false, false
		}
		l := int(p[2])
		return l + 5, l >= gt06MinLen, true
	}
	if len(p) < 4 {
		return 0, false, false
	}
	l := int(binary.BigEndian.Uint16(p[2:4]))
	return l + 6, l >= gt06MinLen && l <= maxLen, true
}

// GT06Body lays out start bits, length and content (proto, info, serial).
// The caller appends the CRC over body[2:] and the stop bits.
func GT06Body(content []byte) ([]byte, error) {
	if len(content) < 3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(content))
	}
	l := len(content) + 2
	switch {
	case l <= 0xFF:
		out := make([]byte, 0, l+5)
		out = append(out, GT06Short, GT06Short, byte(l))
		return append(out, content...), nil
	case l <= 0xFFFF:
		out := make([]byte, 0, l+6)
		out = append(out, GT06Long, GT06Long, byte(l>>8), byte(l))
		return append(out, content...), nil
	}
	return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(content))
}

// GT06Seal appends a 2-byte CRC and the stop bits to body.
func GT06Seal(body []byte, crc uint16) []byte {
	out := append(bytes.Clone(body), byte(crc>>8), byte(crc))
	return append(out, gt06Stop...)
}

// GT06Packet is the decoded envelope of one packet.
type GT06Packet struct {
	Protocol byte
	Info     []byte
	Serial   uint16
}

// ParseGT06 splits an extracted packet. Info aliases frame.
func ParseGT06(frame []byte) (GT06Packet, error) {
	hdr := 3
	if len(frame) > 0 && frame[0] == GT06Long {
		hdr = 4
	}
	if len(frame) < hdr+gt06MinLen+2 {
		return GT06Packet{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(frame))
	}
	end := len(frame) - 6 // serial, crc, stop
	return GT06Packet{
		Protocol: frame[hdr],
		Info:     frame[hdr+1 : end],
		Serial:   binary.BigEndian.Uint16(frame[end : end+2]),
	}, nil
}

// Describe decodes the fields worth showing for common packet types.
func (p GT06Packet) Describe() map[string]any {
	fields := map[string]any{
		"proto":  fmt.Sprintf("0x%02X", p.Protocol),
		"serial": p.Serial,
	}
	switch p.Protocol {
	case 0x01: // login, BCD IMEI
		if len(p.Info) >= 8 {
			fields["terminal_id"] = hex.EncodeToString(p.Info[:8])
		}
	case 0x12: // location
		if len(p.Info) >= 18 {
			fields["time"] = parseDateTime(p.Info[0:6]).Format(time.RFC3339)
			fields["satellites"] = p.Info[6] & 0x0F
			lat := binary.BigEndian.Uint32(p.Info[7:11])
			lon := binary.BigEndian.Uint32(p.Info[11:15])
			fields["lat"] = float64(lat) / 30000.0 / 60.0
			fields["lon"] = float64(lon) / 30000.0 / 60.0
			fields["speed"] = p.Info[15]
			fields["course"] = binary.BigEndian.Uint16(p.Info[16:18]) & 0x3FF
		}
	}
	return fields
}

// YY MM DD HH MM SS, UTC
func parseDateTime(data []byte) time.Time {
	return time.Date(2000+int(data[0]), time.Month(data[1]), int(data[2]),
		int(data[3]), int(data[4]), int(data[5]), 0, time.UTC)
}
