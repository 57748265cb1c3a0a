package checksum

import (
	"github.com/sigurn/crc16"
)

// ByteOrder selects how the 16-bit register is laid out in the trailer.
type ByteOrder int

const (
	// BigEndian puts the register most significant byte first.
	BigEndian ByteOrder = iota
	// LittleEndian byte-swaps the register before comparison.
	LittleEndian
)

const crc16Size = 2

// CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection, no xorout.
var ccittFalse = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 is the CRC-16/CCITT-FALSE trailer.
type CRC16 struct {
	order ByteOrder
}

// NewCRC16 creates a CRC-16/CCITT-FALSE checker with the given trailer order.
func NewCRC16(order ByteOrder) *CRC16 {
	return &CRC16{order: order}
}

// Name returns "crc16" or "crc16-le".
func (c *CRC16) Name() string {
	if c.order == LittleEndian {
		return "crc16-le"
	}
	return "crc16"
}

// Size is the trailer width.
func (c *CRC16) Size() int { return crc16Size }

// Sum returns the register over data, swapped when the order is LittleEndian.
func (c *CRC16) Sum(data []byte) uint16 {
	crc := crc16.Checksum(data, ccittFalse)
	if c.order == LittleEndian {
		crc = crc<<8 | crc>>8
	}
	return crc
}

// Verify checks the 2-byte trailer against the CRC of everything before it.
func (c *CRC16) Verify(frame []byte) bool {
	body, trailer, ok := split(frame, crc16Size)
	if !ok {
		return false
	}
	recv := uint16(trailer[0])<<8 | uint16(trailer[1])
	return c.Sum(body) == recv
}

// Seal returns body followed by its CRC trailer.
func (c *CRC16) Seal(body []byte) []byte {
	sum := c.Sum(body)
	return seal(body, byte(sum>>8), byte(sum))
}
