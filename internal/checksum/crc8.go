package checksum

import (
	"github.com/sigurn/crc8"
)

const crc8Size = 1

// Poly 0x07, init 0x00. Built once, read-only afterwards.
var crc8Table = crc8.MakeTable(crc8.CRC8)

// CRC8 is the table-driven 8-bit CRC trailer.
type CRC8 struct{}

// NewCRC8 creates a new CRC-8 checker.
func NewCRC8() *CRC8 { return &CRC8{} }

func (*CRC8) Name() string { return "crc8" }

func (*CRC8) Size() int { return crc8Size }

// Sum computes CRC-8 (poly 0x07, init 0x00) over data.
func (*CRC8) Sum(data []byte) uint8 {
	return crc8.Checksum(data, crc8Table)
}

// Verify checks the 1-byte trailer.
func (c *CRC8) Verify(frame []byte) bool {
	body, trailer, ok := split(frame, crc8Size)
	if !ok {
		return false
	}
	return c.Sum(body) == trailer[0]
}

// Seal appends the CRC-8 of body.
func (c *CRC8) Seal(body []byte) []byte {
	return seal(body, c.Sum(body))
}
