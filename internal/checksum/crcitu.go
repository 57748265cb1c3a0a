package checksum

import (
	"github.com/sigurn/crc16"
)

// CRC-ITU as used by GT06 trackers is CRC-16/X-25: poly 0x1021, init 0xFFFF,
// reflected, xorout 0xFFFF. The trailer is big-endian.
var x25 = crc16.MakeTable(crc16.CRC16_X_25)

// CRCITU is CRC-16/X-25, the CRC-ITU of GT06 trackers, with a big-endian
// trailer.
type CRCITU struct{}

// NewCRCITU creates a new CRC-ITU checker.
func NewCRCITU() *CRCITU { return &CRCITU{} }

func (CRCITU) Name() string { return "crc-itu" }

func (CRCITU) Size() int { return crc16Size }

// Sum computes CRC-16/X-25 over data.
func (CRCITU) Sum(data []byte) uint16 { return crc16.Checksum(data, x25) }

// Verify checks the 2-byte trailer.
func (c CRCITU) Verify(frame []byte) bool {
	body, trailer, ok := split(frame, crc16Size)
	if !ok {
		return false
	}
	return c.Sum(body) == uint16(trailer[0])<<8|uint16(trailer[1])
}

// Seal appends the CRC of body, high byte first.
func (c CRCITU) Seal(body []byte) []byte {
	sum := c.Sum(body)
	return seal(body, byte(sum>>8), byte(sum))
}
