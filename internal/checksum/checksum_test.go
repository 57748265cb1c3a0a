package checksum

import (
	"errors"
	"math/rand"
	"testing"
)

// bitwise CRC-16/CCITT-FALSE, one register shift per input bit
func referenceCRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func referenceCRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestCRC16KnownVector(t *testing.T) {
	c := NewCRC16(BigEndian)
	if got := c.Sum([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("crc16('123456789')=%04X want 29B1", got)
	}
	if got := c.Sum(nil); got != 0xFFFF {
		t.Fatalf("crc16(empty)=%04X want FFFF", got)
	}
	le := NewCRC16(LittleEndian)
	if got := le.Sum([]byte("123456789")); got != 0xB129 {
		t.Fatalf("crc16-le('123456789')=%04X want B129", got)
	}
}

func TestCRCITU(t *testing.T) {
	c := NewCRCITU()
	if got := c.Sum([]byte("123456789")); got != 0x906E {
		t.Fatalf("crc-itu('123456789')=%04X want 906E", got)
	}
	// GT06 login reply: length, protocol number and serial are covered
	sealed := c.Seal([]byte{0x05, 0x01, 0x00, 0x01})
	if sealed[4] != 0xD9 || sealed[5] != 0xDC {
		t.Fatalf("unexpected trailer % X", sealed[4:])
	}
	if !c.Verify(sealed) {
		t.Fatalf("sealed body must verify")
	}
}

func TestCRC16MatchesBitwiseReference(t *testing.T) {
	c := NewCRC16(BigEndian)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		data := make([]byte, rng.Intn(300))
		rng.Read(data)
		if got, want := c.Sum(data), referenceCRC16(data); got != want {
			t.Fatalf("len=%d got %04X want %04X", len(data), got, want)
		}
		if c.Sum(data) != c.Sum(data) {
			t.Fatalf("sum is not deterministic")
		}
	}
}

func TestCRC16VerifySampleFrame(t *testing.T) {
	c := NewCRC16(BigEndian)
	body := []byte{0x7F, 0x02, 0xAB, 0xCD}
	frame := c.Seal(body)
	if len(frame) != 6 {
		t.Fatalf("unexpected frame length %d", len(frame))
	}
	sum := referenceCRC16(body)
	if frame[4] != byte(sum>>8) || frame[5] != byte(sum) {
		t.Fatalf("trailer % X is not big-endian %04X", frame[4:], sum)
	}
	if !c.Verify(frame) {
		t.Fatalf("sealed frame must verify")
	}

	corrupt := append([]byte(nil), frame...)
	corrupt[4], corrupt[5] = 0x00, 0x00
	if c.Verify(corrupt) {
		t.Fatalf("zeroed trailer must not verify")
	}
}

func TestCRC16LittleEndianSeal(t *testing.T) {
	be := NewCRC16(BigEndian)
	le := NewCRC16(LittleEndian)
	body := []byte("framegate")
	a, b := be.Seal(body), le.Seal(body)
	if a[len(a)-2] != b[len(b)-1] || a[len(a)-1] != b[len(b)-2] {
		t.Fatalf("little-endian trailer must be byte-swapped: % X vs % X", a, b)
	}
	if !le.Verify(b) || le.Verify(a) {
		t.Fatalf("little-endian verify mismatch")
	}
}

func TestCRC8(t *testing.T) {
	c := NewCRC8()
	if got := c.Sum([]byte("123456789")); got != 0xF4 {
		t.Fatalf("crc8('123456789')=%02X want F4", got)
	}
	if got := c.Sum(nil); got != 0x00 {
		t.Fatalf("crc8(empty)=%02X want 00", got)
	}
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		data := make([]byte, rng.Intn(64))
		rng.Read(data)
		if got, want := c.Sum(data), referenceCRC8(data); got != want {
			t.Fatalf("len=%d got %02X want %02X", len(data), got, want)
		}
	}
	if !c.Verify(c.Seal([]byte{0x7F, 0x01, 0x55})) {
		t.Fatalf("sealed crc8 frame must verify")
	}
}

func TestXOR(t *testing.T) {
	x := NewXOR()
	frame := x.Seal([]byte{0x00, 0x02, 0x00, 0x00, 0x01, 0x23})
	if frame[len(frame)-1] != 0x02^0x01^0x23 {
		t.Fatalf("unexpected check code %02X", frame[len(frame)-1])
	}
	if !x.Verify(frame) {
		t.Fatalf("sealed xor frame must verify")
	}
	if x.Verify([]byte{0x00}) {
		t.Fatalf("a lone trailer byte must not verify")
	}
}

func TestSingleBitFlipsAreDetected(t *testing.T) {
	body := []byte{0x7F, 0x05, 0x10, 0x20, 0x30, 0x40, 0x7F}
	for _, name := range Names() {
		c, err := Lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		frame := c.Seal(body)
		for i := range frame {
			for bit := 0; bit < 8; bit++ {
				flipped := append([]byte(nil), frame...)
				flipped[i] ^= 1 << bit
				if c.Verify(flipped) {
					t.Fatalf("%s: flip byte=%d bit=%d went undetected", name, i, bit)
				}
			}
		}
	}
}

func TestShortFramesNeverVerify(t *testing.T) {
	for _, name := range Names() {
		c, _ := Lookup(name)
		if c.Verify(nil) {
			t.Fatalf("%s: nil frame verified", name)
		}
		if c.Size() == 2 && c.Verify([]byte{0xFF}) {
			t.Fatalf("%s: one-byte frame verified", name)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("md5")
	if !errors.Is(err, ErrUnknownChecksum) {
		t.Fatalf("expected ErrUnknownChecksum, got %v", err)
	}
	for _, name := range Names() {
		c, err := Lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		if c.Name() != name {
			t.Fatalf("lookup %s returned %s", name, c.Name())
		}
	}
}
