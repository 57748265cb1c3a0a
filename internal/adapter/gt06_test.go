package adapter

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

// login packet from the GT06 protocol manual
var gt06Login = mustHex("78780D01012345678901234500018CDD0D0A")

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestGT06ExtractLogin(t *testing.T) {
	g := NewGT06()
	frames := g.Extract(append([]byte{0x00, 0x78, 0x0D}, gt06Login...))
	if len(frames) != 1 || !bytes.Equal(frames[0], gt06Login) {
		t.Fatalf("expected login packet, got %v", frames)
	}
	if g.Buffered() != 0 {
		t.Fatalf("unexpected backlog %d", g.Buffered())
	}
}

func TestGT06AcrossEveryBoundary(t *testing.T) {
	for cut := 0; cut <= len(gt06Login); cut++ {
		g := NewGT06()
		got := append(g.Extract(gt06Login[:cut]), g.Extract(gt06Login[cut:])...)
		if len(got) != 1 || !bytes.Equal(got[0], gt06Login) {
			t.Fatalf("cut=%d: got %v", cut, got)
		}
	}
}

func TestGT06BadStopBitsResync(t *testing.T) {
	bad := bytes.Clone(gt06Login)
	bad[len(bad)-1] = 0x00
	g := NewGT06()
	frames := g.Extract(append(bad, gt06Login...))
	if len(frames) != 1 || !bytes.Equal(frames[0], gt06Login) {
		t.Fatalf("expected recovery on the second packet, got %v", frames)
	}
}

func TestGT06RejectsShortLength(t *testing.T) {
	g := NewGT06()
	frames := g.Extract([]byte{0x78, 0x78, 0x02, 0x01, 0x0D, 0x0A, 0x0D})
	if len(frames) != 0 {
		t.Fatalf("length below minimum must not frame")
	}
	if g.Buffered() != 0 {
		t.Fatalf("expected garbage dropped, backlog=%d", g.Buffered())
	}
}

func TestGT06RejectsOversizedLongLength(t *testing.T) {
	g := NewGT06()
	stream := []byte{0x79, 0x79, 0xFF, 0xF0}
	for i := 0; i < 101; i++ {
		stream = append(stream, gt06Login...)
	}
	frames := g.Extract(stream)
	if len(frames) != 101 {
		t.Fatalf("expected 101 packets behind the noise, got %d", len(frames))
	}
	if g.Buffered() != 0 {
		t.Fatalf("unexpected backlog %d", g.Buffered())
	}
}

func TestGT06MaxLenAdmitsBoundary(t *testing.T) {
	// long packet with length field 0x0010 (16): proto + 11 info + serial + crc
	pkt := append([]byte{0x79, 0x79, 0x00, 0x10}, make([]byte, 16)...)
	pkt = append(pkt, 0x0D, 0x0A)

	if frames := NewGT06Max(16).Extract(pkt); len(frames) != 1 {
		t.Fatalf("length at the bound must frame, got %d", len(frames))
	}
	g := NewGT06Max(15)
	if frames := g.Extract(pkt); len(frames) != 0 {
		t.Fatalf("length above the bound must not frame, got %d", len(frames))
	}
	if g.Buffered() != 0 {
		t.Fatalf("expected noise dropped, backlog=%d", g.Buffered())
	}
}

func TestGT06KeepsTrailingStartByte(t *testing.T) {
	g := NewGT06()
	g.Extract([]byte{0x11, 0x22, 0x78})
	if g.Buffered() != 1 {
		t.Fatalf("expected the lone start byte kept, backlog=%d", g.Buffered())
	}
	frames := g.Extract(gt06Login[1:])
	if len(frames) != 1 || !bytes.Equal(frames[0], gt06Login) {
		t.Fatalf("expected packet completed, got %v", frames)
	}
}

func TestGT06BodyAndParse(t *testing.T) {
	content := mustHex("0101234567890123450001")
	body, err := GT06Body(content)
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if !bytes.Equal(GT06Seal(body, 0x8CDD), gt06Login) {
		t.Fatalf("unexpected packet % X", GT06Seal(body, 0x8CDD))
	}

	p, err := ParseGT06(gt06Login)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Protocol != 0x01 || p.Serial != 1 || !bytes.Equal(p.Info, content[1:9]) {
		t.Fatalf("unexpected packet %+v", p)
	}
	if p.Describe()["terminal_id"] != "0123456789012345" {
		t.Fatalf("unexpected fields %v", p.Describe())
	}

	long, err := GT06Body(make([]byte, 300))
	if err != nil || long[0] != GT06Long || long[2] != 0x01 || long[3] != 0x2E {
		t.Fatalf("expected long header, got % X %v", long[:4], err)
	}
	if _, err := GT06Body([]byte{0x01}); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestGT06LocationDescribe(t *testing.T) {
	info := mustHex("0F0C1D0A0B0CC5027AC7EB0C46584900148F")
	p := GT06Packet{Protocol: 0x12, Info: info, Serial: 9}
	fields := p.Describe()
	if fields["time"] != "2015-12-29T10:11:12Z" {
		t.Fatalf("unexpected time %v", fields["time"])
	}
	if fields["satellites"] != byte(5) || fields["speed"] != byte(0) || fields["course"] != uint16(0x148F&0x3FF) {
		t.Fatalf("unexpected fields %v", fields)
	}
}
