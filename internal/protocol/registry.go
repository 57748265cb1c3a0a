package protocol

import (
	"errors"
	"fmt"
	"sort"

	"framegate/internal/adapter"
	"framegate/internal/checksum"
)

// ErrUnknownProtocol is returned by Lookup for unregistered names.
var ErrUnknownProtocol = errors.New("protocol: unknown protocol")

// Definition names one wire layout: how frames are delimited, which trailer
// guards them, where the payload sits and how to build an outbound frame.
type Definition struct {
	Name string

	newParser func() Parser
	checker   checksum.Checker
	payload   func(frame []byte) []byte
	encode    func(payload []byte) ([]byte, error)
	describe  func(frame []byte) map[string]any
}

// Checksum names the trailer algorithm.
func (d Definition) Checksum() string { return d.checker.Name() }

// NewEngine returns an engine with a fresh backlog. Checkers are stateless
// and shared between engines.
func (d Definition) NewEngine() *Engine {
	return NewEngine(d.newParser(), d.checker)
}

// Verify checks a frame against this layout's trailer.
func (d Definition) Verify(frame []byte) bool { return d.checker.Verify(frame) }

// Payload returns the application bytes of frame, or nil if frame is too short.
func (d Definition) Payload(frame []byte) []byte { return d.payload(frame) }

// Encode builds a complete, sealed outbound frame around payload.
func (d Definition) Encode(payload []byte) ([]byte, error) { return d.encode(payload) }

// Describe extracts layout-specific header fields for display. May be nil.
func (d Definition) Describe(frame []byte) map[string]any {
	if d.describe == nil {
		return nil
	}
	return d.describe(frame)
}

var definitions = map[string]Definition{}

func register(d Definition) { definitions[d.Name] = d }

func init() {
	register(lengthPrefixed("sample", adapter.SampleHeader, checksum.NewCRC16(checksum.BigEndian)))
	register(lengthPrefixed("sample-crc8", adapter.SampleHeader, checksum.NewCRC8()))
	register(jt808())
	register(gt06())
}

// Lookup returns the named protocol definition.
func Lookup(name string) (Definition, error) {
	d, ok := definitions[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return d, nil
}

// Names lists the registered protocols in sorted order.
func Names() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func lengthPrefixed(name string, header byte, c checksum.Checker) Definition {
	trailer := c.Size()
	return Definition{
		Name:      name,
		newParser: func() Parser { return adapter.NewLengthPrefixed(header, trailer) },
		checker:   c,
		payload: func(frame []byte) []byte {
			if len(frame) < 2+trailer {
				return nil
			}
			return frame[2 : len(frame)-trailer]
		},
		encode: func(payload []byte) ([]byte, error) {
			body, err := adapter.EncodeLengthPrefixed(header, payload)
			if err != nil {
				return nil, err
			}
			return c.Seal(body), nil
		},
		describe: func(frame []byte) map[string]any {
			if len(frame) < 2 {
				return nil
			}
			return map[string]any{"payload_len": int(frame[1])}
		},
	}
}

func jt808() Definition {
	c := checksum.NewXOR()
	return Definition{
		Name:      "jt808",
		newParser: func() Parser { return adapter.NewDelimited(0) },
		checker:   c,
		payload: func(frame []byte) []byte {
			// header(12) + body + check code(1)
			if len(frame) < 13 {
				return nil
			}
			return frame[12 : len(frame)-1]
		},
		encode: func(content []byte) ([]byte, error) {
			return adapter.EncodeDelimited(c.Seal(content)), nil
		},
		describe: func(frame []byte) map[string]any {
			h, err := adapter.ParseJT808Header(frame)
			if err != nil {
				return nil
			}
			return map[string]any{
				"msg_id": fmt.Sprintf("0x%04X", h.MsgID),
				"phone":  h.Phone,
				"serial": h.Serial,
			}
		},
	}
}

// window verifies the trailer of a frame whose checked span excludes head
// leading bytes and tail trailing bytes (start and stop markers).
type window struct {
	checksum.Checker
	head, tail int
}

func (w window) Verify(frame []byte) bool {
	if len(frame) < w.head+w.tail {
		return false
	}
	return w.Checker.Verify(frame[w.head : len(frame)-w.tail])
}

func gt06() Definition {
	crc := checksum.NewCRCITU()
	return Definition{
		Name:      "gt06",
		newParser: func() Parser { return adapter.NewGT06() },
		checker:   window{Checker: crc, head: 2, tail: 2},
		payload: func(frame []byte) []byte {
			p, err := adapter.ParseGT06(frame)
			if err != nil {
				return nil
			}
			return p.Info
		},
		encode: func(content []byte) ([]byte, error) {
			body, err := adapter.GT06Body(content)
			if err != nil {
				return nil, err
			}
			return adapter.GT06Seal(body, crc.Sum(body[2:])), nil
		},
		describe: func(frame []byte) map[string]any {
			p, err := adapter.ParseGT06(frame)
			if err != nil {
				return nil
			}
			return p.Describe()
		},
	}
}
