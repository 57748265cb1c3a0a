package protocol

import (
	"time"

	"framegate/internal/hexcodec"
)

// FrameMessage is the record published for every extracted frame.
type FrameMessage struct {
	Session    string         `json:"session"`
	Protocol   string         `json:"protocol"`
	Seq        uint64         `json:"seq"`
	Valid      bool           `json:"valid"`
	Length     int            `json:"length"`
	Hex        string         `json:"hex"`
	PayloadHex string         `json:"payload_hex"`
	Text       string         `json:"text,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// NewFrameMessage describes frame as seen on session under definition d.
func NewFrameMessage(d Definition, session string, seq uint64, frame []byte, valid bool, at time.Time) *FrameMessage {
	return &FrameMessage{
		Session:    session,
		Protocol:   d.Name,
		Seq:        seq,
		Valid:      valid,
		Length:     len(frame),
		Hex:        hexcodec.Encode(frame),
		PayloadHex: hexcodec.Encode(d.Payload(frame)),
		Fields:     d.Describe(frame),
		Timestamp:  at.UnixMilli(),
	}
}

// Subject suffixes for published frames.
const (
	SubjectValid   = "valid"
	SubjectInvalid = "invalid"
	SubjectAll     = "all"
)

// Kind returns the subject suffix matching the frame's validity.
func (m *FrameMessage) Kind() string {
	if m.Valid {
		return SubjectValid
	}
	return SubjectInvalid
}
