package server

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"framegate/internal/protocol"
)

var (
	ErrUnknownSession = errors.New("server: unknown session")
	ErrReadOnly       = errors.New("server: session is read-only")
)

// Session kinds.
const (
	KindTCP    = "tcp"
	KindSerial = "serial"
	KindReplay = "replay"
)

// Session is one attached byte channel with its own framing state.
type Session struct {
	ID       string
	Kind     string
	Remote   string
	OpenedAt time.Time

	engine *protocol.Engine
	seq    atomic.Uint64

	lastActive atomic.Int64
	rxBytes    atomic.Int64
	txBytes    atomic.Int64
	frames     atomic.Int64
	invalid    atomic.Int64

	wmu    sync.Mutex
	writer io.Writer
}

// SessionView is the JSON shape of a session.
type SessionView struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Remote     string    `json:"remote,omitempty"`
	Writable   bool      `json:"writable"`
	OpenedAt   time.Time `json:"opened_at"`
	LastActive time.Time `json:"last_active"`
	RxBytes    int64     `json:"rx_bytes"`
	TxBytes    int64     `json:"tx_bytes"`
	Frames     int64     `json:"frames"`
	Invalid    int64     `json:"invalid"`
}

func newSession(id, kind, remote string, engine *protocol.Engine, w io.Writer) *Session {
	now := time.Now()
	s := &Session{
		ID:       id,
		Kind:     kind,
		Remote:   remote,
		OpenedAt: now,
		engine:   engine,
		writer:   w,
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Write sends p to the channel. Writes are serialized.
func (s *Session) Write(p []byte) (int, error) {
	if s.writer == nil {
		return 0, ErrReadOnly
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := s.writer.Write(p)
	s.txBytes.Add(int64(n))
	return n, err
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *Session) nextSeq() uint64 { return s.seq.Add(1) }

// View snapshots the session for the API.
func (s *Session) View() SessionView {
	return SessionView{
		ID:         s.ID,
		Kind:       s.Kind,
		Remote:     s.Remote,
		Writable:   s.writer != nil,
		OpenedAt:   s.OpenedAt,
		LastActive: time.Unix(0, s.lastActive.Load()),
		RxBytes:    s.rxBytes.Load(),
		TxBytes:    s.txBytes.Load(),
		Frames:     s.frames.Load(),
		Invalid:    s.invalid.Load(),
	}
}
