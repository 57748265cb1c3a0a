package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"framegate/internal/config"
	"framegate/internal/hexcodec"
	"framegate/internal/observability"
	"framegate/internal/protocol"
	"framegate/internal/source"
	"framegate/internal/store"
	"framegate/internal/textcodec"
)

// Subject prefix for published frames. The validity kind or "all" is appended.
const uplinkPrefix = "framegate.uplink."

// Publisher sends one message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// FrameArchive persists frames. *store.Archive satisfies it.
type FrameArchive interface {
	Save(ctx context.Context, rec *store.FrameRecord) error
	Recent(ctx context.Context, session string, limit int) ([]store.FrameRecord, error)
}

// Server attaches byte channels, runs each through its own protocol engine
// and fans the resulting frames out to subscribers.
type Server struct {
	config *config.Config
	def    protocol.Definition
	log    zerolog.Logger

	store   store.SessionStore
	pub     Publisher
	archive FrameArchive
	hub     *Hub

	sessions sync.Map // map[string]*Session
	connSeq  atomic.Uint64
	started  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }
// WithStore replaces the in-memory session store.
func WithStore(st store.SessionStore) Option { return func(s *Server) { s.store = st } }
// WithPublisher enables uplink publishing.
func WithPublisher(p Publisher) Option { return func(s *Server) { s.pub = p } }
// WithArchive enables frame archiving and the /frames endpoints.
func WithArchive(a FrameArchive) Option { return func(s *Server) { s.archive = a } }

// New builds a server for the configured protocol.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	def, err := protocol.Lookup(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	if _, err := textcodec.Lookup(cfg.Encoding); err != nil {
		return nil, err
	}
	s := &Server{
		config:  cfg,
		def:     def,
		log:     zerolog.Nop(),
		store:   store.NewMemorySessions(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.log.With().Str("component", "ws").Logger())
	return s, nil
}

// Hub exposes the websocket hub so callers can run it.
func (s *Server) Hub() *Hub { return s.hub }

// Attach registers a new channel. w may be nil for read-only channels.
func (s *Server) Attach(ctx context.Context, kind, remote string, w io.Writer) *Session {
	id := fmt.Sprintf("%s-%s-%d", s.config.GatewayID, kind, s.connSeq.Add(1))
	sess := newSession(id, kind, remote, s.def.NewEngine(), w)
	s.sessions.Store(id, sess)
	observability.SessionOpened()

	info := store.SessionInfo{ID: id, GatewayID: s.config.GatewayID, Kind: kind, Remote: remote}
	if err := s.store.Register(ctx, info); err != nil {
		s.log.Warn().Err(err).Str("session", id).Msg("session register failed")
	}
	s.log.Info().Str("session", id).Str("remote", remote).Msg("session attached")
	return sess
}

// Detach forgets a channel.
func (s *Server) Detach(ctx context.Context, sess *Session) {
	if _, loaded := s.sessions.LoadAndDelete(sess.ID); !loaded {
		return
	}
	observability.SessionClosed(sess.ID)
	if err := s.store.Remove(ctx, sess.ID); err != nil {
		s.log.Warn().Err(err).Str("session", sess.ID).Msg("session remove failed")
	}
	s.log.Info().Str("session", sess.ID).Msg("session detached")
}

// Session returns the live session with id.
func (s *Server) Session(id string) (*Session, error) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return v.(*Session), nil
}

// Sessions lists live sessions ordered by id.
func (s *Server) Sessions() []SessionView {
	views := make([]SessionView, 0)
	s.sessions.Range(func(_, value any) bool {
		views = append(views, value.(*Session).View())
		return true
	})
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Feed hands one received chunk to the session's engine. Calls for the same
// session must not overlap.
func (s *Server) Feed(ctx context.Context, sess *Session, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	sess.touch()
	sess.rxBytes.Add(int64(len(chunk)))
	observability.RecordBytes(sess.ID, observability.DirectionRx, len(chunk))
	s.incr(ctx, sess.ID, store.FieldRxBytes, int64(len(chunk)))
	if err := s.store.Touch(ctx, sess.ID); err != nil {
		s.log.Debug().Err(err).Str("session", sess.ID).Msg("session touch failed")
	}

	sess.engine.Process(chunk, func(frame []byte, valid bool) {
		s.handleFrame(ctx, sess, frame, valid)
	})
}

func (s *Server) handleFrame(ctx context.Context, sess *Session, frame []byte, valid bool) {
	msg := protocol.NewFrameMessage(s.def, sess.ID, sess.nextSeq(), frame, valid, time.Now())
	if valid {
		text, err := textcodec.Decode(s.def.Payload(frame), s.config.Encoding)
		if err != nil {
			s.log.Debug().Err(err).Str("session", sess.ID).Msg("payload text decode failed")
		}
		msg.Text = text
	}

	sess.frames.Add(1)
	s.incr(ctx, sess.ID, store.FieldFrames, 1)
	if !valid {
		sess.invalid.Add(1)
		s.incr(ctx, sess.ID, store.FieldInvalid, 1)
	}
	observability.RecordFrame(sess.ID, s.def.Name, valid)

	s.log.Debug().
		Str("session", sess.ID).
		Uint64("seq", msg.Seq).
		Bool("valid", valid).
		Str("hex", msg.Hex).
		Msg("frame")

	s.publish(msg)
	s.hub.Broadcast(msg)

	if s.archive != nil {
		rec := store.RecordFromMessage(msg)
		if err := s.archive.Save(ctx, &rec); err != nil {
			s.log.Warn().Err(err).Str("session", sess.ID).Msg("archive save failed")
		}
	}
}

func (s *Server) publish(msg *protocol.FrameMessage) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal frame message")
		return
	}
	for _, subject := range []string{uplinkPrefix + msg.Kind(), uplinkPrefix + protocol.SubjectAll} {
		if err := s.pub.Publish(subject, data); err != nil {
			s.log.Warn().Err(err).Str("subject", subject).Msg("publish failed")
		}
	}
}

func (s *Server) incr(ctx context.Context, id, field string, n int64) {
	if err := s.store.Incr(ctx, id, field, n); err != nil {
		s.log.Debug().Err(err).Str("session", id).Str("field", field).Msg("counter update failed")
	}
}

// OutboundRequest describes bytes to send to a session. Exactly one of Hex or
// Text is used; Hex wins when both are set. Seal wraps the bytes in a
// complete frame of the configured protocol.
type OutboundRequest struct {
	Hex  string `json:"hex"`
	Text string `json:"text"`
	Seal bool   `json:"seal"`
}

// Build turns the request into wire bytes.
func (s *Server) Build(req OutboundRequest) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch {
	case req.Hex != "":
		payload, err = hexcodec.Decode(req.Hex)
	case req.Text != "":
		payload, err = textcodec.Encode(req.Text, s.config.Encoding)
	default:
		return nil, fmt.Errorf("%w: nothing to send", hexcodec.ErrInvalidFormat)
	}
	if err != nil {
		return nil, err
	}
	if req.Seal {
		return s.def.Encode(payload)
	}
	return payload, nil
}

// Send writes the request's bytes to session id and returns what was sent.
func (s *Server) Send(ctx context.Context, id string, req OutboundRequest) ([]byte, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	if sess.writer == nil {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, id)
	}
	data, err := s.Build(req)
	if err != nil {
		return nil, err
	}
	n, err := sess.Write(data)
	if n > 0 {
		observability.RecordBytes(sess.ID, observability.DirectionTx, n)
		s.incr(ctx, sess.ID, store.FieldTxBytes, int64(n))
	}
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", id, err)
	}
	s.log.Info().Str("session", id).Int("bytes", n).Msg("data sent")
	return data, nil
}

// ListenTCP opens the configured TCP listener.
func (s *Server) ListenTCP() (net.Listener, error) {
	addr := fmt.Sprintf(":%d", s.config.GatewayPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return listener, nil
}

// ServeTCP accepts connections until ctx ends.
func (s *Server) ServeTCP(ctx context.Context, listener net.Listener) error {
	s.log.Info().Str("addr", listener.Addr().String()).Msg("tcp listening")

	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn().Err(err).Msg("accept error")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	sess := s.Attach(ctx, KindTCP, conn.RemoteAddr().String(), conn)
	defer func() {
		s.Detach(context.WithoutCancel(ctx), sess)
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buffer := make([]byte, s.config.ReadBufferSize)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.SessionTTL))
		n, err := conn.Read(buffer)
		if n > 0 {
			s.Feed(ctx, sess, buffer[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("session", sess.ID).Msg("read error")
			}
			return
		}
	}
}

// ServeSource attaches src as a session and feeds it until it ends.
func (s *Server) ServeSource(ctx context.Context, kind string, src source.Source) error {
	var w io.Writer
	if sw, ok := src.(io.Writer); ok {
		w = sw
	}
	sess := s.Attach(ctx, kind, src.Name(), w)
	defer s.Detach(context.WithoutCancel(ctx), sess)

	err := src.Run(ctx, func(chunk []byte) {
		s.Feed(ctx, sess, chunk)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
