package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"framegate/internal/config"
	"framegate/internal/hexcodec"
	"framegate/internal/protocol"
	"framegate/internal/source"
	"framegate/internal/store"
	"framegate/internal/textcodec"
)

type published struct {
	subject string
	msg     protocol.FrameMessage
}

type fakePublisher struct {
	mu     sync.Mutex
	out    []published
	notify chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{notify: make(chan struct{}, 1024)}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	var msg protocol.FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	p.mu.Lock()
	p.out = append(p.out, published{subject: subject, msg: msg})
	p.mu.Unlock()
	p.notify <- struct{}{}
	return nil
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.out...)
}

// wait blocks until n more publications have happened.
func (p *fakePublisher) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.notify:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for publication %d of %d", i+1, n)
		}
	}
}

type fakeArchive struct {
	mu      sync.Mutex
	records []store.FrameRecord
}

func (a *fakeArchive) Save(_ context.Context, rec *store.FrameRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec.ID = uint(len(a.records) + 1)
	a.records = append(a.records, *rec)
	return nil
}

func (a *fakeArchive) Recent(_ context.Context, session string, limit int) ([]store.FrameRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []store.FrameRecord
	for i := len(a.records) - 1; i >= 0 && len(out) < limit; i-- {
		if session == "" || a.records[i].Session == session {
			out = append(out, a.records[i])
		}
	}
	return out, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.GatewayID = "node-01"
	cfg.Protocol = "sample"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakePublisher, *store.MemorySessions) {
	t.Helper()
	pub := newFakePublisher()
	st := store.NewMemorySessions()
	s, err := New(cfg, WithPublisher(pub), WithStore(st))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, pub, st
}

func sampleFrame(t *testing.T, payload ...byte) []byte {
	t.Helper()
	d, _ := protocol.Lookup("sample")
	f, err := d.Encode(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return f
}

func TestNewRejectsUnknownProtocolAndEncoding(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol = "modbus"
	if _, err := New(cfg); !errors.Is(err, protocol.ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
	cfg = testConfig()
	cfg.Encoding = "klingon"
	if _, err := New(cfg); !errors.Is(err, textcodec.ErrUnknownEncoding) {
		t.Fatalf("expected ErrUnknownEncoding, got %v", err)
	}
}

func TestFeedPublishesInOrder(t *testing.T) {
	s, pub, st := newTestServer(t, testConfig())
	ctx := context.Background()
	sess := s.Attach(ctx, KindReplay, "capture", nil)
	if sess.ID != "node-01-replay-1" || !st.Registered(sess.ID) {
		t.Fatalf("unexpected session %s", sess.ID)
	}

	bad := sampleFrame(t, 0x02)
	bad[len(bad)-1] ^= 0x01
	var stream []byte
	stream = append(stream, 0xEE) // noise before the first header
	stream = append(stream, sampleFrame(t, 0x01)...)
	stream = append(stream, bad...)
	stream = append(stream, sampleFrame(t, 0x03)...)

	for i := 0; i < len(stream); i += 4 {
		end := min(i+4, len(stream))
		s.Feed(ctx, sess, stream[i:end])
	}

	out := pub.snapshot()
	if len(out) != 6 {
		t.Fatalf("expected 6 publications, got %d", len(out))
	}
	wantSubjects := []string{
		"framegate.uplink.valid", "framegate.uplink.all",
		"framegate.uplink.invalid", "framegate.uplink.all",
		"framegate.uplink.valid", "framegate.uplink.all",
	}
	for i, p := range out {
		if p.subject != wantSubjects[i] {
			t.Fatalf("publication %d on %s, want %s", i, p.subject, wantSubjects[i])
		}
		if p.msg.Seq != uint64(i/2+1) || p.msg.Session != sess.ID {
			t.Fatalf("publication %d has seq %d session %s", i, p.msg.Seq, p.msg.Session)
		}
	}

	stats, err := st.Stats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Frames != 3 || stats.Invalid != 1 || stats.RxBytes != int64(len(stream)) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	view := sess.View()
	if view.Frames != 3 || view.Invalid != 1 || view.Writable {
		t.Fatalf("unexpected view %+v", view)
	}

	s.Detach(ctx, sess)
	if st.Registered(sess.ID) || len(s.Sessions()) != 0 {
		t.Fatalf("expected session detached")
	}
}

// sessionSeries counts exported frame and byte series whose session label
// starts with prefix.
func sessionSeries(t *testing.T, prefix string) int {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	n := 0
	for _, mf := range families {
		if name := mf.GetName(); name != "framegate_frames_total" && name != "framegate_bytes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "session" && strings.HasPrefix(lp.GetValue(), prefix) {
					n++
				}
			}
		}
	}
	return n
}

func TestDetachDropsSessionSeries(t *testing.T) {
	cfg := testConfig()
	cfg.GatewayID = "churn"
	s, pub, _ := newTestServer(t, cfg)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		sess := s.Attach(ctx, KindTCP, "10.0.0.1:5000", nil)
		s.Feed(ctx, sess, sampleFrame(t, 0x01))
		pub.wait(t, 2)
		if sessionSeries(t, "churn-") == 0 {
			t.Fatalf("round %d: no series while attached", i)
		}
		s.Detach(ctx, sess)
	}
	if n := sessionSeries(t, "churn-"); n != 0 {
		t.Fatalf("expected no series for detached sessions, got %d", n)
	}
}

func TestFeedDecodesTextAndArchives(t *testing.T) {
	arch := &fakeArchive{}
	pub := newFakePublisher()
	s, err := New(testConfig(), WithPublisher(pub), WithArchive(arch))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx := context.Background()
	sess := s.Attach(ctx, KindReplay, "capture", nil)
	s.Feed(ctx, sess, sampleFrame(t, 0xC4, 0xE3, 0xBA, 0xC3))

	out := pub.snapshot()
	if len(out) != 2 || out[0].msg.Text != "你好" {
		t.Fatalf("expected decoded text, got %+v", out)
	}
	if len(arch.records) != 1 || arch.records[0].Text != "你好" || !arch.records[0].Valid {
		t.Fatalf("unexpected archive %+v", arch.records)
	}
}

func TestSendSealsAndWrites(t *testing.T) {
	s, _, st := newTestServer(t, testConfig())
	ctx := context.Background()
	var wire bytes.Buffer
	sess := s.Attach(ctx, KindSerial, "ttyUSB0", &wire)

	sent, err := s.Send(ctx, sess.ID, OutboundRequest{Hex: "AB CD", Seal: true})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	want := sampleFrame(t, 0xAB, 0xCD)
	if !bytes.Equal(sent, want) || !bytes.Equal(wire.Bytes(), want) {
		t.Fatalf("sent % X, wire % X, want % X", sent, wire.Bytes(), want)
	}

	wire.Reset()
	if _, err := s.Send(ctx, sess.ID, OutboundRequest{Text: "你好"}); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if !bytes.Equal(wire.Bytes(), []byte{0xC4, 0xE3, 0xBA, 0xC3}) {
		t.Fatalf("unexpected text bytes % X", wire.Bytes())
	}

	stats, _ := st.Stats(ctx, sess.ID)
	if stats.TxBytes != int64(len(want)+4) {
		t.Fatalf("unexpected tx bytes %d", stats.TxBytes)
	}
}

func TestSendErrors(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())
	ctx := context.Background()
	ro := s.Attach(ctx, KindReplay, "capture", nil)
	rw := s.Attach(ctx, KindSerial, "tty", &bytes.Buffer{})

	if _, err := s.Send(ctx, "nope", OutboundRequest{Hex: "00"}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if _, err := s.Send(ctx, ro.ID, OutboundRequest{Hex: "00"}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if _, err := s.Send(ctx, rw.ID, OutboundRequest{Hex: "0G"}); !errors.Is(err, hexcodec.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := s.Send(ctx, rw.ID, OutboundRequest{}); !errors.Is(err, hexcodec.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat for empty request, got %v", err)
	}
}

func TestServeTCP(t *testing.T) {
	s, pub, _ := newTestServer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.ServeTCP(ctx, listener) }()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := sampleFrame(t, 0xAB, 0xCD)
	conn.Write(frame[:3])
	time.Sleep(20 * time.Millisecond)
	conn.Write(frame[3:])
	pub.wait(t, 2)

	out := pub.snapshot()
	if !out[0].msg.Valid || out[0].msg.PayloadHex != "AB CD" {
		t.Fatalf("unexpected message %+v", out[0].msg)
	}

	sessions := s.Sessions()
	if len(sessions) != 1 || sessions[0].Kind != KindTCP || !sessions[0].Writable {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
	if _, err := s.Send(ctx, sessions[0].ID, OutboundRequest{Hex: "01 02 03"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply := make([]byte, 3)
	if _, err := conn.Read(reply); err != nil || !bytes.Equal(reply, []byte{1, 2, 3}) {
		t.Fatalf("unexpected reply % X: %v", reply, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
	if len(s.Sessions()) != 0 {
		t.Fatalf("expected sessions detached on shutdown")
	}
}

func TestServeSourceReplay(t *testing.T) {
	s, pub, _ := newTestServer(t, testConfig())
	var capture []byte
	for i := 0; i < 5; i++ {
		capture = append(capture, sampleFrame(t, byte(i), 0x7F)...)
	}
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, capture, 0o600); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	err := s.ServeSource(context.Background(), KindReplay, source.NewFile(path, 5, time.Millisecond))
	if err != nil {
		t.Fatalf("serve source: %v", err)
	}
	out := pub.snapshot()
	if len(out) != 10 {
		t.Fatalf("expected 10 publications, got %d", len(out))
	}
	for i := 0; i < 5; i++ {
		if !out[2*i].msg.Valid || out[2*i].msg.Seq != uint64(i+1) {
			t.Fatalf("frame %d: %+v", i, out[2*i].msg)
		}
	}
	if len(s.Sessions()) != 0 {
		t.Fatalf("replay session must detach at end of file")
	}
}

func TestHandleDownlink(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig())
	ctx := context.Background()
	var wire bytes.Buffer
	sess := s.Attach(ctx, KindSerial, "tty", &wire)

	if s.DownlinkSubject() != "framegate.downlink.node-01" {
		t.Fatalf("unexpected subject %s", s.DownlinkSubject())
	}
	cmd, _ := json.Marshal(DownlinkCommand{Session: sess.ID, OutboundRequest: OutboundRequest{Hex: "AB CD", Seal: true}})
	if err := s.handleDownlink(ctx, cmd); err != nil {
		t.Fatalf("downlink: %v", err)
	}
	if !bytes.Equal(wire.Bytes(), sampleFrame(t, 0xAB, 0xCD)) {
		t.Fatalf("unexpected wire % X", wire.Bytes())
	}
	if err := s.handleDownlink(ctx, []byte("{")); err == nil {
		t.Fatalf("expected unmarshal error")
	}
	cmd, _ = json.Marshal(DownlinkCommand{Session: "gone", OutboundRequest: OutboundRequest{Hex: "00"}})
	if err := s.handleDownlink(ctx, cmd); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}
