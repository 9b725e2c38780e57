package core

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlink/config"
	"peerlink/internal/metrics"
	"peerlink/internal/protocol"
	"peerlink/internal/session"
	"peerlink/internal/transport"
	"peerlink/relay"
	"peerlink/util"
)

const testRoom = "ws://relay.test/game_room"

// syncBuffer is a bytes.Buffer safe to read while a console writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func clientConfig(room string) config.Config {
	cfg := config.Default().Clone()
	cfg.RoomAddress = room
	cfg.PlayerName = "tester"
	cfg.FrameInterval = 5 * time.Millisecond
	return cfg
}

// packets collects decoded non-heartbeat packets from s until n have
// arrived or the deadline passes.
func packets(t *testing.T, s transport.Socket, n int) []protocol.Message {
	t.Helper()
	codec, err := protocol.NewCodec(0)
	require.NoError(t, err)

	var out []protocol.Message
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case ev := <-s.Events():
			if ev.Kind != transport.EventPacket {
				continue
			}
			msg, err := codec.Decode(ev.Data)
			require.NoError(t, err)
			if _, hb := msg.(protocol.Heartbeat); hb {
				continue
			}
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("got %d of %d packets", len(out), n)
		}
	}
	return out
}

// TestClientMode_Console drives the console with scripted input and
// checks what the rest of the room receives.
func TestClientMode_Console(t *testing.T) {
	hub := transport.NewHub()
	obs, err := hub.Dialer().Dial(context.Background(), testRoom,
		[]protocol.DeliveryClass{protocol.Reliable, protocol.Unreliable})
	require.NoError(t, err)
	defer obs.Close()

	var out bytes.Buffer
	mode := &ClientMode{
		Config:  clientConfig(testRoom),
		Dialer:  hub.Dialer(),
		Logger:  util.Nop(),
		Metrics: metrics.New(),
		Stdin: strings.NewReader(strings.Join([]string{
			"hello room",
			"/move 1.5 -2",
			"/move nope 1",
			"/bogus",
			"/stats",
			"/quit",
			"never sent",
		}, "\n")),
		Stdout: &out,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mode.Run(ctx))

	got := packets(t, obs, 2)
	assert.Equal(t, protocol.Chat{Text: "hello room"}, got[0])
	gs, ok := got[1].(protocol.GameState)
	require.True(t, ok, "expected GameState, got %T", got[1])
	assert.Equal(t, "tester", gs.PlayerID)
	assert.Equal(t, protocol.Position{X: 1.5, Y: -2}, gs.Position)
	assert.Equal(t, uint32(1), gs.Sequence)

	text := out.String()
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "error: x:")
	assert.Contains(t, text, `"packets_out"`)
	assert.NotContains(t, text, "never sent")

	// The session left the room on exit.
	assert.Equal(t, []string{obs.ID()}, hub.Peers(testRoom))
}

// TestClientMode_ConnectFailureKeepsRunning verifies a failed initial
// connect is reported rather than fatal.
func TestClientMode_ConnectFailureKeepsRunning(t *testing.T) {
	hub := transport.NewHub()
	hub.FailNextDials(-1, nil)

	var out bytes.Buffer
	mode := &ClientMode{
		Config: clientConfig(testRoom),
		Dialer: hub.Dialer(),
		Stdin:  strings.NewReader("hi\n"),
		Stdout: &out,
	}
	require.NoError(t, mode.Run(context.Background()))

	assert.Contains(t, out.String(), "connect failed")
	assert.Contains(t, out.String(), "error: not connected")
}

// TestClientMode_OverRelay runs two consoles through a real websocket
// relay.
func TestClientMode_OverRelay(t *testing.T) {
	srv := httptest.NewServer(relay.New(relay.DefaultOptions(), util.Nop(), nil))
	defer srv.Close()
	room := "ws" + strings.TrimPrefix(srv.URL, "http") + "/lobby"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The listener stays connected until its input is closed.
	r, w := io.Pipe()
	var listenerOut syncBuffer
	listener := &ClientMode{
		Config: clientConfig(room),
		Dialer: transport.NewWSDialer(nil, time.Second, nil),
		Stdin:  r,
		Stdout: &listenerOut,
	}
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(listenerOut.String(), "connected as")
	}, 3*time.Second, 10*time.Millisecond)

	speaker := &ClientMode{
		Config: clientConfig(room),
		Dialer: transport.NewWSDialer(nil, time.Second, nil),
		Stdin:  strings.NewReader("hello over the wire\n"),
		Stdout: &bytes.Buffer{},
	}
	require.NoError(t, speaker.Run(ctx))

	require.Eventually(t, func() bool {
		return strings.Contains(listenerOut.String(), "hello over the wire")
	}, 3*time.Second, 10*time.Millisecond)

	w.Close()
	require.NoError(t, <-done)
}

func TestReadLines_StopsWhenAbandoned(t *testing.T) {
	out := make(chan string)
	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		readLines(strings.NewReader("one\ntwo\nthree\n"), out, quit)
	}()

	assert.Equal(t, "one", <-out)
	close(quit)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after quit")
	}
	_, open := <-out
	assert.False(t, open)
}

func TestReadLines_ClosesAtEOF(t *testing.T) {
	out := make(chan string)
	go readLines(strings.NewReader("a\nb"), out, make(chan struct{}))

	var got []string
	for line := range out {
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestUnseen(t *testing.T) {
	a := session.Entry{Peer: "p", Text: "a"}
	b := session.Entry{Peer: "p", Text: "b"}
	c := session.Entry{Peer: "p", Text: "c"}
	log := []session.Entry{a, b, c}

	assert.Equal(t, log, unseen(log, session.Entry{}, false))
	assert.Equal(t, []session.Entry{c}, unseen(log, b, true))
	assert.Empty(t, unseen(log, c, true))
	assert.Equal(t, log, unseen(log, session.Entry{Text: "evicted"}, true))
}

func TestRender_SkipsContendedFrame(t *testing.T) {
	var out bytes.Buffer
	m := &ClientMode{Stdout: &out}

	m.render(session.State{})
	assert.Empty(t, out.String())

	m.render(session.State{
		Phase:    session.Connected,
		LocalID:  "0123456789",
		Peers:    []session.Peer{{ID: "other"}},
		Messages: []session.Entry{{Peer: "0123456789", Text: "mine"}, {Peer: "other", Text: "theirs"}},
	})
	assert.Equal(t, "* connected as 01234567\n* 1 peer(s) in room\n<you> mine\n<other> theirs\n", out.String())
}
