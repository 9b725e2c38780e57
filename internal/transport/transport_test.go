package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "peerlink/internal/errors"
	"peerlink/internal/protocol"
)

var both = []protocol.DeliveryClass{protocol.Reliable, protocol.Unreliable}

func next(t *testing.T, s Socket) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNone(t *testing.T, s Socket) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected %s event", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// ── frames ───────────────────────────────────────────────────────────

func TestFrame_RoundTrip(t *testing.T) {
	in := Frame{Kind: FrameData, Peer: "p1", Channel: 1, Data: []byte{0, 1, 2}}
	b, err := EncodeFrame(in)
	require.NoError(t, err)

	out, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFrame_HelloClasses(t *testing.T) {
	b, err := EncodeFrame(Frame{Kind: FrameHello, Classes: ClassesToWire(both)})
	require.NoError(t, err)

	f, err := DecodeFrame(b)
	require.NoError(t, err)
	classes, err := ClassesFromWire(f.Classes)
	require.NoError(t, err)
	assert.Equal(t, both, classes)
}

func TestDecodeFrame_Rejects(t *testing.T) {
	unknown, err := EncodeFrame(Frame{Kind: 99})
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"garbage":      {0xff, 0x00},
		"empty":        {},
		"unknown kind": unknown,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame(data)
			assert.Error(t, err)
		})
	}
}

func TestClassesFromWire_Invalid(t *testing.T) {
	for name, raw := range map[string][]int{
		"empty":     nil,
		"negative":  {-1},
		"unknown":   {5},
		"duplicate": {0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ClassesFromWire(raw)
			assert.Error(t, err)
		})
	}
}

func TestTranslateChannel(t *testing.T) {
	onlyUnreliable := []protocol.DeliveryClass{protocol.Unreliable}

	assert.Equal(t, 0, TranslateChannel(both, 1, onlyUnreliable))
	assert.Equal(t, -1, TranslateChannel(both, 0, onlyUnreliable))
	assert.Equal(t, 1, TranslateChannel(onlyUnreliable, 0, both))
	assert.Equal(t, -1, TranslateChannel(both, 5, both))
}

// ── in-memory hub ────────────────────────────────────────────────────

func TestHub_PeersSeeEachOther(t *testing.T) {
	h := NewHub()
	d := h.Dialer()
	ctx := context.Background()

	a, err := d.Dial(ctx, "room", both)
	require.NoError(t, err)
	b, err := d.Dial(ctx, "room", both)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	ev := next(t, a)
	assert.Equal(t, EventPeerConnected, ev.Kind)
	assert.Equal(t, b.ID(), ev.Peer)

	ev = next(t, b)
	assert.Equal(t, EventPeerConnected, ev.Kind)
	assert.Equal(t, a.ID(), ev.Peer)

	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, h.Peers("room"))
	assert.Equal(t, 2, h.Dials())
}

func TestHub_SendTranslatesChannels(t *testing.T) {
	h := NewHub()
	ctx := context.Background()
	a, _ := h.Dialer().Dial(ctx, "room", both)
	b, _ := h.Dialer().Dial(ctx, "room", []protocol.DeliveryClass{protocol.Unreliable})
	next(t, a)
	next(t, b)

	require.NoError(t, a.Send(0, []byte("chat")))
	expectNone(t, b)

	require.NoError(t, a.Send(1, []byte("state")))
	ev := next(t, b)
	assert.Equal(t, EventPacket, ev.Kind)
	assert.Equal(t, a.ID(), ev.Peer)
	assert.Equal(t, 0, ev.Channel)
	assert.Equal(t, []byte("state"), ev.Data)

	assert.ErrorIs(t, a.Send(2, nil), perr.ErrChannelUnavailable)
}

func TestHub_CloseAnnouncesDeparture(t *testing.T) {
	h := NewHub()
	ctx := context.Background()
	a, _ := h.Dialer().Dial(ctx, "room", both)
	b, _ := h.Dialer().Dial(ctx, "room", both)
	next(t, a)
	next(t, b)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	ev := next(t, a)
	assert.Equal(t, EventPeerDisconnected, ev.Kind)
	assert.Equal(t, b.ID(), ev.Peer)
	assert.ErrorIs(t, b.Send(0, nil), perr.ErrTransportClosed)

	// Our own Close produces no event.
	expectNone(t, b)
}

func TestHub_FailNextDials(t *testing.T) {
	h := NewHub()
	boom := errors.New("boom")
	h.FailNextDials(2, boom)

	for i := 0; i < 2; i++ {
		_, err := h.Dialer().Dial(context.Background(), "room", both)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.True(t, perr.IsRetryable(err))
	}
	s, err := h.Dialer().Dial(context.Background(), "room", both)
	require.NoError(t, err)
	s.Close()
	assert.Equal(t, 3, h.Dials())

	h.FailNextDials(-1, nil)
	for i := 0; i < 3; i++ {
		_, err := h.Dialer().Dial(context.Background(), "room", both)
		assert.Error(t, err)
	}
}

func TestHub_Drop(t *testing.T) {
	h := NewHub()
	ctx := context.Background()
	a, _ := h.Dialer().Dial(ctx, "room", both)
	b, _ := h.Dialer().Dial(ctx, "room", both)
	next(t, a)
	next(t, b)

	lost := errors.New("link lost")
	require.True(t, h.Drop("room", b.ID(), lost))
	assert.False(t, h.Drop("room", b.ID(), lost))

	ev := next(t, b)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.ErrorIs(t, ev.Err, lost)

	ev = next(t, a)
	assert.Equal(t, EventPeerDisconnected, ev.Kind)
	assert.NoError(t, b.Close())
}

func TestHub_CancelledDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHub().Dialer().Dial(ctx, "room", both)
	assert.ErrorIs(t, err, context.Canceled)
}
