package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "peerlink/internal/errors"
	"peerlink/internal/protocol"
)

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{Reconnecting, "reconnecting"},
		{Errored, "error"},
		{Exhausted, "exhausted"},
		{Phase(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.phase.String())
	}
}

func TestStore_BeginReconnect(t *testing.T) {
	tests := []struct {
		name         string
		phase        Phase
		attempts     int
		ceiling      int
		wantOutcome  reconnectOutcome
		wantAttempts int
		wantPhase    Phase
	}{
		{"connected is left alone", Connected, 0, 3, reconnectNone, 0, Connected},
		{"disconnected is left alone", Disconnected, 0, 3, reconnectNone, 0, Disconnected},
		{"reconnecting is left alone", Reconnecting, 1, 3, reconnectNone, 1, Reconnecting},
		{"errored with budget", Errored, 0, 3, reconnectStarted, 1, Reconnecting},
		{"errored at last attempt", Errored, 2, 3, reconnectStarted, 3, Reconnecting},
		{"errored at ceiling", Errored, 3, 3, reconnectExhausted, 3, Exhausted},
		{"zero ceiling", Errored, 0, 0, reconnectExhausted, 0, Exhausted},
		{"exhausted stays", Exhausted, 3, 3, reconnectNone, 3, Exhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(0)
			s.phase = tt.phase
			s.attempts = tt.attempts

			attempts, outcome := s.beginReconnect(tt.ceiling)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantPhase, s.phase)
			assert.LessOrEqual(t, s.attempts, tt.ceiling)
		})
	}
}

func TestStore_ExhaustedReason(t *testing.T) {
	s := newStore(0)
	s.failed("dial refused")
	s.attempts = 1
	s.beginReconnect(1)
	assert.Equal(t, "dial refused; "+perr.ErrReconnectExhausted.Error(), s.reason)

	s = newStore(0)
	s.phase = Errored
	s.beginReconnect(0)
	assert.Equal(t, perr.ErrReconnectExhausted.Error(), s.reason)
}

func TestStore_BeginConnect(t *testing.T) {
	s := newStore(0)
	s.phase = Reconnecting
	s.attempts = 2

	require.NoError(t, s.beginConnect(false))
	assert.Equal(t, Connecting, s.phase)
	assert.Equal(t, 2, s.attempts)

	assert.ErrorIs(t, s.beginConnect(true), perr.ErrAlreadyConnected)

	s.phase = Exhausted
	require.NoError(t, s.beginConnect(true))
	assert.Equal(t, 0, s.attempts)
}

func TestStore_HeartbeatOnlyWhileConnected(t *testing.T) {
	s := newStore(0)
	now := time.Unix(100, 0)
	assert.False(t, s.heartbeat(now))
	assert.True(t, s.lastHeartbeat.IsZero())

	s.connected("me")
	assert.True(t, s.heartbeat(now))
	assert.Equal(t, now, s.lastHeartbeat)
}

func TestStore_PeersSortedByJoin(t *testing.T) {
	s := newStore(0)
	s.connected("me")
	base := time.Unix(100, 0)
	s.peerJoined("c", base.Add(2*time.Second))
	s.peerJoined("b", base)
	s.peerJoined("a", base)
	s.peerJoined("a", base.Add(time.Hour))

	st, ok := s.snapshot()
	require.True(t, ok)
	ids := make([]string, len(st.Peers))
	for i, p := range st.Peers {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	s.failed("gone")
	st, _ = s.snapshot()
	assert.Empty(t, st.Peers)
}

func TestStore_GaveUpSkipsBudget(t *testing.T) {
	s := newStore(0)
	s.peerJoined("a", time.Unix(1, 0))
	s.gaveUp("bad address")

	st, ok := s.snapshot()
	require.True(t, ok)
	assert.Equal(t, Exhausted, st.Phase)
	assert.Equal(t, "bad address", st.Reason)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Empty(t, st.Peers)

	_, outcome := s.beginReconnect(5)
	assert.Equal(t, reconnectNone, outcome)
}

func TestStore_PongWithoutPingIgnored(t *testing.T) {
	s := newStore(0)
	s.received("p", protocol.Pong{}, 3, time.Unix(1, 0))
	assert.Nil(t, s.stats.LastRoundTrip)

	s.sent(protocol.Ping{}, 3, time.Unix(10, 0))
	s.received("p", protocol.Pong{}, 3, time.Unix(10, int64(40*time.Millisecond)))
	require.NotNil(t, s.stats.LastRoundTrip)
	assert.Equal(t, 40*time.Millisecond, *s.stats.LastRoundTrip)
	assert.Equal(t, uint64(6), s.stats.BytesReceived)
}

func TestHistory_Ring(t *testing.T) {
	h := newHistory(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		h.add(Entry{Text: text})
	}
	assert.Equal(t, 3, h.len())
	assert.Equal(t, []string{"c", "d", "e"}, texts(h.entries()))

	h.resize(2)
	assert.Equal(t, []string{"d", "e"}, texts(h.entries()))
	h.add(Entry{Text: "f"})
	assert.Equal(t, []string{"e", "f"}, texts(h.entries()))

	h.resize(0)
	for _, text := range []string{"g", "h", "i"} {
		h.add(Entry{Text: text})
	}
	assert.Equal(t, []string{"e", "f", "g", "h", "i"}, texts(h.entries()))
}

func TestHistory_EntriesIsACopy(t *testing.T) {
	h := newHistory(0)
	h.add(Entry{Text: "a"})
	out := h.entries()
	out[0].Text = "changed"
	assert.Equal(t, "a", h.entries()[0].Text)
}

func texts(es []Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Text
	}
	return out
}

func TestQueue_FIFO(t *testing.T) {
	q := newQueue()
	require.True(t, q.push(Connect{Address: "one"}))
	require.True(t, q.push(Connect{Address: "two"}))

	<-q.ready()
	c, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "one", c.(Connect).Address)

	// The signal is re-armed while commands remain.
	select {
	case <-q.ready():
	case <-time.After(time.Second):
		t.Fatal("queue not re-armed")
	}
	c, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "two", c.(Connect).Address)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestQueue_CloseReturnsPending(t *testing.T) {
	q := newQueue()
	q.push(Disconnect{})
	q.push(Disconnect{})

	rest := q.close()
	assert.Len(t, rest, 2)
	assert.False(t, q.push(Disconnect{}))
}

func TestReply_NonBlocking(t *testing.T) {
	ch := make(chan error, 1)
	cmd := Disconnect{}.withReply(ch)
	reply(cmd, perr.ErrNotConnected)
	reply(cmd, perr.ErrNotConnected)
	assert.ErrorIs(t, <-ch, perr.ErrNotConnected)

	reply(Disconnect{}, nil)
}
