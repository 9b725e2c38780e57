package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "peerlink/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  Message
		want DeliveryClass
	}{
		{Chat{Text: "hi"}, Reliable},
		{GameState{}, Unreliable},
		{Ping{}, Reliable},
		{Pong{}, Reliable},
		{Heartbeat{}, Reliable},
		{ReconnectRequest{}, Reliable},
		{ReconnectResponse{}, Reliable},
	}
	for _, tt := range tests {
		t.Run(tt.msg.Kind().String(), func(t *testing.T) {
			got, err := Classify(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_RejectsPointers(t *testing.T) {
	for _, m := range []Message{&Chat{Text: "hi"}, &GameState{}, &Heartbeat{}} {
		_, err := Classify(m)
		assert.ErrorIs(t, err, perr.ErrUnknownMessage, "%T", m)
	}
}

func TestRouter_BothEnabled(t *testing.T) {
	r := NewRouter(true, true)
	assert.Equal(t, []DeliveryClass{Reliable, Unreliable}, r.Channels())

	ch, err := r.Route(Chat{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, ch)

	ch, err = r.Route(GameState{Sequence: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, ch)

	ch, err = r.Route(Heartbeat{})
	require.NoError(t, err)
	assert.Equal(t, 0, ch)
}

func TestRouter_UnreliableDisabled(t *testing.T) {
	r := NewRouter(true, false)
	assert.Equal(t, []DeliveryClass{Reliable}, r.Channels())

	_, err := r.Route(GameState{})
	require.ErrorIs(t, err, perr.ErrChannelUnavailable)

	ch, err := r.Route(Chat{})
	require.NoError(t, err)
	assert.Equal(t, 0, ch)
}

func TestRouter_ReliableDisabled(t *testing.T) {
	r := NewRouter(false, true)

	ch, err := r.Route(GameState{})
	require.NoError(t, err)
	assert.Equal(t, 0, ch, "unreliable takes index 0 when it is the only channel")

	for _, m := range []Message{Chat{}, Ping{}, Heartbeat{}} {
		_, err := r.Route(m)
		assert.ErrorIs(t, err, perr.ErrChannelUnavailable, "%s must not fall back", m.Kind())
	}
}

func TestRouter_PointerDoesNotFallBack(t *testing.T) {
	r := NewRouter(true, false)

	ch, err := r.Route(&GameState{})
	require.ErrorIs(t, err, perr.ErrUnknownMessage)
	assert.Equal(t, -1, ch)

	_, err = r.Route(&Chat{Text: "hi"})
	require.ErrorIs(t, err, perr.ErrUnknownMessage)
}

func TestRouter_ChannelsIsCopy(t *testing.T) {
	r := NewRouter(true, true)
	chans := r.Channels()
	chans[0] = Unreliable

	ch, err := r.Route(Chat{})
	require.NoError(t, err)
	assert.Equal(t, 0, ch)
	assert.Equal(t, Reliable, r.Channels()[0])
}
