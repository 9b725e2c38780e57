// Package transport provides the multi-channel sockets a session runs
// over.  A transport handles the "how" of reaching the other peers in
// a room (a websocket relay, optionally through an SSH jump host, or
// an in-process hub for tests) independent of what the session sends.
package transport

import (
	"context"

	"peerlink/internal/protocol"
)

// Dialer opens sockets to a room.
type Dialer interface {
	// Dial joins the room at address with one channel per class, in
	// the given order.  Channel i of the returned socket carries
	// classes[i].
	Dial(ctx context.Context, address string, classes []protocol.DeliveryClass) (Socket, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// Socket is one membership in a room.  A socket is owned by exactly
// one goroutine; only Events may be read from elsewhere.
type Socket interface {
	// ID is the identifier the room assigned to this socket.
	ID() string

	// Channels lists the delivery class of every channel.
	Channels() []protocol.DeliveryClass

	// Send broadcasts data to every peer on the given channel.  Peers
	// that did not open a channel of the same class are skipped.
	Send(channel int, data []byte) error

	// Events delivers peer changes and inbound packets.  The channel
	// is never closed; an EventClosed is delivered when the socket
	// fails, but not after Close.
	Events() <-chan Event

	// Close leaves the room.  It is safe to call more than once.
	Close() error
}

// EventKind identifies what a socket observed.
type EventKind uint8

const (
	EventPeerConnected EventKind = iota + 1
	EventPeerDisconnected
	EventPacket
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventPeerConnected:
		return "peer-connected"
	case EventPeerDisconnected:
		return "peer-disconnected"
	case EventPacket:
		return "packet"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one observation from a socket.
type Event struct {
	Kind    EventKind
	Peer    string // sender for packets, subject for peer changes
	Channel int    // receiving channel index for packets
	Data    []byte // packet payload
	Err     error  // reason for EventClosed
}

// classIndex returns the position of c in classes, or -1.
func classIndex(classes []protocol.DeliveryClass, c protocol.DeliveryClass) int {
	for i, have := range classes {
		if have == c {
			return i
		}
	}
	return -1
}
