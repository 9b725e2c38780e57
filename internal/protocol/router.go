package protocol

import (
	perr "peerlink/internal/errors"
)

// DeliveryClass is the transmission guarantee a channel provides.
type DeliveryClass uint8

const (
	// Reliable channels deliver every packet in order.
	Reliable DeliveryClass = iota
	// Unreliable channels may drop or reorder packets.
	Unreliable

	numClasses
)

// Classes lists every delivery class in channel-allocation order.
var Classes = [numClasses]DeliveryClass{Reliable, Unreliable}

func (c DeliveryClass) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Classify returns the delivery class a message variant travels on.
// Anything outside the message set, pointers included, is rejected.
func Classify(m Message) (DeliveryClass, error) {
	switch m.(type) {
	case GameState:
		return Unreliable, nil
	case Chat, Ping, Pong, Heartbeat, ReconnectRequest, ReconnectResponse:
		return Reliable, nil
	default:
		return numClasses, perr.UnknownMessage(m)
	}
}

// Router maps messages to the channel indices of one transport
// socket.  Indices are allocated to enabled classes in the order of
// [Classes].
type Router struct {
	index   [numClasses]int
	enabled []DeliveryClass
}

// NewRouter builds a router for the given per-class enable flags.
func NewRouter(reliable, unreliable bool) *Router {
	r := &Router{}
	on := [numClasses]bool{Reliable: reliable, Unreliable: unreliable}
	for _, c := range Classes {
		if !on[c] {
			r.index[c] = -1
			continue
		}
		r.index[c] = len(r.enabled)
		r.enabled = append(r.enabled, c)
	}
	return r
}

// Channels returns the enabled classes; position i is channel i.
func (r *Router) Channels() []DeliveryClass {
	out := make([]DeliveryClass, len(r.enabled))
	copy(out, r.enabled)
	return out
}

// Channel returns the index for class c, or ErrChannelUnavailable if
// c was disabled.  It never substitutes another class.
func (r *Router) Channel(c DeliveryClass) (int, error) {
	if c >= numClasses || r.index[c] < 0 {
		return -1, perr.Unavailable(c.String())
	}
	return r.index[c], nil
}

// Route returns the channel index m must be sent on.
func (r *Router) Route(m Message) (int, error) {
	c, err := Classify(m)
	if err != nil {
		return -1, err
	}
	return r.Channel(c)
}
