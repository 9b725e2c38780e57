package transport

import (
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"

	"peerlink/internal/protocol"
)

// FrameKind identifies a relay frame.
type FrameKind uint8

const (
	// FrameHello is the first frame a client sends, listing its
	// channel classes.
	FrameHello FrameKind = iota + 1
	// FrameWelcome answers Hello with the assigned peer id.
	FrameWelcome
	// FramePeerJoined and FramePeerLeft announce room membership.
	FramePeerJoined
	FramePeerLeft
	// FrameData carries one packet.  From a client Peer is empty; the
	// relay fills in the sender and rewrites Channel to the receiver's
	// index for the same class.
	FrameData
)

func (k FrameKind) String() string {
	switch k {
	case FrameHello:
		return "hello"
	case FrameWelcome:
		return "welcome"
	case FramePeerJoined:
		return "peer-joined"
	case FramePeerLeft:
		return "peer-left"
	case FrameData:
		return "data"
	default:
		return fmt.Sprintf("frame(%d)", uint8(k))
	}
}

// Frame is the unit exchanged with the relay, one per binary
// websocket message.
type Frame struct {
	Kind    FrameKind `cbor:"1,keyasint"`
	Peer    string    `cbor:"2,keyasint,omitempty"`
	Channel int       `cbor:"3,keyasint,omitempty"`
	Data    []byte    `cbor:"4,keyasint,omitempty"`
	Classes []int     `cbor:"5,keyasint,omitempty"`
}

var (
	frameEnc cbor.EncMode
	frameDec cbor.DecMode
)

func init() {
	var err error
	if frameEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if frameDec, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(err)
	}
}

// EncodeFrame returns the wire bytes for f.
func EncodeFrame(f Frame) ([]byte, error) {
	return frameEnc.Marshal(f)
}

// DecodeFrame parses one relay frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := frameDec.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Kind < FrameHello || f.Kind > FrameData {
		return Frame{}, fmt.Errorf("decode frame: unknown kind %d", f.Kind)
	}
	return f, nil
}

// ClassesToWire converts delivery classes for a Hello frame.
func ClassesToWire(classes []protocol.DeliveryClass) []int {
	out := make([]int, len(classes))
	for i, c := range classes {
		out[i] = int(c)
	}
	return out
}

// ClassesFromWire validates and converts the classes of a Hello frame.
// A class may appear at most once.
func ClassesFromWire(raw []int) ([]protocol.DeliveryClass, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no channels requested")
	}
	out := make([]protocol.DeliveryClass, 0, len(raw))
	for _, v := range raw {
		if v < 0 || v >= len(protocol.Classes) {
			return nil, fmt.Errorf("unknown delivery class %d", v)
		}
		c := protocol.DeliveryClass(v)
		if classIndex(out, c) >= 0 {
			return nil, fmt.Errorf("duplicate %s channel", c)
		}
		out = append(out, c)
	}
	return out, nil
}

// TranslateChannel maps a channel index on the sender's socket to the
// index of the same class on the receiver's socket.  It returns -1
// when the receiver has no such channel.
func TranslateChannel(from []protocol.DeliveryClass, channel int, to []protocol.DeliveryClass) int {
	if channel < 0 || channel >= len(from) {
		return -1
	}
	return classIndex(to, from[channel])
}
