// Package protocol defines the typed messages exchanged between
// session peers, their wire encoding, and the mapping from message
// variant to delivery class.
package protocol

// Kind identifies a message variant on the wire.  Zero is never a
// valid kind so that an empty envelope fails to decode.
type Kind uint8

const (
	KindChat Kind = iota + 1
	KindGameState
	KindPing
	KindPong
	KindHeartbeat
	KindReconnectRequest
	KindReconnectResponse
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindGameState:
		return "game_state"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindHeartbeat:
		return "heartbeat"
	case KindReconnectRequest:
		return "reconnect_request"
	case KindReconnectResponse:
		return "reconnect_response"
	default:
		return "unknown"
	}
}

// Message is the closed set of variants a session can send.  Only
// types in this package implement it.
type Message interface {
	Kind() Kind
	isMessage()
}

// Chat is a line of text from one peer to everyone in the room.
type Chat struct {
	Text string `cbor:"1,keyasint"`
}

// Position is a point in world coordinates.
type Position struct {
	X float32 `cbor:"1,keyasint"`
	Y float32 `cbor:"2,keyasint"`
}

// GameState is a positional update.  Sequence increases by one per
// update from the same player and is used to discard stale or
// reordered packets on the unreliable channel.
type GameState struct {
	PlayerID  string   `cbor:"1,keyasint"`
	Position  Position `cbor:"2,keyasint"`
	Timestamp uint64   `cbor:"3,keyasint"`
	Sequence  uint32   `cbor:"4,keyasint"`
}

// Control messages carry no payload.
type (
	Ping              struct{}
	Pong              struct{}
	Heartbeat         struct{}
	ReconnectRequest  struct{}
	ReconnectResponse struct{}
)

func (Chat) Kind() Kind              { return KindChat }
func (GameState) Kind() Kind         { return KindGameState }
func (Ping) Kind() Kind              { return KindPing }
func (Pong) Kind() Kind              { return KindPong }
func (Heartbeat) Kind() Kind         { return KindHeartbeat }
func (ReconnectRequest) Kind() Kind  { return KindReconnectRequest }
func (ReconnectResponse) Kind() Kind { return KindReconnectResponse }

func (Chat) isMessage()              {}
func (GameState) isMessage()         {}
func (Ping) isMessage()              {}
func (Pong) isMessage()              {}
func (Heartbeat) isMessage()         {}
func (ReconnectRequest) isMessage()  {}
func (ReconnectResponse) isMessage() {}
