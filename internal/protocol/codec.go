package protocol

import (
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"

	perr "peerlink/internal/errors"
)

// envelope is the outer wire shape of every message: a CBOR map with
// integer keys {1: kind, 2: body}.  Payload-less variants omit body.
type envelope struct {
	Kind Kind            `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Codec converts messages to and from their wire encoding.  It is safe
// for concurrent use.
type Codec struct {
	enc     cbor.EncMode
	dec     cbor.DecMode
	maxSize int
}

// NewCodec returns a deterministic CBOR codec.  Encodings larger than
// maxSize bytes are rejected; maxSize <= 0 disables the check.
func NewCodec(maxSize int) (*Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Codec{enc: em, dec: dm, maxSize: maxSize}, nil
}

// MaxSize returns the configured encoding limit.
func (c *Codec) MaxSize() int { return c.maxSize }

// Encode returns the wire bytes for m.
func (c *Codec) Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, &perr.SerializationError{Kind: "nil", Err: fmt.Errorf("nil message")}
	}
	var env envelope
	switch v := m.(type) {
	case Chat, GameState:
		body, err := c.enc.Marshal(v)
		if err != nil {
			return nil, &perr.SerializationError{Kind: m.Kind().String(), Err: err}
		}
		env.Body = body
	case Ping, Pong, Heartbeat, ReconnectRequest, ReconnectResponse:
	default:
		return nil, &perr.SerializationError{Kind: fmt.Sprintf("%T", m), Err: perr.UnknownMessage(m)}
	}
	env.Kind = m.Kind()

	data, err := c.enc.Marshal(env)
	if err != nil {
		return nil, &perr.SerializationError{Kind: m.Kind().String(), Err: err}
	}
	if c.maxSize > 0 && len(data) > c.maxSize {
		return nil, &perr.SerializationError{
			Kind:  m.Kind().String(),
			Size:  len(data),
			Limit: c.maxSize,
		}
	}
	return data, nil
}

// Decode parses one wire packet.  Any failure is reported as a
// *errors.DeserializationError.
func (c *Codec) Decode(data []byte) (Message, error) {
	fail := func(err error) (Message, error) {
		return nil, &perr.DeserializationError{Size: len(data), Err: err}
	}

	if c.maxSize > 0 && len(data) > c.maxSize {
		return fail(fmt.Errorf("packet exceeds limit of %d bytes", c.maxSize))
	}

	var env envelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return fail(err)
	}

	switch env.Kind {
	case KindChat:
		var m Chat
		if err := c.body(env, &m); err != nil {
			return fail(err)
		}
		return m, nil
	case KindGameState:
		var m GameState
		if err := c.body(env, &m); err != nil {
			return fail(err)
		}
		return m, nil
	case KindPing, KindPong, KindHeartbeat, KindReconnectRequest, KindReconnectResponse:
		if len(env.Body) != 0 {
			return fail(fmt.Errorf("%s: unexpected body", env.Kind))
		}
		return control(env.Kind), nil
	default:
		return fail(fmt.Errorf("unknown message kind %d", env.Kind))
	}
}

func (c *Codec) body(env envelope, v any) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("%s: missing body", env.Kind)
	}
	return c.dec.Unmarshal(env.Body, v)
}

// control returns the payload-less message for k.
func control(k Kind) Message {
	switch k {
	case KindPing:
		return Ping{}
	case KindPong:
		return Pong{}
	case KindHeartbeat:
		return Heartbeat{}
	case KindReconnectRequest:
		return ReconnectRequest{}
	default:
		return ReconnectResponse{}
	}
}
