package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	perr "peerlink/internal/errors"
	"peerlink/internal/protocol"
	"peerlink/util"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 1 << 20
	eventBuffer             = 256
)

// WSDialer joins rooms on a websocket relay.
type WSDialer struct {
	// HandshakeTimeout bounds the websocket upgrade plus the
	// hello/welcome exchange.
	HandshakeTimeout time.Duration
	// ReadLimit caps a single inbound frame.
	ReadLimit int64
	// NetDialer, when set, is used for the underlying TCP connection
	// (e.g. through an SSH jump host).
	NetDialer NetDialer

	logger *util.Logger
	client *http.Client
	once   sync.Once
}

// NetDialer opens the raw connection beneath a websocket.
type NetDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
	Close() error
}

// NewWSDialer returns a dialer that reaches the relay directly, or
// through nd when it is non-nil.
func NewWSDialer(nd NetDialer, timeout time.Duration, logger *util.Logger) *WSDialer {
	if logger == nil {
		logger = util.Nop()
	}
	return &WSDialer{HandshakeTimeout: timeout, NetDialer: nd, logger: logger}
}

func (d *WSDialer) httpClient() *http.Client {
	d.once.Do(func() {
		if d.NetDialer == nil {
			return
		}
		d.client = &http.Client{
			Transport: &http.Transport{DialContext: d.NetDialer.DialContext},
		}
	})
	return d.client
}

// Dial performs the websocket upgrade and the relay handshake.
func (d *WSDialer) Dial(ctx context.Context, address string, classes []protocol.DeliveryClass) (Socket, error) {
	if d.logger == nil {
		d.logger = util.Nop()
	}
	addr, err := util.ParseRoomAddress(address)
	if err != nil {
		return nil, &perr.TransportError{Op: "dial", Addr: address, Err: err, Permanent: true}
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.logger.Debug("ws: dialing %s", addr)
	conn, _, err := websocket.Dial(hctx, addr.String(), &websocket.DialOptions{
		HTTPClient: d.httpClient(),
	})
	if err != nil {
		return nil, perr.Wrap("dial", address, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	id, err := handshake(hctx, conn, classes)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed") //nolint:errcheck
		return nil, perr.Wrap("handshake", address, err)
	}
	d.logger.Verbose("joined room %s as %s", addr.Room, id)

	return newWSSocket(conn, id, classes, d.logger), nil
}

// Close releases the NetDialer, if any.
func (d *WSDialer) Close() error {
	if d.NetDialer != nil {
		return d.NetDialer.Close()
	}
	return nil
}

func handshake(ctx context.Context, conn *websocket.Conn, classes []protocol.DeliveryClass) (string, error) {
	hello, err := EncodeFrame(Frame{Kind: FrameHello, Classes: ClassesToWire(classes)})
	if err != nil {
		return "", err
	}
	if err := conn.Write(ctx, websocket.MessageBinary, hello); err != nil {
		return "", err
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return "", err
	}
	if typ != websocket.MessageBinary {
		return "", fmt.Errorf("unexpected %v message", typ)
	}
	f, err := DecodeFrame(data)
	if err != nil {
		return "", err
	}
	if f.Kind != FrameWelcome || f.Peer == "" {
		return "", fmt.Errorf("expected welcome, got %s", f.Kind)
	}
	return f.Peer, nil
}

// wsSocket is a room membership over one websocket connection.
type wsSocket struct {
	conn     *websocket.Conn
	id       string
	channels []protocol.DeliveryClass
	events   chan Event
	logger   *util.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
}

func newWSSocket(conn *websocket.Conn, id string, classes []protocol.DeliveryClass, logger *util.Logger) *wsSocket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		conn:     conn,
		id:       id,
		channels: append([]protocol.DeliveryClass(nil), classes...),
		events:   make(chan Event, eventBuffer),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.readLoop()
	return s
}

func (s *wsSocket) ID() string { return s.id }

func (s *wsSocket) Channels() []protocol.DeliveryClass {
	return append([]protocol.DeliveryClass(nil), s.channels...)
}

func (s *wsSocket) Events() <-chan Event { return s.events }

func (s *wsSocket) Send(channel int, data []byte) error {
	if channel < 0 || channel >= len(s.channels) {
		return fmt.Errorf("%w: channel %d not open", perr.ErrChannelUnavailable, channel)
	}
	if s.closing.Load() {
		return perr.ErrTransportClosed
	}
	b, err := EncodeFrame(Frame{Kind: FrameData, Channel: channel, Data: data})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(s.ctx, defaultWriteTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageBinary, b); err != nil {
		return &perr.TransportError{Op: "send", Addr: s.id, Err: err}
	}
	return nil
}

func (s *wsSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.conn.Close(websocket.StatusNormalClosure, "leaving")
		s.cancel()
	})
	return err
}

func (s *wsSocket) readLoop() {
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.fail(err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		f, err := DecodeFrame(data)
		if err != nil {
			s.logger.Debug("ws: dropping frame: %v", err)
			continue
		}

		var ev Event
		switch f.Kind {
		case FramePeerJoined:
			ev = Event{Kind: EventPeerConnected, Peer: f.Peer}
		case FramePeerLeft:
			ev = Event{Kind: EventPeerDisconnected, Peer: f.Peer}
		case FrameData:
			ev = Event{Kind: EventPacket, Peer: f.Peer, Channel: f.Channel, Data: f.Data}
		default:
			s.logger.Debug("ws: ignoring %s frame", f.Kind)
			continue
		}
		if !s.emit(ev) {
			return
		}
	}
}

// fail reports a connection loss we did not initiate.
func (s *wsSocket) fail(err error) {
	if s.closing.Load() || s.ctx.Err() != nil {
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		err = fmt.Errorf("%w: relay closed the connection", perr.ErrTransportClosed)
	}
	s.emit(Event{Kind: EventClosed, Err: &perr.TransportError{Op: "read", Addr: s.id, Err: err, Retryable: true}})
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		s.conn.Close(websocket.StatusInternalError, "read failed") //nolint:errcheck
	})
}

func (s *wsSocket) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}
