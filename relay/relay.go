// Package relay implements the room server peers join to find each
// other.  Each room is named by the request path; every binary
// websocket message a peer sends is forwarded to every other peer in
// the room on the channel of the same delivery class.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"peerlink/internal/metrics"
	"peerlink/internal/protocol"
	"peerlink/internal/transport"
	"peerlink/util"
)

// Options tunes a Server.
type Options struct {
	// Rate and Burst bound unreliable packets per peer per second.
	// Excess packets are dropped.  Reliable traffic is never limited.
	Rate  float64
	Burst int
	// QueueSize is each peer's outbound frame queue.  A peer whose
	// queue is full when a reliable frame arrives is disconnected.
	QueueSize int
	// ReadLimit caps one inbound websocket message.
	ReadLimit int64
	// HandshakeTimeout bounds the wait for a peer's hello.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds one outbound write.
	WriteTimeout time.Duration
}

// DefaultOptions returns the options used by --serve.
func DefaultOptions() Options {
	return Options{
		Rate:             120,
		Burst:            60,
		QueueSize:        256,
		ReadLimit:        1 << 20,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Server is an http.Handler that relays room traffic.
type Server struct {
	opts    Options
	logger  *util.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	rooms map[string]map[string]*peer
}

// New returns a relay with no rooms.  m may be nil.
func New(opts Options, logger *util.Logger, m *metrics.Collector) *Server {
	def := DefaultOptions()
	if opts.Rate <= 0 {
		opts.Rate = def.Rate
	}
	if opts.Burst < 1 {
		opts.Burst = def.Burst
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = def.QueueSize
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = util.Nop()
	}
	return &Server{
		opts:    opts,
		logger:  logger,
		metrics: m,
		rooms:   make(map[string]map[string]*peer),
	}
}

// Peers returns the number of peers in room.
func (s *Server) Peers(room string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[room])
}

// ServeHTTP upgrades the request and serves one peer until it leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := util.RoomFromPath(r.URL.Path)
	if room == "" {
		http.Error(w, "room name required", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("relay: accept from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(s.opts.ReadLimit)

	classes, err := s.hello(r.Context(), conn)
	if err != nil {
		s.logger.Verbose("relay: handshake from %s: %v", r.RemoteAddr, err)
		conn.Close(websocket.StatusProtocolError, err.Error()) //nolint:errcheck
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := &peer{
		id:      uuid.NewString(),
		room:    room,
		classes: classes,
		conn:    conn,
		out:     make(chan []byte, s.opts.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(s.opts.Rate), s.opts.Burst),
		done:    ctx.Done(),
		cancel:  cancel,
	}

	welcome, _ := transport.EncodeFrame(transport.Frame{Kind: transport.FrameWelcome, Peer: p.id})
	p.out <- welcome
	s.join(p)
	defer s.leave(p)

	s.logger.Info("relay: %s joined %s from %s (%d channels)", p.id, room, r.RemoteAddr, len(classes))

	go s.writeLoop(ctx, cancel, p)
	s.readLoop(ctx, p)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.opts.HandshakeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		srv.Shutdown(shutdown) //nolint:errcheck
	}()

	s.logger.Info("relay listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) hello(ctx context.Context, conn *websocket.Conn) ([]protocol.DeliveryClass, error) {
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	typ, data, err := conn.Read(hctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageBinary {
		return nil, errors.New("hello must be binary")
	}
	f, err := transport.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	if f.Kind != transport.FrameHello {
		return nil, errors.New("expected hello")
	}
	return transport.ClassesFromWire(f.Classes)
}

func (s *Server) readLoop(ctx context.Context, p *peer) {
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.logger.Verbose("relay: %s left %s", p.id, p.room)
			default:
				if ctx.Err() == nil {
					s.logger.Verbose("relay: %s read: %v", p.id, err)
				}
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		s.metrics.PacketReceived(len(data))

		f, err := transport.DecodeFrame(data)
		if err != nil || f.Kind != transport.FrameData {
			s.metrics.PacketDropped()
			s.logger.Debug("relay: %s sent an unexpected frame", p.id)
			continue
		}
		if f.Channel < 0 || f.Channel >= len(p.classes) {
			s.metrics.PacketDropped()
			continue
		}
		class := p.classes[f.Channel]
		if class == protocol.Unreliable && !p.limiter.Allow() {
			s.metrics.PacketDropped()
			continue
		}
		s.forward(p, f.Channel, f.Data)
	}
}

// forward sends a packet from p to every other member of its room.
func (s *Server) forward(from *peer, channel int, data []byte) {
	class := from.classes[channel]
	for _, to := range s.others(from) {
		idx := transport.TranslateChannel(from.classes, channel, to.classes)
		if idx < 0 {
			continue
		}
		b, err := transport.EncodeFrame(transport.Frame{
			Kind:    transport.FrameData,
			Peer:    from.id,
			Channel: idx,
			Data:    data,
		})
		if err != nil {
			s.logger.Error("relay: encode: %v", err)
			continue
		}
		if !s.enqueue(to, b, class == protocol.Reliable) {
			s.metrics.PacketDropped()
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, p *peer) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-p.out:
			wctx, wcancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := p.conn.Write(wctx, websocket.MessageBinary, b)
			wcancel()
			if err != nil {
				s.logger.Verbose("relay: %s write: %v", p.id, err)
				return
			}
			s.metrics.PacketSent(len(b))
		}
	}
}

// enqueue queues b for p without blocking the caller.  Unreliable
// frames are dropped when p is backed up; a reliable frame that does
// not fit disconnects p, since the room cannot wait for it.
func (s *Server) enqueue(p *peer, b []byte, reliable bool) bool {
	select {
	case p.out <- b:
		return true
	case <-p.done:
		return false
	default:
	}
	if reliable {
		s.evict(p, "outbound queue full")
	}
	return false
}

// evict disconnects p.  Its readLoop returns and leave announces the
// departure to the rest of the room.
func (s *Server) evict(p *peer, why string) {
	select {
	case <-p.done:
		return
	default:
	}
	s.logger.Warn("relay: disconnecting %s: %s", p.id, why)
	p.cancel()
}

func (s *Server) join(p *peer) {
	s.mu.Lock()
	room := s.rooms[p.room]
	if room == nil {
		room = make(map[string]*peer)
		s.rooms[p.room] = room
	}
	existing := make([]*peer, 0, len(room))
	for _, other := range room {
		existing = append(existing, other)
	}
	room[p.id] = p
	s.mu.Unlock()

	s.metrics.PeerJoined()
	joined, _ := transport.EncodeFrame(transport.Frame{Kind: transport.FramePeerJoined, Peer: p.id})
	for _, other := range existing {
		b, _ := transport.EncodeFrame(transport.Frame{Kind: transport.FramePeerJoined, Peer: other.id})
		s.enqueue(p, b, true)
		s.enqueue(other, joined, true)
	}
}

func (s *Server) leave(p *peer) {
	s.mu.Lock()
	room := s.rooms[p.room]
	delete(room, p.id)
	if len(room) == 0 {
		delete(s.rooms, p.room)
	}
	remaining := make([]*peer, 0, len(room))
	for _, other := range room {
		remaining = append(remaining, other)
	}
	s.mu.Unlock()

	p.conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	left, _ := transport.EncodeFrame(transport.Frame{Kind: transport.FramePeerLeft, Peer: p.id})
	for _, other := range remaining {
		s.enqueue(other, left, true)
	}
	s.logger.Info("relay: %s left %s", p.id, p.room)
}

func (s *Server) others(p *peer) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[p.room]
	out := make([]*peer, 0, len(room))
	for id, other := range room {
		if id != p.id {
			out = append(out, other)
		}
	}
	return out
}

type peer struct {
	id      string
	room    string
	classes []protocol.DeliveryClass
	conn    *websocket.Conn
	out     chan []byte
	limiter *rate.Limiter
	done    <-chan struct{}
	cancel  context.CancelFunc
}
