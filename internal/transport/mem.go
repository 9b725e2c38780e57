package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	perr "peerlink/internal/errors"
	"peerlink/internal/protocol"
)

const memEventBuffer = 1024

// Hub is an in-process room relay.  Sockets dialled through the same
// Hub and address see each other exactly as they would through the
// websocket relay, with the same per-class channel translation.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]map[string]*memSocket
	dials    int
	failN    int
	failErr  error
	failRest bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*memSocket)}
}

// Dialer returns a Dialer bound to h.
func (h *Hub) Dialer() Dialer { return memDialer{h} }

// FailNextDials makes the next n dials fail with err.  A negative n
// fails every dial from now on.
func (h *Hub) FailNextDials(n int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failN = n
	h.failRest = n < 0
	h.failErr = err
}

// Dials returns how many times Dial has been called.
func (h *Hub) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// Peers returns the ids currently in the room at address.
func (h *Hub) Peers(address string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for id := range h.rooms[address] {
		ids = append(ids, id)
	}
	return ids
}

// Drop simulates a transport failure: the socket receives an
// EventClosed carrying err and the rest of the room sees it leave.
func (h *Hub) Drop(address, id string, err error) bool {
	h.mu.Lock()
	s, ok := h.rooms[address][id]
	var out []delivery
	if ok {
		out = h.leaveLocked(s)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	s.push(Event{Kind: EventClosed, Err: err}, true)
	s.release()
	deliver(out)
	return true
}

func (h *Hub) dial(ctx context.Context, address string, classes []protocol.DeliveryClass) (Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, perr.Wrap("dial", address, err)
	}
	if len(classes) == 0 {
		return nil, perr.Wrap("handshake", address, fmt.Errorf("no channels requested"))
	}

	h.mu.Lock()
	h.dials++
	if h.failRest || h.failN > 0 {
		if h.failN > 0 {
			h.failN--
		}
		err := h.failErr
		h.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("connection refused")
		}
		if te, ok := err.(*perr.TransportError); ok {
			return nil, te
		}
		return nil, &perr.TransportError{Op: "dial", Addr: address, Err: err, Retryable: true}
	}

	s := &memSocket{
		hub:      h,
		address:  address,
		id:       uuid.NewString(),
		channels: append([]protocol.DeliveryClass(nil), classes...),
		events:   make(chan Event, memEventBuffer),
		done:     make(chan struct{}),
	}
	room := h.rooms[address]
	if room == nil {
		room = make(map[string]*memSocket)
		h.rooms[address] = room
	}
	var out []delivery
	for _, other := range room {
		out = append(out,
			delivery{to: s, ev: Event{Kind: EventPeerConnected, Peer: other.id}, reliable: true},
			delivery{to: other, ev: Event{Kind: EventPeerConnected, Peer: s.id}, reliable: true},
		)
	}
	room[s.id] = s
	h.mu.Unlock()

	deliver(out)
	return s, nil
}

// leaveLocked removes s from its room and returns the departure
// notices for the remaining members.
func (h *Hub) leaveLocked(s *memSocket) []delivery {
	room := h.rooms[s.address]
	if _, ok := room[s.id]; !ok {
		return nil
	}
	delete(room, s.id)
	if len(room) == 0 {
		delete(h.rooms, s.address)
	}
	out := make([]delivery, 0, len(room))
	for _, other := range room {
		out = append(out, delivery{to: other, ev: Event{Kind: EventPeerDisconnected, Peer: s.id}, reliable: true})
	}
	return out
}

type memDialer struct{ h *Hub }

func (d memDialer) Dial(ctx context.Context, address string, classes []protocol.DeliveryClass) (Socket, error) {
	return d.h.dial(ctx, address, classes)
}

func (memDialer) Close() error { return nil }

type delivery struct {
	to       *memSocket
	ev       Event
	reliable bool
}

func deliver(out []delivery) {
	for _, d := range out {
		d.to.push(d.ev, d.reliable)
	}
}

type memSocket struct {
	hub      *Hub
	address  string
	id       string
	channels []protocol.DeliveryClass
	events   chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func (s *memSocket) ID() string { return s.id }

func (s *memSocket) Channels() []protocol.DeliveryClass {
	return append([]protocol.DeliveryClass(nil), s.channels...)
}

func (s *memSocket) Events() <-chan Event { return s.events }

func (s *memSocket) Send(channel int, data []byte) error {
	if channel < 0 || channel >= len(s.channels) {
		return fmt.Errorf("%w: channel %d not open", perr.ErrChannelUnavailable, channel)
	}
	select {
	case <-s.done:
		return perr.ErrTransportClosed
	default:
	}

	class := s.channels[channel]
	s.hub.mu.Lock()
	var out []delivery
	for id, other := range s.hub.rooms[s.address] {
		if id == s.id {
			continue
		}
		idx := TranslateChannel(s.channels, channel, other.channels)
		if idx < 0 {
			continue
		}
		payload := append([]byte(nil), data...)
		out = append(out, delivery{
			to:       other,
			ev:       Event{Kind: EventPacket, Peer: s.id, Channel: idx, Data: payload},
			reliable: class == protocol.Reliable,
		})
	}
	s.hub.mu.Unlock()

	deliver(out)
	return nil
}

func (s *memSocket) Close() error {
	s.hub.mu.Lock()
	out := s.hub.leaveLocked(s)
	s.hub.mu.Unlock()
	s.release()
	deliver(out)
	return nil
}

func (s *memSocket) release() {
	s.closeOnce.Do(func() { close(s.done) })
}

// push queues ev.  Unreliable packets are dropped when the receiver is
// backed up; everything else waits until the receiver leaves.
func (s *memSocket) push(ev Event, reliable bool) {
	if !reliable {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
