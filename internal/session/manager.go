// Package session manages one peer's membership in a room: the
// connect/teardown lifecycle, message dispatch over delivery-class
// channels, heartbeats, bounded reconnection and the state snapshot a
// consumer polls every frame.
//
// A Manager runs a single event loop ([Manager.Run]) that is the only
// writer of session state.  Operators talk to it through a command
// queue; consumers read it through [Manager.State], which never
// blocks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"peerlink/config"
	perr "peerlink/internal/errors"
	"peerlink/internal/metrics"
	"peerlink/internal/protocol"
	"peerlink/internal/retry"
	"peerlink/internal/transport"
	"peerlink/util"
)

// Options carries a Manager's collaborators.
type Options struct {
	Dialer  transport.Dialer
	Logger  *util.Logger
	Metrics *metrics.Collector // optional
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// Manager is the session event loop and its command surface.
type Manager struct {
	store   *store
	queue   *queue
	sup     supervisor
	dialer  transport.Dialer
	logger  *util.Logger
	metrics *metrics.Collector
	now     func() time.Time
	running atomic.Bool

	// Owned by the event loop.
	cfg     config.Config
	codec   *protocol.Codec
	router  *protocol.Router
	backoff *retry.Backoff
	address string
}

// New validates cfg and returns an idle Manager.  Nothing happens
// until [Manager.Run] is started and a Connect is submitted.
func New(cfg config.Config, opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, errors.New("session: a transport dialer is required")
	}
	if err := cfg.ValidateSession(); err != nil {
		return nil, err
	}
	codec, err := protocol.NewCodec(cfg.MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = util.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:   newStore(cfg.HistoryLimit),
		queue:   newQueue(),
		dialer:  opts.Dialer,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		cfg:     cfg,
		codec:   codec,
		router:  protocol.NewRouter(cfg.EnableReliable, cfg.EnableUnreliable),
		backoff: backoffFor(cfg),
	}, nil
}

// State returns a copy of the session state.  It never blocks: if the
// state is being written at that moment it returns the zero State.
func (m *Manager) State() State {
	st, _ := m.store.snapshot()
	return st
}

// ── Command surface ──────────────────────────────────────────────────

// Submit queues cmd without waiting for its result.  It returns false
// if the Manager has stopped.
func (m *Manager) Submit(cmd Command) bool {
	return m.queue.push(cmd)
}

// Do queues cmd and waits for its result.
func (m *Manager) Do(ctx context.Context, cmd Command) error {
	ch := make(chan error, 1)
	if !m.queue.push(cmd.withReply(ch)) {
		return perr.ErrManagerStopped
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect joins address (the configured room if empty).
func (m *Manager) Connect(ctx context.Context, address string) error {
	return m.Do(ctx, Connect{Address: address})
}

// Send broadcasts msg to the room.
func (m *Manager) Send(ctx context.Context, msg protocol.Message) error {
	return m.Do(ctx, SendMessage{Message: msg})
}

// Disconnect leaves the room.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.Do(ctx, Disconnect{})
}

// Reconnect drops the transport and joins the last room again.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.Do(ctx, Reconnect{})
}

// UpdateConfig replaces the configuration.
func (m *Manager) UpdateConfig(ctx context.Context, cfg config.Config) error {
	return m.Do(ctx, UpdateConfig{Config: cfg})
}

// ── Event loop ───────────────────────────────────────────────────────

// Run processes commands and transport events until ctx is cancelled,
// then tears the session down.  Commands still queued at that point
// fail with ErrManagerStopped.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("session: Run called twice")
	}
	defer m.shutdown()

	for {
		var events <-chan transport.Event
		if m.sup.socket != nil {
			events = m.sup.socket.Events()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.queue.ready():
			if cmd, ok := m.queue.pop(); ok {
				m.handle(ctx, cmd)
			}
		case ev := <-events:
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) shutdown() {
	if m.sup.socket != nil || m.sup.monitor != nil || m.sup.heartbeat != nil {
		m.disconnect()
	}
	for _, cmd := range m.queue.close() {
		reply(cmd, perr.ErrManagerStopped)
	}
	m.logger.Debug("session loop stopped")
}

func (m *Manager) handle(ctx context.Context, cmd Command) {
	var err error
	switch c := cmd.(type) {
	case Connect:
		err = m.connect(ctx, c.Address, true)
	case SendMessage:
		err = m.send(c.Message)
		if err != nil && c.heartbeat {
			m.logger.Debug("heartbeat not sent: %v", err)
		}
	case Disconnect:
		m.disconnect()
	case Reconnect:
		err = m.reconnect(ctx, c)
	case UpdateConfig:
		err = m.updateConfig(ctx, c.Config)
	default:
		err = fmt.Errorf("session: unknown command %T", cmd)
	}
	reply(cmd, err)
}

func (m *Manager) handleEvent(ev transport.Event) {
	now := m.now()
	switch ev.Kind {
	case transport.EventPeerConnected:
		m.store.peerJoined(ev.Peer, now)
		m.metrics.PeerJoined()
		m.logger.Info("peer %s joined", ev.Peer)

	case transport.EventPeerDisconnected:
		m.store.peerLeft(ev.Peer)
		m.logger.Info("peer %s left", ev.Peer)

	case transport.EventPacket:
		m.metrics.PacketReceived(len(ev.Data))
		msg, err := m.codec.Decode(ev.Data)
		if err != nil {
			m.store.dropped()
			m.metrics.PacketDropped()
			m.logger.Warn("dropping packet from %s: %v", ev.Peer, err)
			return
		}
		m.store.received(ev.Peer, msg, len(ev.Data), now)
		m.dispatch(ev.Peer, msg)

	case transport.EventClosed:
		m.lost(ev.Err)
	}
}

// dispatch performs the protocol side effects of an inbound message.
// Bookkeeping already happened in store.received.
func (m *Manager) dispatch(peer string, msg protocol.Message) {
	switch v := msg.(type) {
	case protocol.Chat:
		m.logger.Verbose("<%s> %s", peer, v.Text)
	case protocol.Ping:
		m.answer(peer, protocol.Pong{})
	case protocol.ReconnectRequest:
		m.answer(peer, protocol.ReconnectResponse{})
	case protocol.GameState, protocol.Pong, protocol.Heartbeat, protocol.ReconnectResponse:
		m.logger.Debug("%s from %s", msg.Kind(), peer)
	}
}

func (m *Manager) answer(peer string, msg protocol.Message) {
	if err := m.send(msg); err != nil {
		m.logger.Warn("answering %s: %v", peer, err)
	}
}
