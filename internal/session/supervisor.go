package session

import (
	"context"
	"fmt"

	"peerlink/config"
	perr "peerlink/internal/errors"
	"peerlink/internal/protocol"
	"peerlink/internal/transport"
)

// task is a background goroutine that can be stopped synchronously.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startTask(parent context.Context, fn func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		fn(ctx)
	}()
	return t
}

// stop cancels the task and waits for it to return.
func (t *task) stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// supervisor owns the transport socket and the background task
// handles.  Only the event loop touches it.
type supervisor struct {
	socket    transport.Socket
	heartbeat *task
	monitor   *task
}

func (s *supervisor) stopHeartbeat() {
	s.heartbeat.stop()
	s.heartbeat = nil
}

func (s *supervisor) stopMonitor() {
	s.monitor.stop()
	s.monitor = nil
}

// release closes the socket, if any, and reports whether one was open.
func (s *supervisor) release() bool {
	if s.socket == nil {
		return false
	}
	s.socket.Close() //nolint:errcheck
	s.socket = nil
	return true
}

// ── Lifecycle operations (event loop only) ───────────────────────────

// connect joins address.  fresh starts a new session instance; a
// scheduled reconnect keeps the attempt count.
func (m *Manager) connect(ctx context.Context, address string, fresh bool) error {
	if address == "" {
		address = m.cfg.RoomAddress
	}
	if err := m.store.beginConnect(fresh); err != nil {
		return err
	}
	m.address = address
	m.ensureMonitor(ctx)

	m.logger.Verbose("connecting to %s", address)
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	sock, err := m.dialer.Dial(dctx, address, m.router.Channels())
	cancel()
	if err != nil {
		m.fail(err)
		m.logger.Warn("connect %s: %v", address, err)
		return err
	}

	m.sup.socket = sock
	m.sup.heartbeat = startTask(ctx, m.heartbeatLoop(m.cfg.HeartbeatInterval))
	m.store.connected(sock.ID())
	m.metrics.SessionOpened()
	m.logger.Info("connected to %s as %s", address, sock.ID())
	return nil
}

// send routes, encodes and broadcasts msg.  Zero peers is success.
func (m *Manager) send(msg protocol.Message) error {
	if m.sup.socket == nil || m.store.currentPhase() != Connected {
		return perr.ErrNotConnected
	}
	ch, err := m.router.Route(msg)
	if err != nil {
		return err
	}
	data, err := m.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := m.sup.socket.Send(ch, data); err != nil {
		return err
	}
	m.store.sent(msg, len(data), m.now())
	m.metrics.PacketSent(len(data))
	return nil
}

// disconnect ends the session instance.  Both background tasks have
// returned before the phase changes, so nothing fires afterwards.
func (m *Manager) disconnect() {
	m.sup.stopHeartbeat()
	m.sup.stopMonitor()
	if m.sup.release() {
		m.metrics.SessionClosed()
	}
	m.store.disconnected()
	m.logger.Verbose("disconnected")
}

// lost handles a transport failure we did not ask for.  The monitor
// keeps running so it can schedule a reconnect.
func (m *Manager) lost(err error) {
	m.sup.stopHeartbeat()
	if m.sup.release() {
		m.metrics.SessionClosed()
	}
	if err == nil {
		err = perr.ErrTransportClosed
	}
	m.fail(err)
	m.logger.Warn("connection lost: %v", err)
}

// fail records err in the phase.  Permanent failures skip the monitor
// and go straight to Exhausted.
func (m *Manager) fail(err error) {
	m.metrics.RecordError(err.Error())
	if perr.IsPermanent(err) {
		m.store.gaveUp(err.Error())
		m.logger.Error("not retrying: %v", err)
		return
	}
	m.store.failed(err.Error())
}

// reconnect handles both monitor-scheduled and operator reconnects.
func (m *Manager) reconnect(ctx context.Context, c Reconnect) error {
	if c.scheduled {
		if m.store.currentPhase() != Reconnecting {
			m.logger.Debug("ignoring stale reconnect attempt %d", c.attempt)
			return nil
		}
		m.logger.Info("reconnect attempt %d/%d", c.attempt, m.cfg.ReconnectAttempts)
		return m.connect(ctx, m.address, false)
	}

	m.sup.stopHeartbeat()
	if m.sup.release() {
		m.metrics.SessionClosed()
	}
	m.store.disconnected()
	return m.connect(ctx, m.address, true)
}

// updateConfig validates and applies cfg.
func (m *Manager) updateConfig(ctx context.Context, cfg config.Config) error {
	if err := cfg.ValidateSession(); err != nil {
		return err
	}
	codec, err := protocol.NewCodec(cfg.MaxMessageSize)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}

	wasConnected := m.store.currentPhase() == Connected
	if wasConnected {
		m.disconnect()
	} else if m.sup.monitor != nil {
		m.sup.stopMonitor()
		m.store.abandonReconnect()
	}

	m.cfg = cfg
	m.codec = codec
	m.router = protocol.NewRouter(cfg.EnableReliable, cfg.EnableUnreliable)
	m.backoff = backoffFor(cfg)
	m.store.resizeHistory(cfg.HistoryLimit)
	m.logger.Verbose("configuration updated")

	if wasConnected {
		return m.connect(ctx, cfg.RoomAddress, true)
	}
	switch m.store.currentPhase() {
	case Errored, Reconnecting:
		m.ensureMonitor(ctx)
	}
	return nil
}
