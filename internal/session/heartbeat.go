package session

import (
	"context"
	"time"

	"peerlink/internal/protocol"
)

// heartbeatLoop emits a Heartbeat every interval while connected.  It
// never touches the socket: the message goes through the command
// queue like any other send.
func (m *Manager) heartbeatLoop(interval time.Duration) func(ctx context.Context) {
	return func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				now := m.now()
				if !m.store.heartbeat(now) {
					continue
				}
				m.metrics.Heartbeat(now)
				m.queue.push(SendMessage{Message: protocol.Heartbeat{}, heartbeat: true})
			}
		}
	}
}
