// Package tunnel reaches a relay that is only visible from behind an
// SSH jump host.  The SSH implementation is backed by
// golang.org/x/crypto/ssh.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an SSH-style channel that can open TCP streams on the far
// side.  The websocket transport dials the relay through it.
type Tunnel interface {
	// Connect establishes the session with the jump host.
	Connect(ctx context.Context) error

	// Dial opens a stream to address from the jump host.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears the session down.
	Close() error

	// IsAlive reports whether the session is still up.  A dead session
	// is replaced on the next dial.
	IsAlive() bool
}
