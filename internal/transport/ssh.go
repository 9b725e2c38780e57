package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	perr "peerlink/internal/errors"
	"peerlink/internal/retry"
	"peerlink/tunnel"
	"peerlink/util"
)

// SSHDialer routes relay connections through an SSH jump host.  The
// tunnel is connected lazily on the first dial and re-established when
// a later dial finds it dead.
type SSHDialer struct {
	tunnel  tunnel.Tunnel
	config  *tunnel.SSHConfig
	backoff *retry.Backoff
	logger  *util.Logger
	mu      sync.Mutex
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel.  The tunnel is not connected until the first dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		tunnel:  tunnel.NewSSHTunnel(cfg, logger),
		config:  cfg,
		backoff: &retry.Backoff{InitialDelay: defaultHandshakeTimeout / 10, Multiplier: 2, MaxAttempts: 3, Jitter: true},
		logger:  logger,
	}
}

// connect establishes the SSH tunnel if it is not up.  Transient
// failures are retried; authentication and host-key failures are not.
func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel.IsAlive() {
		return nil
	}
	d.tunnel.Close() //nolint:errcheck

	d.logger.Verbose("establishing SSH tunnel to %s@%s:%d",
		d.config.User, d.config.Host, d.config.Port)

	err := d.backoff.Do(ctx, func(attempt int) error {
		err := d.tunnel.Connect(ctx)
		if err == nil {
			return nil
		}
		var se *perr.SSHError
		if errors.As(err, &se) && se.Op != "dial" {
			return retry.Permanent(err)
		}
		d.logger.Debug("SSH tunnel attempt %d failed: %v", attempt, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}

	d.logger.Verbose("SSH tunnel established")
	return nil
}

// DialContext connects to address through the SSH tunnel.
func (d *SSHDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tunnel.Close()
}
