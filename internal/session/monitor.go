package session

import (
	"context"
	"time"

	"peerlink/config"
	"peerlink/internal/retry"
)

func backoffFor(cfg config.Config) *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: cfg.ReconnectDelay,
		Multiplier:   cfg.ReconnectMultiplier,
		MaxDelay:     cfg.MaxReconnectDelay,
	}
}

// ensureMonitor starts the reconnect monitor unless it is running.
func (m *Manager) ensureMonitor(ctx context.Context) {
	if m.sup.monitor != nil {
		return
	}
	m.sup.monitor = startTask(ctx, m.monitorLoop(m.cfg.MonitorInterval, m.cfg.ReconnectAttempts, m.backoff))
}

// monitorLoop polls the phase every interval.  An Errored session with
// budget left moves to Reconnecting and, after the backoff delay, gets
// a Reconnect command; without budget it moves to Exhausted.
func (m *Manager) monitorLoop(interval time.Duration, ceiling int, backoff *retry.Backoff) func(ctx context.Context) {
	return func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			attempt, outcome := m.store.beginReconnect(ceiling)
			switch outcome {
			case reconnectNone:
				continue
			case reconnectExhausted:
				m.logger.Error("giving up after %d reconnect attempts", attempt)
				continue
			}

			m.metrics.Reconnect()
			delay := backoff.Delay(attempt)
			m.logger.Verbose("reconnect attempt %d/%d in %v", attempt, ceiling, delay)
			if !retry.Sleep(ctx, delay) {
				return
			}
			m.queue.push(Reconnect{scheduled: true, attempt: attempt})
		}
	}
}
