// Package metrics provides lightweight, lock-free counters for the
// lifetime of a peerlink process.  Session statistics reset with each
// session instance; the Collector keeps running totals across them.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks process-wide totals.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64
	peersJoined    atomic.Int64
	packetsIn      atomic.Int64
	packetsOut     atomic.Int64
	bytesIn        atomic.Int64
	bytesOut       atomic.Int64
	dropped        atomic.Int64
	reconnects     atomic.Int64
	heartbeats     atomic.Int64
	errorsTotal    atomic.Int64

	mu            sync.RWMutex
	startTime     time.Time
	lastHeartbeat time.Time
	lastError     time.Time
	lastErrorMsg  string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened records a transport that reached the connected phase.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed records a connected transport being released.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of currently connected sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime count of successful connects.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// PeerJoined records a peer-connected event.
func (c *Collector) PeerJoined() {
	if c == nil {
		return
	}
	c.peersJoined.Add(1)
}

// PeersJoined returns the lifetime number of peer-connected events.
func (c *Collector) PeersJoined() int64 {
	if c == nil {
		return 0
	}
	return c.peersJoined.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// PacketReceived records one inbound packet of n bytes.
func (c *Collector) PacketReceived(n int) {
	if c == nil {
		return
	}
	c.packetsIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// PacketSent records one outbound packet of n bytes.
func (c *Collector) PacketSent(n int) {
	if c == nil {
		return
	}
	c.packetsOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// PacketDropped records an inbound packet that failed to decode.
func (c *Collector) PacketDropped() {
	if c == nil {
		return
	}
	c.dropped.Add(1)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// TotalDropped returns the number of malformed packets discarded.
func (c *Collector) TotalDropped() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// ── Liveness metrics ─────────────────────────────────────────────────

// Reconnect records a reconnect attempt issued by the monitor.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Add(1)
}

// Reconnects returns the total reconnect attempt count.
func (c *Collector) Reconnects() int64 {
	if c == nil {
		return 0
	}
	return c.reconnects.Load()
}

// Heartbeat records a heartbeat tick and its timestamp.
func (c *Collector) Heartbeat(at time.Time) {
	if c == nil {
		return
	}
	c.heartbeats.Add(1)
	c.mu.Lock()
	c.lastHeartbeat = at
	c.mu.Unlock()
}

// Heartbeats returns the number of heartbeat ticks recorded.
func (c *Collector) Heartbeats() int64 {
	if c == nil {
		return 0
	}
	return c.heartbeats.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	PeersJoined      int64  `json:"peers_joined"`
	PacketsIn        int64  `json:"packets_in"`
	PacketsOut       int64  `json:"packets_out"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	Dropped          int64  `json:"dropped"`
	Reconnects       int64  `json:"reconnects"`
	Heartbeats       int64  `json:"heartbeats"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastHeartbeat    string `json:"last_heartbeat,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive: c.sessionsActive.Load(),
		SessionsTotal:  c.sessionsTotal.Load(),
		PeersJoined:    c.peersJoined.Load(),
		PacketsIn:      c.packetsIn.Load(),
		PacketsOut:     c.packetsOut.Load(),
		BytesIn:        c.bytesIn.Load(),
		BytesOut:       c.bytesOut.Load(),
		Dropped:        c.dropped.Load(),
		Reconnects:     c.reconnects.Load(),
		Heartbeats:     c.heartbeats.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
	}
	if !c.lastHeartbeat.IsZero() {
		s.LastHeartbeat = c.lastHeartbeat.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
