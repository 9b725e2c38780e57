package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultRoomAddress is the relay room joined when none is given.
	DefaultRoomAddress = "ws://localhost:3536/game_room"

	// DefaultListenAddress is where --serve binds the relay.
	DefaultListenAddress = ":3536"

	// DefaultHeartbeatInterval is how often a connected session emits
	// a Heartbeat message.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultMonitorInterval is the reconnect monitor's polling period.
	DefaultMonitorInterval = time.Second

	// DefaultReconnectAttempts is the reconnect ceiling per session
	// instance.
	DefaultReconnectAttempts = 5

	// DefaultReconnectDelay is the pause before each reconnect attempt.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultMaxReconnectDelay caps the delay when a backoff multiplier
	// above 1 is configured.
	DefaultMaxReconnectDelay = 60 * time.Second

	// DefaultDialTimeout bounds transport setup including the relay
	// handshake.
	DefaultDialTimeout = 10 * time.Second

	// DefaultFrameInterval is how often the console consumer polls the
	// session snapshot (about 60 frames per second).
	DefaultFrameInterval = 16 * time.Millisecond

	// DefaultMaxMessageSize is the largest encoded message (64 KiB).
	DefaultMaxMessageSize = 64 * 1024

	// MinMessageSize and MaxMessageSize bound --max-message-size.
	MinMessageSize = 64
	MaxMessageSize = 16 * 1024 * 1024

	// DefaultHistoryLimit is how many chat entries a session retains
	// before evicting the oldest.
	DefaultHistoryLimit = 1000

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultRelayRate and DefaultRelayBurst throttle unreliable
	// traffic per peer on the relay.
	DefaultRelayRate  = 120.0
	DefaultRelayBurst = 60
)
