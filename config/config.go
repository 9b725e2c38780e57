// Package config defines the runtime configuration for peerlink and
// provides helpers for parsing SSH jump-host specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	perr "peerlink/internal/errors"
	"peerlink/util"
)

// Config holds every tuneable for a peerlink process.  A session
// manager takes a copy per connection attempt; replacing it is done
// through an UpdateConfig command.
type Config struct {
	// ── Session ──────────────────────────────────────────────────────
	RoomAddress       string        `mapstructure:"room"`
	PlayerName        string        `mapstructure:"player"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	FrameInterval     time.Duration `mapstructure:"frame_interval"`
	MaxMessageSize    int           `mapstructure:"max_message_size"`
	HistoryLimit      int           `mapstructure:"history_limit"` // 0 keeps every message

	// ── Reconnect ────────────────────────────────────────────────────
	ReconnectAttempts   int           `mapstructure:"reconnect_attempts"` // ceiling per session instance
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMultiplier float64       `mapstructure:"reconnect_multiplier"` // 1 = fixed delay
	MaxReconnectDelay   time.Duration `mapstructure:"max_reconnect_delay"`

	// ── Channels ─────────────────────────────────────────────────────
	EnableReliable   bool `mapstructure:"reliable"`
	EnableUnreliable bool `mapstructure:"unreliable"`

	// ── SSH jump host ────────────────────────────────────────────────
	TunnelSpec     string `mapstructure:"ssh_jump"` // raw user@host[:port]
	TunnelEnabled  bool   `mapstructure:"-"`
	TunnelUser     string `mapstructure:"-"`
	TunnelHost     string `mapstructure:"-"`
	TunnelPort     int    `mapstructure:"-"`
	SSHKeyPath     string `mapstructure:"ssh_key"`
	SSHPassword    bool   `mapstructure:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool   `mapstructure:"ssh_agent"`
	StrictHostKey  bool   `mapstructure:"strict_hostkey"`
	KnownHostsPath string `mapstructure:"known_hosts"`

	// ── Relay server ─────────────────────────────────────────────────
	Serve         bool    `mapstructure:"serve"`
	ListenAddress string  `mapstructure:"listen"`
	RelayRate     float64 `mapstructure:"relay_rate"`  // unreliable packets/s per peer
	RelayBurst    int     `mapstructure:"relay_burst"` // unreliable burst per peer

	// ── Output ───────────────────────────────────────────────────────
	Verbose   int    `mapstructure:"verbose"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		RoomAddress:         DefaultRoomAddress,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		MonitorInterval:     DefaultMonitorInterval,
		DialTimeout:         DefaultDialTimeout,
		FrameInterval:       DefaultFrameInterval,
		MaxMessageSize:      DefaultMaxMessageSize,
		HistoryLimit:        DefaultHistoryLimit,
		ReconnectAttempts:   DefaultReconnectAttempts,
		ReconnectDelay:      DefaultReconnectDelay,
		ReconnectMultiplier: 1,
		MaxReconnectDelay:   DefaultMaxReconnectDelay,
		EnableReliable:      true,
		EnableUnreliable:    true,
		ListenAddress:       DefaultListenAddress,
		RelayRate:           DefaultRelayRate,
		RelayBurst:          DefaultRelayBurst,
		Verbose:             1,
		LogFormat:           "console",
	}
}

// Clone returns an independent copy.
func (c *Config) Clone() Config {
	return *c
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid jump spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid jump port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("jump host is required")
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &perr.ConfigError{Field: "ssh-jump", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Serve {
		if c.ListenAddress == "" {
			return &perr.ConfigError{
				Field:   "listen",
				Message: "required with --serve",
				Hint:    "use --listen :3536",
			}
		}
		if c.TunnelEnabled {
			return &perr.ConfigError{
				Field:   "ssh-jump",
				Value:   c.TunnelSpec,
				Message: "cannot be combined with --serve",
			}
		}
		if c.RelayRate <= 0 || c.RelayBurst < 1 {
			return &perr.ConfigError{
				Field:   "relay-rate",
				Value:   c.RelayRate,
				Message: "rate must be positive and burst at least 1",
			}
		}
		return c.validateLog()
	}

	if c.RoomAddress == "" {
		return &perr.ConfigError{
			Field:   "room",
			Message: "required",
			Hint:    "e.g. --room " + DefaultRoomAddress,
		}
	}
	if _, err := util.ParseRoomAddress(c.RoomAddress); err != nil {
		return &perr.ConfigError{Field: "room", Value: c.RoomAddress, Message: err.Error()}
	}

	if err := c.ValidateSession(); err != nil {
		return err
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &perr.ConfigError{Field: "ssh-jump", Message: "jump host is required"}
	}
	return c.validateLog()
}

// ValidateSession checks only the fields a session manager consumes.
// It is used for configs replaced at runtime.
func (c *Config) ValidateSession() error {
	positive := []struct {
		field string
		value time.Duration
	}{
		{"heartbeat", c.HeartbeatInterval},
		{"monitor-interval", c.MonitorInterval},
		{"dial-timeout", c.DialTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &perr.ConfigError{
				Field:   p.field,
				Value:   p.value.String(),
				Message: "must be positive",
				Hint:    "use a duration such as 5s or 250ms",
			}
		}
	}

	if c.ReconnectAttempts < 0 {
		return &perr.ConfigError{Field: "reconnect-attempts", Value: c.ReconnectAttempts, Message: "must not be negative"}
	}
	if c.ReconnectDelay < 0 {
		return &perr.ConfigError{Field: "reconnect-delay", Value: c.ReconnectDelay.String(), Message: "must not be negative"}
	}
	if c.ReconnectMultiplier < 1 {
		return &perr.ConfigError{
			Field:   "reconnect-multiplier",
			Value:   c.ReconnectMultiplier,
			Message: "must be at least 1",
			Hint:    "1 keeps a fixed delay between attempts",
		}
	}
	if c.MaxMessageSize < MinMessageSize || c.MaxMessageSize > MaxMessageSize {
		return &perr.ConfigError{
			Field:   "max-message-size",
			Value:   c.MaxMessageSize,
			Message: fmt.Sprintf("out of range %d-%d", MinMessageSize, MaxMessageSize),
		}
	}
	if c.HistoryLimit < 0 {
		return &perr.ConfigError{Field: "history", Value: c.HistoryLimit, Message: "must not be negative", Hint: "0 keeps every message"}
	}
	if !c.EnableReliable && !c.EnableUnreliable {
		return &perr.ConfigError{
			Field:   "reliable",
			Value:   false,
			Message: "at least one channel must be enabled",
			Hint:    "set --reliable or --unreliable back to true",
		}
	}
	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
		return nil
	default:
		return &perr.ConfigError{Field: "log-format", Value: c.LogFormat, Message: "must be console or json"}
	}
}
