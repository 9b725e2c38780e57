package config

// loader.go - configuration loading from files and environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ── Config file ──────────────────────────────────────────────────────

// LoadFile overlays the YAML, JSON or TOML file at path onto cfg.
// Keys absent from the file keep their current value.  Durations
// accept Go syntax ("5s", "250ms").
func LoadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decoding config %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the PEERLINK_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive); durations use Go
// syntax.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PEERLINK_ROOM"); v != "" {
		cfg.RoomAddress = v
	}
	if v := os.Getenv("PEERLINK_PLAYER"); v != "" {
		cfg.PlayerName = v
	}
	if v := envDuration("PEERLINK_HEARTBEAT"); v > 0 {
		cfg.HeartbeatInterval = v
	}
	if v := envDuration("PEERLINK_MONITOR_INTERVAL"); v > 0 {
		cfg.MonitorInterval = v
	}
	if v, ok := envIntOK("PEERLINK_RECONNECT_ATTEMPTS"); ok {
		cfg.ReconnectAttempts = v
	}
	if v, ok := envDurationOK("PEERLINK_RECONNECT_DELAY"); ok {
		cfg.ReconnectDelay = v
	}
	if v := envInt("PEERLINK_MAX_MESSAGE_SIZE"); v > 0 {
		cfg.MaxMessageSize = v
	}
	if v, ok := envIntOK("PEERLINK_HISTORY"); ok {
		cfg.HistoryLimit = v
	}
	if v, ok := envBoolOK("PEERLINK_RELIABLE"); ok {
		cfg.EnableReliable = v
	}
	if v, ok := envBoolOK("PEERLINK_UNRELIABLE"); ok {
		cfg.EnableUnreliable = v
	}

	// SSH jump host
	if v := os.Getenv("PEERLINK_SSH_JUMP"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("PEERLINK_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("PEERLINK_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("PEERLINK_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("PEERLINK_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("PEERLINK_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Relay
	if envBool("PEERLINK_SERVE") {
		cfg.Serve = true
	}
	if v := os.Getenv("PEERLINK_LISTEN"); v != "" {
		cfg.ListenAddress = v
	}

	// Output
	if v := envInt("PEERLINK_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if v := os.Getenv("PEERLINK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("PEERLINK_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	n, _ := envIntOK(key)
	return n
}

func envIntOK(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v, _ := envBoolOK(key)
	return v
}

func envBoolOK(key string) (bool, bool) {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	default:
		return false, false
	}
}

func envDuration(key string) time.Duration {
	d, _ := envDurationOK(key)
	return d
}

func envDurationOK(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
