package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv_Room(t *testing.T) {
	t.Setenv("PEERLINK_ROOM", "ws://relay.example.com:3536/lobby")
	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.RoomAddress != "ws://relay.example.com:3536/lobby" {
		t.Errorf("RoomAddress = %q", cfg.RoomAddress)
	}
}

func TestLoadFromEnv_Durations(t *testing.T) {
	t.Setenv("PEERLINK_HEARTBEAT", "250ms")
	t.Setenv("PEERLINK_RECONNECT_DELAY", "0s")
	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.HeartbeatInterval != 250*time.Millisecond {
		t.Errorf("HeartbeatInterval = %v, want 250ms", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectDelay != 0 {
		t.Errorf("ReconnectDelay = %v, want 0 (explicit zero must override)", cfg.ReconnectDelay)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"PEERLINK_UNRELIABLE", "false", func(c *Config) bool { return !c.EnableUnreliable }},
		{"PEERLINK_UNRELIABLE", "0", func(c *Config) bool { return !c.EnableUnreliable }},
		{"PEERLINK_RELIABLE", "no", func(c *Config) bool { return !c.EnableReliable }},
		{"PEERLINK_SERVE", "YES", func(c *Config) bool { return c.Serve }},
		{"PEERLINK_SSH_AGENT", "1", func(c *Config) bool { return c.UseSSHAgent }},
		{"PEERLINK_STRICT_HOSTKEY", "true", func(c *Config) bool { return c.StrictHostKey }},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Default()
			LoadFromEnv(cfg)
			if !tt.check(cfg) {
				t.Errorf("%s=%s not applied", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv_InvalidIgnored(t *testing.T) {
	t.Setenv("PEERLINK_HEARTBEAT", "soon")
	t.Setenv("PEERLINK_RECONNECT_ATTEMPTS", "many")
	t.Setenv("PEERLINK_RELIABLE", "maybe")
	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval changed to %v", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectAttempts != DefaultReconnectAttempts {
		t.Errorf("ReconnectAttempts changed to %d", cfg.ReconnectAttempts)
	}
	if !cfg.EnableReliable {
		t.Error("EnableReliable should keep its default")
	}
}

func TestLoadFromEnv_EmptyNoOverride(t *testing.T) {
	os.Unsetenv("PEERLINK_ROOM")
	cfg := &Config{RoomAddress: "ws://keep/me"}
	LoadFromEnv(cfg)
	if cfg.RoomAddress != "ws://keep/me" {
		t.Errorf("RoomAddress overwritten: %q", cfg.RoomAddress)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlink.yaml")
	data := `room: ws://relay.internal:4000/arena
heartbeat_interval: 2s
reconnect_attempts: 3
reconnect_delay: 500ms
unreliable: false
history_limit: 50
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := LoadFile(path, cfg); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.RoomAddress != "ws://relay.internal:4000/arena" {
		t.Errorf("RoomAddress = %q", cfg.RoomAddress)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectAttempts != 3 || cfg.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("reconnect = %d/%v", cfg.ReconnectAttempts, cfg.ReconnectDelay)
	}
	if cfg.EnableUnreliable {
		t.Error("EnableUnreliable should be false")
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d", cfg.HistoryLimit)
	}
	// Untouched keys keep defaults.
	if cfg.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if !cfg.EnableReliable {
		t.Error("EnableReliable should keep its default")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), Default())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
