package core

import (
	"github.com/google/uuid"

	"peerlink/config"
	"peerlink/internal/metrics"
	"peerlink/internal/transport"
	"peerlink/relay"
	"peerlink/tunnel"
	"peerlink/util"
)

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Serve {
		return buildRelay(cfg, logger), nil
	}
	return buildClient(cfg, logger), nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildClient(cfg *config.Config, logger *util.Logger) Mode {
	sess := cfg.Clone()
	if sess.PlayerName == "" {
		sess.PlayerName = "player-" + uuid.NewString()[:8]
	}

	return &ClientMode{
		Config:  sess,
		Dialer:  buildDialer(cfg, logger),
		Logger:  logger,
		Metrics: metrics.New(),
	}
}

func buildRelay(cfg *config.Config, logger *util.Logger) Mode {
	opts := relay.DefaultOptions()
	opts.Rate = cfg.RelayRate
	opts.Burst = cfg.RelayBurst
	opts.ReadLimit = int64(cfg.MaxMessageSize) + frameOverhead

	return &RelayMode{
		Address: cfg.ListenAddress,
		Options: opts,
		Logger:  logger,
		Metrics: metrics.New(),
	}
}

// frameOverhead is room for the relay frame around one message.
const frameOverhead = 1024

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the websocket dialer, routed through the SSH jump
// host when one is configured.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	var nd transport.NetDialer
	if sshCfg := tunnel.ConfigFrom(cfg); sshCfg != nil {
		nd = transport.NewSSHDialer(sshCfg, logger)
	}
	d := transport.NewWSDialer(nd, cfg.DialTimeout, logger)
	d.ReadLimit = int64(cfg.MaxMessageSize) + frameOverhead
	return d
}
