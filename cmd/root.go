// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"peerlink/config"
	"peerlink/internal/core"
	"peerlink/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X peerlink/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives usage, version and dry-run output.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args and runs the selected peerlink mode.
//
// Settings are layered: defaults, then the --config file, then
// PEERLINK_* environment variables, then flags.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()

	path, err := configPath(args)
	if err != nil {
		return err
	}
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs, opts := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "peerlink %s\n", version)
		return nil
	}

	// ── positional room ──────────────────────────────────────────
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		cfg.RoomAddress = rest[0]
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
	if opts.quiet {
		cfg.Verbose = 0
	}

	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.dryRun {
		printSummary(cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLoggerWith(util.LogOptions{
		Verbosity:  cfg.Verbose,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	})
	defer logger.Close() //nolint:errcheck

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── flags ────────────────────────────────────────────────────────────

type cliOptions struct {
	configFile  string
	quiet       bool
	dryRun      bool
	showVersion bool
	showHelp    bool
}

// newFlagSet binds every flag to cfg.  Flag defaults are the values cfg
// already holds, so unset flags keep the file and environment layers.
func newFlagSet(cfg *config.Config) (*flag.FlagSet, *cliOptions) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("peerlink", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── session ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.RoomAddress, "room", "r", cfg.RoomAddress, "Room address ws[s]://host[:port]/room")
	fs.StringVarP(&cfg.PlayerName, "name", "n", cfg.PlayerName, "Player name (random if empty)")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "Heartbeat interval")
	fs.DurationVar(&cfg.MonitorInterval, "monitor-interval", cfg.MonitorInterval, "Reconnect monitor polling interval")
	fs.DurationVarP(&cfg.DialTimeout, "timeout", "w", cfg.DialTimeout, "Connect and handshake timeout")
	fs.DurationVar(&cfg.FrameInterval, "frame", cfg.FrameInterval, "Console refresh interval")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Largest encoded message in bytes")
	fs.IntVar(&cfg.HistoryLimit, "history", cfg.HistoryLimit, "Chat entries kept (0 = unbounded)")

	// ── reconnect ────────────────────────────────────────────────
	fs.IntVar(&cfg.ReconnectAttempts, "reconnect-attempts", cfg.ReconnectAttempts, "Reconnect attempts before giving up")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay before each reconnect attempt")
	fs.Float64Var(&cfg.ReconnectMultiplier, "reconnect-multiplier", cfg.ReconnectMultiplier, "Delay growth per attempt (1 = fixed)")
	fs.DurationVar(&cfg.MaxReconnectDelay, "max-reconnect-delay", cfg.MaxReconnectDelay, "Upper bound on the reconnect delay")

	// ── channels ─────────────────────────────────────────────────
	fs.BoolVar(&cfg.EnableReliable, "reliable", cfg.EnableReliable, "Open the reliable channel")
	fs.BoolVar(&cfg.EnableUnreliable, "unreliable", cfg.EnableUnreliable, "Open the unreliable channel")

	// ── SSH jump host ────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "ssh-jump", "J", cfg.TunnelSpec, "Reach the relay via SSH [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── relay server ─────────────────────────────────────────────
	fs.BoolVar(&cfg.Serve, "serve", cfg.Serve, "Run a relay server instead of a client")
	fs.StringVarP(&cfg.ListenAddress, "listen", "l", cfg.ListenAddress, "Relay listen address (with --serve)")
	fs.Float64Var(&cfg.RelayRate, "relay-rate", cfg.RelayRate, "Unreliable packets per second per peer")
	fs.IntVar(&cfg.RelayBurst, "relay-burst", cfg.RelayBurst, "Unreliable burst per peer")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print errors")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to a rotated file")

	fs.StringVarP(&opts.configFile, "config", "c", "", "Config file (yaml, json or toml)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }
	return fs, opts
}

// configPath finds --config before the other flags are bound, so the
// file can sit below environment variables and flags.
func configPath(args []string) (string, error) {
	fs := flag.NewFlagSet("peerlink", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.StringP("config", "c", "", "")
	fs.BoolP("help", "h", false, "")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

// ── output ───────────────────────────────────────────────────────────

func printSummary(cfg *config.Config) {
	if cfg.Serve {
		fmt.Fprintf(stdout, "mode:      relay\nlisten:    %s\nrate:      %.0f/s burst %d\n",
			cfg.ListenAddress, cfg.RelayRate, cfg.RelayBurst)
		return
	}
	fmt.Fprintf(stdout, "mode:      client\nroom:      %s\nheartbeat: %s\nreconnect: %d attempts, %s delay\n",
		cfg.RoomAddress, cfg.HeartbeatInterval, cfg.ReconnectAttempts, cfg.ReconnectDelay)
	if cfg.TunnelEnabled {
		fmt.Fprintf(stdout, "ssh-jump:  %s@%s:%d\n", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(stdout, `peerlink – peer session client and relay v%s

Joins a relay room and keeps the session alive with heartbeats and
bounded reconnects, or runs the relay itself.

Usage:
  peerlink [options] [ws://host:port/room]     Join a room
  peerlink --serve [--listen :3536]             Run a relay

Options:
`, version)
	fs.SetOutput(stdout)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	fmt.Fprintf(stdout, `
Environment:
  PEERLINK_ROOM, PEERLINK_PLAYER, PEERLINK_HEARTBEAT, ...   override the config file

Examples:
  peerlink --serve                                  Relay on :3536
  peerlink ws://localhost:3536/game_room            Join game_room
  peerlink -J admin@bastion ws://10.0.0.5:3536/lan  Join through a jump host
  peerlink -c peerlink.yaml --dry-run               Check a config file
`)
}
