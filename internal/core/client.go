package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"peerlink/config"
	"peerlink/internal/metrics"
	"peerlink/internal/protocol"
	"peerlink/internal/session"
	"peerlink/internal/transport"
	"peerlink/util"
)

// ClientMode joins a room and runs a line-oriented console: each input
// line is a chat message or a slash command, and the session snapshot
// is rendered once per frame.
type ClientMode struct {
	Config  config.Config
	Dialer  transport.Dialer
	Logger  *util.Logger
	Metrics *metrics.Collector

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer

	mgr      *session.Manager
	view     view
	sequence uint32
}

func (m *ClientMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ClientMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run starts the session, joins the configured room and processes
// console input until /quit, end of input or ctx cancellation.
func (m *ClientMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()
	if m.Logger == nil {
		m.Logger = util.Nop()
	}

	mgr, err := session.New(m.Config, session.Options{
		Dialer:  m.Dialer,
		Logger:  m.Logger,
		Metrics: m.Metrics,
	})
	if err != nil {
		return err
	}
	m.mgr = mgr

	loopCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- mgr.Run(loopCtx) }()
	defer func() {
		stop()
		<-done
	}()

	if err := mgr.Connect(ctx, ""); err != nil {
		// The reconnect monitor keeps trying; report and carry on.
		m.printf("connect failed: %v\n", err)
	}

	lines := make(chan string)
	quit := make(chan struct{})
	defer close(quit)
	go readLines(m.stdin(), lines, quit)

	interval := m.Config.FrameInterval
	if interval <= 0 {
		interval = config.DefaultFrameInterval
	}
	frame := time.NewTicker(interval)
	defer frame.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-frame.C:
			m.render(mgr.State())
		case line, ok := <-lines:
			if !ok {
				m.render(mgr.State())
				return nil
			}
			if quit := m.command(ctx, line); quit {
				return nil
			}
		}
	}
}

// readLines feeds r to out line by line until r ends or quit closes.
func readLines(r io.Reader, out chan<- string, quit <-chan struct{}) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case out <- sc.Text():
		case <-quit:
			return
		}
	}
}

func (m *ClientMode) printf(format string, args ...interface{}) {
	fmt.Fprintf(m.stdout(), format, args...)
}

// ── Commands ─────────────────────────────────────────────────────────

const helpText = `commands:
  /move X Y         publish a position update
  /ping             measure round-trip time
  /peers            list room members
  /stats            print traffic counters
  /reconnect        drop and rejoin the room
  /disconnect       leave the room
  /connect [ROOM]   join ROOM or the configured room
  /quit             exit
anything else is sent as chat
`

// command executes one console line and reports whether to exit.
func (m *ClientMode) command(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		m.report(m.mgr.Send(ctx, protocol.Chat{Text: line}))
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		m.printf("%s", helpText)
	case "/ping":
		m.report(m.mgr.Send(ctx, protocol.Ping{}))
	case "/move":
		gs, err := m.move(fields[1:])
		if err != nil {
			m.report(err)
			return false
		}
		m.report(m.mgr.Send(ctx, gs))
	case "/peers":
		m.printPeers(m.mgr.State())
	case "/stats":
		m.printStats(m.mgr.State())
	case "/reconnect":
		m.report(m.mgr.Reconnect(ctx))
	case "/disconnect":
		m.report(m.mgr.Disconnect(ctx))
	case "/connect":
		addr := ""
		if len(fields) > 1 {
			addr = fields[1]
		}
		m.report(m.mgr.Connect(ctx, addr))
	default:
		m.printf("unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func (m *ClientMode) report(err error) {
	if err != nil {
		m.printf("error: %v\n", err)
	}
}

// move builds the next position update from "X Y".
func (m *ClientMode) move(args []string) (protocol.GameState, error) {
	if len(args) != 2 {
		return protocol.GameState{}, fmt.Errorf("usage: /move X Y")
	}
	x, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return protocol.GameState{}, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return protocol.GameState{}, fmt.Errorf("y: %w", err)
	}
	m.sequence++
	return protocol.GameState{
		PlayerID:  m.Config.PlayerName,
		Position:  protocol.Position{X: float32(x), Y: float32(y)},
		Timestamp: uint64(time.Now().UnixMilli()),
		Sequence:  m.sequence,
	}, nil
}

func (m *ClientMode) printPeers(st session.State) {
	if len(st.Peers) == 0 {
		m.printf("no peers\n")
		return
	}
	for _, p := range st.Peers {
		line := fmt.Sprintf("  %s  joined %s", shortID(p.ID), p.ConnectedAt.Format(time.TimeOnly))
		if gs, ok := st.PeerStates[p.ID]; ok {
			line += fmt.Sprintf("  %s at (%.1f, %.1f)", gs.PlayerID, gs.Position.X, gs.Position.Y)
		}
		m.printf("%s\n", line)
	}
}

func (m *ClientMode) printStats(st session.State) {
	rtt := "n/a"
	if st.Stats.LastRoundTrip != nil {
		rtt = st.Stats.LastRoundTrip.Round(time.Microsecond).String()
	}
	m.printf("session: sent=%d recv=%d dropped=%d rtt=%s loss=%.1f%%\n",
		st.Stats.MessagesSent, st.Stats.MessagesReceived, st.Stats.Dropped,
		rtt, st.Stats.PacketLoss*100)
	m.printf("totals: %s\n", m.Metrics.JSON())
}

// ── Rendering ────────────────────────────────────────────────────────

// view remembers what the console has already printed.
type view struct {
	phase   session.Phase
	reason  string
	peers   int
	last    session.Entry
	printed bool
}

// render prints what changed since the previous frame.  A contended
// read comes back as the zero State, whose Peers is nil; that frame is
// skipped.
func (m *ClientMode) render(st session.State) {
	if st.Peers == nil {
		return
	}
	v := &m.view

	if st.Phase != v.phase || st.Reason != v.reason {
		switch {
		case st.Phase == session.Connected:
			m.printf("* connected as %s\n", shortID(st.LocalID))
		case st.Reason != "":
			m.printf("* %s: %s\n", st.Phase, st.Reason)
		default:
			m.printf("* %s\n", st.Phase)
		}
		v.phase, v.reason = st.Phase, st.Reason
	}

	if len(st.Peers) != v.peers {
		m.printf("* %d peer(s) in room\n", len(st.Peers))
		v.peers = len(st.Peers)
	}

	for _, e := range unseen(st.Messages, v.last, v.printed) {
		who := shortID(e.Peer)
		if e.Peer == st.LocalID {
			who = "you"
		}
		m.printf("<%s> %s\n", who, e.Text)
		v.last, v.printed = e, true
	}
}

// unseen returns the entries after last.  When last has been evicted
// from the log every entry is new.
func unseen(log []session.Entry, last session.Entry, printed bool) []session.Entry {
	if !printed {
		return log
	}
	for i := len(log) - 1; i >= 0; i-- {
		if log[i] == last {
			return log[i+1:]
		}
	}
	return log
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
