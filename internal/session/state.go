package session

import (
	"sort"
	"sync"
	"time"

	perr "peerlink/internal/errors"
	"peerlink/internal/protocol"
)

// Phase is the lifecycle stage of a session.
type Phase uint8

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Reconnecting
	// Errored means the transport failed; the monitor may retry.
	Errored
	// Exhausted is Errored with no reconnect budget left.  Only a new
	// Connect leaves it.
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Errored:
		return "error"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Peer is a remote member of the current room.
type Peer struct {
	ID          string
	ConnectedAt time.Time
	// LastSeen is updated on every inbound packet from the peer.
	LastSeen time.Time
}

// Entry is one chat line.
type Entry struct {
	Peer      string
	Text      string
	Timestamp time.Time
}

// Stats are the traffic counters of a Manager.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	// Dropped counts inbound packets that failed to decode.
	Dropped uint64
	// LastRoundTrip is the latest Ping/Pong round trip, nil until one
	// completes.
	LastRoundTrip *time.Duration
	// PacketLoss is the fraction of game-state updates never received,
	// inferred from sequence gaps.
	PacketLoss float64
}

// State is a point-in-time copy of a session.  The zero value is what
// a consumer sees when the snapshot lock is contended.
type State struct {
	Phase             Phase
	Reason            string
	LocalID           string
	Peers             []Peer
	Messages          []Entry
	PeerStates        map[string]protocol.GameState
	ReconnectAttempts int
	LastHeartbeat     time.Time
	Stats             Stats
}

// Exhausted reports whether reconnecting has been given up.
func (s State) Exhausted() bool { return s.Phase == Exhausted }

// reconnectOutcome is the result of one monitor tick.
type reconnectOutcome uint8

const (
	reconnectNone reconnectOutcome = iota
	reconnectStarted
	reconnectExhausted
)

// lossCounter tracks game-state sequence numbers from one peer.
type lossCounter struct {
	last     uint32
	expected uint64
	received uint64
}

// store is the lock-guarded session record.  The event loop writes
// peers, messages and stats; the heartbeat task writes only
// lastHeartbeat; the monitor changes phase and attempts only through
// beginReconnect.
type store struct {
	mu sync.Mutex

	phase         Phase
	reason        string
	localID       string
	peers         map[string]*Peer
	history       *history
	peerStates    map[string]protocol.GameState
	loss          map[string]*lossCounter
	attempts      int
	lastHeartbeat time.Time
	stats         Stats
	pingSent      time.Time
}

func newStore(historyLimit int) *store {
	return &store{
		peers:      make(map[string]*Peer),
		history:    newHistory(historyLimit),
		peerStates: make(map[string]protocol.GameState),
		loss:       make(map[string]*lossCounter),
	}
}

// snapshot copies the state without waiting.  On contention it
// returns the zero State and false.
func (s *store) snapshot() (State, bool) {
	if !s.mu.TryLock() {
		return State{}, false
	}
	defer s.mu.Unlock()

	st := State{
		Phase:             s.phase,
		Reason:            s.reason,
		LocalID:           s.localID,
		Peers:             make([]Peer, 0, len(s.peers)),
		Messages:          s.history.entries(),
		PeerStates:        make(map[string]protocol.GameState, len(s.peerStates)),
		ReconnectAttempts: s.attempts,
		LastHeartbeat:     s.lastHeartbeat,
		Stats:             s.stats,
	}
	for _, p := range s.peers {
		st.Peers = append(st.Peers, *p)
	}
	sort.Slice(st.Peers, func(i, j int) bool {
		if !st.Peers[i].ConnectedAt.Equal(st.Peers[j].ConnectedAt) {
			return st.Peers[i].ConnectedAt.Before(st.Peers[j].ConnectedAt)
		}
		return st.Peers[i].ID < st.Peers[j].ID
	})
	for id, gs := range s.peerStates {
		st.PeerStates[id] = gs
	}
	if s.stats.LastRoundTrip != nil {
		rtt := *s.stats.LastRoundTrip
		st.Stats.LastRoundTrip = &rtt
	}
	return st, true
}

func (s *store) currentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ── Phase transitions ────────────────────────────────────────────────

// beginConnect moves to Connecting.  A fresh connect starts a new
// session instance and resets the reconnect budget.
func (s *store) beginConnect(fresh bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case Connected, Connecting:
		return perr.ErrAlreadyConnected
	}
	if fresh {
		s.attempts = 0
	}
	s.phase = Connecting
	s.reason = ""
	return nil
}

// connected enters Connected with the id the room assigned.
func (s *store) connected(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = Connected
	s.reason = ""
	s.localID = localID
	s.attempts = 0
	s.clearPeersLocked()
}

// failed enters Errored and forgets the room.
func (s *store) failed(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = Errored
	s.reason = reason
	s.clearPeersLocked()
}

// gaveUp enters Exhausted without spending the reconnect budget, for
// failures no retry can fix.
func (s *store) gaveUp(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = Exhausted
	s.reason = reason
	s.clearPeersLocked()
}

// disconnected enters Disconnected and forgets the room.
func (s *store) disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = Disconnected
	s.reason = ""
	s.clearPeersLocked()
}

// beginReconnect is the monitor's single check-and-transition.
func (s *store) beginReconnect(ceiling int) (int, reconnectOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Errored {
		return s.attempts, reconnectNone
	}
	if s.attempts >= ceiling {
		s.phase = Exhausted
		if s.reason == "" {
			s.reason = perr.ErrReconnectExhausted.Error()
		} else {
			s.reason += "; " + perr.ErrReconnectExhausted.Error()
		}
		return s.attempts, reconnectExhausted
	}
	s.attempts++
	s.phase = Reconnecting
	return s.attempts, reconnectStarted
}

// abandonReconnect returns a pending Reconnecting phase to Errored so
// a restarted monitor picks it up again.
func (s *store) abandonReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Reconnecting {
		s.phase = Errored
	}
}

// heartbeat stamps lastHeartbeat if the session is connected.
func (s *store) heartbeat(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Connected {
		return false
	}
	s.lastHeartbeat = now
	return true
}

func (s *store) clearPeersLocked() {
	s.peers = make(map[string]*Peer)
	s.peerStates = make(map[string]protocol.GameState)
	s.loss = make(map[string]*lossCounter)
}

// ── Peers ────────────────────────────────────────────────────────────

func (s *store) peerJoined(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		return
	}
	s.peers[id] = &Peer{ID: id, ConnectedAt: now, LastSeen: now}
}

func (s *store) peerLeft(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
	delete(s.peerStates, id)
	delete(s.loss, id)
}

// ── Traffic ──────────────────────────────────────────────────────────

// sent records a transmitted message.  Chats join the log under the
// local id; pings start a round-trip measurement.
func (s *store) sent(m protocol.Message, size int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.MessagesSent++
	s.stats.BytesSent += uint64(size)

	switch v := m.(type) {
	case protocol.Chat:
		s.history.add(Entry{Peer: s.localID, Text: v.Text, Timestamp: now})
	case protocol.Ping:
		s.pingSent = now
	}
}

// received records a decoded inbound message from peer.
func (s *store) received(peer string, m protocol.Message, size int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.MessagesReceived++
	s.stats.BytesReceived += uint64(size)
	if p, ok := s.peers[peer]; ok {
		p.LastSeen = now
	}

	switch v := m.(type) {
	case protocol.Chat:
		s.history.add(Entry{Peer: peer, Text: v.Text, Timestamp: now})
	case protocol.GameState:
		s.applyGameStateLocked(peer, v)
	case protocol.Pong:
		if !s.pingSent.IsZero() {
			rtt := now.Sub(s.pingSent)
			s.stats.LastRoundTrip = &rtt
			s.pingSent = time.Time{}
		}
	}
}

func (s *store) dropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Dropped++
}

// applyGameStateLocked keeps the newest update per peer.  Updates with
// a sequence at or below the last one seen are stale and ignored.
func (s *store) applyGameStateLocked(peer string, gs protocol.GameState) {
	lc, ok := s.loss[peer]
	if !ok {
		s.loss[peer] = &lossCounter{last: gs.Sequence, expected: 1, received: 1}
		s.peerStates[peer] = gs
		s.updateLossLocked()
		return
	}
	if gs.Sequence <= lc.last {
		return
	}
	lc.expected += uint64(gs.Sequence - lc.last)
	lc.received++
	lc.last = gs.Sequence
	s.peerStates[peer] = gs
	s.updateLossLocked()
}

func (s *store) updateLossLocked() {
	var expected, received uint64
	for _, lc := range s.loss {
		expected += lc.expected
		received += lc.received
	}
	if expected == 0 {
		s.stats.PacketLoss = 0
		return
	}
	s.stats.PacketLoss = float64(expected-received) / float64(expected)
}

func (s *store) resizeHistory(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.resize(limit)
}
