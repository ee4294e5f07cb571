package conntrack

import (
	"sort"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/akitasoftware/pcaptrack/tcpseg"
)

// idleCacheCleanupInterval controls how often go-cache sweeps for expired
// connections. It only affects how promptly ConnectionTimeout fires after
// the idle window elapses, not the O(1) reset cost spec.md §5 requires of
// every delivered segment. Kept well under the smallest idle timeout anyone
// would realistically configure, so eviction latency stays bounded.
const idleCacheCleanupInterval = 1 * time.Second

// Manager demultiplexes segments into Connections (spec.md §4.1). Concurrent
// callers must serialize calls to Process themselves (spec.md §5); Manager
// does its own internal locking to stay consistent with the idle-timeout
// goroutine, but does not promise fairness across concurrent Process calls.
type Manager struct {
	mu          sync.Mutex
	connections map[string]*Connection

	// idleTimeout is given to every new connection as its IdleTimeout
	// (spec.md §4.2/§5 default of 5 minutes at the manager level).
	idleTimeout time.Duration

	// idleCache drives ConnectionTimeout eviction. Each active connection is
	// stored under its canonical key with a TTL equal to its own
	// IdleTimeout; OnEvicted fires handleIdleTimeout. This replaces the
	// spec's suggested min-heap-of-deadlines design note with an
	// off-the-shelf expiring cache that gives the same O(1) reset.
	idleCache *cache.Cache

	listeners listenerSet

	now func() time.Time
}

// NewManager returns a Manager that gives idleTimeout to every connection it
// creates. A zero or negative idleTimeout selects DefaultManagerIdleTimeout.
func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultManagerIdleTimeout
	}

	m := &Manager{
		connections: make(map[string]*Connection),
		idleTimeout: idleTimeout,
		idleCache:   cache.New(cache.NoExpiration, idleCacheCleanupInterval),
		now:         time.Now,
	}
	m.idleCache.OnEvicted(func(key string, _ interface{}) {
		m.handleIdleTimeout(key)
	})
	return m
}

func (m *Manager) AddConnectionListener(l ConnectionListener) { m.listeners.addConnectionListener(l) }
func (m *Manager) AddPacketListener(l PacketListener)         { m.listeners.addPacketListener(l) }
func (m *Manager) AddFlowCloseListener(l FlowCloseListener)   { m.listeners.addFlowCloseListener(l) }
func (m *Manager) AddConnectionCloseListener(l ConnectionCloseListener) {
	m.listeners.addConnectionCloseListener(l)
}

// canonicalKey produces a map key that is the same regardless of which
// endpoint happened to be the segment's source, so both directions of a
// connection land in the same bucket (grounded on the
// lircn-httpdump tcp_assembly.go "sorted src/dst string" key scheme).
func canonicalKey(a, b tcpseg.Endpoint) string {
	as, bs := a.String(), b.String()
	if sort.StringsAreSorted([]string{as, bs}) {
		return as + "|" + bs
	}
	return bs + "|" + as
}

// Process demultiplexes seg into its Connection and Flow, running the
// connection's state machine and resetting its idle timer (spec.md
// "Operations" in §4.1, diagram in §2).
func (m *Manager) Process(seg tcpseg.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := seg.Timestamp
	if now.IsZero() {
		now = m.now()
	}

	key := canonicalKey(seg.Src, seg.Dst)
	conn, exists := m.connections[key]
	if !exists {
		// RST policy (spec.md §4.1, §9): a RST matching no existing
		// connection still creates one. Bug-preserving, by design.
		conn = newConnection(tcpseg.NewFlowKey(seg.Src, seg.Dst), seg, m.idleTimeout)
		m.connections[key] = conn
		m.idleCache.Set(key, struct{}{}, conn.IdleTimeout)
		m.listeners.fireConnectionFound(now, conn)
	} else {
		m.idleCache.Set(key, struct{}{}, conn.IdleTimeout)
	}

	if conn.closed {
		// Late packet for a connection already torn down; state no longer
		// transitions (spec.md §3 invariant), but listeners may still
		// observe it.
		flow := conn.flowFor(seg)
		flow.observe(seg)
		m.listeners.firePacketReceived(now, conn, flow, seg)
		return nil
	}

	flow := conn.flowFor(seg)
	flow.observe(seg)
	m.listeners.firePacketReceived(now, conn, flow, seg)

	if seg.Flags.FIN && flow.IsOpen {
		flow.IsOpen = false
		if !flow.flowClosedFired {
			flow.flowClosedFired = true
			m.listeners.fireFlowClosed(now, conn, flow)
		}
	}

	m.advanceStateMachine(now, conn, seg)

	// last_packet_time is monotone non-decreasing (spec.md §3 invariant),
	// even if segments arrive slightly out of timestamp order.
	if now.After(conn.LastPacketTime) {
		conn.LastPacketTime = now
	}

	return nil
}

// advanceStateMachine applies spec.md §4.2's table. Transitions are driven
// by segments in either direction, not by which Flow received them.
func (m *Manager) advanceStateMachine(now time.Time, conn *Connection, seg tcpseg.Segment) {
	switch conn.State {
	case Open:
		if finAck(seg) {
			conn.State = AwaitingFinAck2
		}
	case AwaitingFinAck2:
		if finAck(seg) {
			conn.State = AwaitingFinalAck
		}
	case AwaitingFinalAck:
		if seg.Flags.ACK {
			conn.State = Closed
			m.closeConnection(now, conn, FlowsClosed)
		}
	case Closed:
		// no further transitions (spec.md §3 invariant)
	}
}

// closeConnection marks conn closed, removes it from the active set, and
// fires connection_closed. Caller must hold m.mu.
//
// The idle-cache entry is left to expire rather than deleted here: go-cache's
// Delete runs OnEvicted synchronously, which would re-enter m.mu from
// handleIdleTimeout. When the stale entry expires, handleIdleTimeout finds no
// active connection under its key and does nothing; a new connection on the
// same key overwrites the entry with a fresh TTL.
func (m *Manager) closeConnection(now time.Time, conn *Connection, reason CloseReason) {
	if conn.closed {
		return
	}
	conn.closed = true
	conn.State = Closed

	key := canonicalKey(conn.Flows[0].Endpoint, conn.Flows[1].Endpoint)
	delete(m.connections, key)

	m.listeners.fireConnectionClosed(now, conn, reason)
}

// handleIdleTimeout is go-cache's eviction callback. It runs on go-cache's
// janitor goroutine and must be synchronized with Process (spec.md §5).
func (m *Manager) handleIdleTimeout(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, exists := m.connections[key]
	if !exists {
		// Already closed via the FIN/ACK path or Close, which leave the
		// cache entry to expire.
		return
	}
	m.closeConnection(m.now(), conn, ConnectionTimeout)
}

// ConnectionSummary is a lightweight, immutable snapshot of a Connection,
// used by the example CLIs and the debug status API (SPEC_FULL §4) so they
// don't need direct access to live, mutex-guarded state.
type ConnectionSummary struct {
	ID    string
	Key   tcpseg.FlowKey
	State State

	Flow0Endpoint, Flow1Endpoint tcpseg.Endpoint
	Flow0Open, Flow1Open         bool
	Flow0Bytes, Flow1Bytes       uint64
	LastPacketTime               time.Time
}

func summarize(c *Connection) ConnectionSummary {
	return ConnectionSummary{
		ID:             c.ID.String(),
		Key:            c.Key,
		State:          c.State,
		Flow0Endpoint:  c.Flows[0].Endpoint,
		Flow1Endpoint:  c.Flows[1].Endpoint,
		Flow0Open:      c.Flows[0].IsOpen,
		Flow1Open:      c.Flows[1].IsOpen,
		Flow0Bytes:     c.Flows[0].BytesDelivered,
		Flow1Bytes:     c.Flows[1].BytesDelivered,
		LastPacketTime: c.LastPacketTime,
	}
}

// Snapshot returns a point-in-time copy of all active connections (spec.md
// §4.1 "connections — observable snapshot").
func (m *Manager) Snapshot() []ConnectionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConnectionSummary, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, summarize(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close flushes every still-active connection as ConnectionTimeout closures
// (e.g. on process shutdown, so downstream consumers see a terminal event
// for every connection they were told about).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, c := range m.connections {
		m.closeConnection(now, c, ConnectionTimeout)
	}

	if len(m.connections) != 0 {
		return errors.New("conntrack: connections remained active after Close")
	}
	return nil
}
