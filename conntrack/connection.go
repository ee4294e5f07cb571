// Package conntrack demultiplexes tcpseg.Segment values into bidirectional
// Connections and per-direction Flows, and tracks each connection's FIN/ACK
// close sequence and idle timeout (spec.md §3, §4.1, §4.2).
package conntrack

import (
	"time"

	"github.com/google/uuid"

	"github.com/akitasoftware/pcaptrack/tcpseg"
)

// State is a Connection's position in the FIN/ACK close sequence (spec.md
// §4.2). Once Closed is reached no further transitions occur.
type State int

const (
	Open State = iota
	AwaitingFinAck2
	AwaitingFinalAck
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case AwaitingFinAck2:
		return "AwaitingFinAck2"
	case AwaitingFinalAck:
		return "AwaitingFinalAck"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CloseReason distinguishes a graceful FIN/ACK close from an idle-timeout
// eviction, both of which fire the same connection_closed event (spec.md
// §4.2).
type CloseReason int

const (
	FlowsClosed CloseReason = iota
	ConnectionTimeout
)

func (r CloseReason) String() string {
	if r == ConnectionTimeout {
		return "ConnectionTimeout"
	}
	return "FlowsClosed"
}

// Flow is one direction of a Connection (spec.md §3).
type Flow struct {
	Endpoint tcpseg.Endpoint

	IsOpen bool

	// LastSeq/LastAck are the most recently observed sequence and
	// acknowledgment numbers on this flow. HaveSeq/HaveAck are false until
	// the first segment is delivered.
	LastSeq, LastAck uint32
	HaveSeq, HaveAck bool

	// BytesDelivered is the cumulative payload length delivered on this flow,
	// independent of whether any higher-level protocol recognized it.
	// Supplements spec.md §6's "bandwidth monitor" example CLI (SPEC_FULL §4).
	BytesDelivered uint64

	flowClosedFired bool
}

func newFlow(ep tcpseg.Endpoint) *Flow {
	return &Flow{Endpoint: ep, IsOpen: true}
}

func (f *Flow) observe(seg tcpseg.Segment) {
	f.LastSeq, f.HaveSeq = seg.Seq, true
	f.LastAck, f.HaveAck = seg.Ack, true
	f.BytesDelivered += uint64(len(seg.Payload))
}

// Connection is a bidirectional TCP association identified by an unordered
// endpoint pair (spec.md §3). It always owns exactly two Flows: Flows[0] is
// the endpoint that sent the first segment ever observed for this
// connection.
type Connection struct {
	ID uuid.UUID

	Key   tcpseg.FlowKey
	Flows [2]*Flow

	State State

	LastPacketTime time.Time
	IdleTimeout    time.Duration

	closed bool
}

// DEFAULT idle timeouts (spec.md §4.2, §5). NewManager falls back to
// DefaultManagerIdleTimeout when given no positive timeout, and every new
// Connection takes its manager's timeout as its IdleTimeout; Manager.Process
// re-arms the idle timer from Connection.IdleTimeout on each segment.
// DefaultConnectionIdleTimeout is not applied anywhere in this package.
const (
	DefaultConnectionIdleTimeout = 10 * time.Minute
	DefaultManagerIdleTimeout    = 5 * time.Minute
)

func newConnection(key tcpseg.FlowKey, first tcpseg.Segment, idleTimeout time.Duration) *Connection {
	c := &Connection{
		ID:          uuid.New(),
		Key:         key,
		State:       Open,
		IdleTimeout: idleTimeout,
	}
	c.Flows[0] = newFlow(first.Src)
	c.Flows[1] = newFlow(first.Dst)
	return c
}

// flowFor returns the Flow whose endpoint equals the segment's source, which
// is always one of Flows[0]/Flows[1] given the matching rule in spec.md
// §4.1.
func (c *Connection) flowFor(seg tcpseg.Segment) *Flow {
	if c.Flows[0].Endpoint.Equal(seg.Src) {
		return c.Flows[0]
	}
	return c.Flows[1]
}

func (c *Connection) otherFlow(f *Flow) *Flow {
	if c.Flows[0] == f {
		return c.Flows[1]
	}
	return c.Flows[0]
}

// finAck reports whether a segment carries both FIN and ACK, the trigger for
// every state-machine transition except the final bare ACK (spec.md §4.2's
// table).
func finAck(seg tcpseg.Segment) bool {
	return seg.Flags.FIN && seg.Flags.ACK
}
