package conntrack

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akitasoftware/pcaptrack/tcpseg"
)

var (
	clientEp = tcpseg.NewEndpoint(net.ParseIP("10.0.0.1"), 55000)
	serverEp = tcpseg.NewEndpoint(net.ParseIP("10.0.0.2"), 80)
)

func mkSeg(src, dst tcpseg.Endpoint, flags tcpseg.Flags, payload string) tcpseg.Segment {
	return tcpseg.Segment{
		Timestamp: time.Unix(1, 0),
		Src:       src,
		Dst:       dst,
		Flags:     flags,
		Payload:   []byte(payload),
	}
}

type recordingListener struct {
	found   []string
	packets []string
	closed  []CloseReason
}

func (r *recordingListener) OnConnectionFound(_ time.Time, c *Connection) {
	r.found = append(r.found, c.ID.String())
}
func (r *recordingListener) OnPacketReceived(_ time.Time, _ *Connection, _ *Flow, seg tcpseg.Segment) {
	r.packets = append(r.packets, string(seg.Payload))
}
func (r *recordingListener) OnConnectionClosed(_ time.Time, _ *Connection, reason CloseReason) {
	r.closed = append(r.closed, reason)
}

func TestProcessCreatesConnectionOnFirstSegment(t *testing.T) {
	m := NewManager(0)
	rec := &recordingListener{}
	m.AddConnectionListener(rec)
	m.AddPacketListener(rec)

	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{SYN: true}, "")))

	assert.Len(t, rec.found, 1)
	assert.Len(t, m.Snapshot(), 1)
}

func TestProcessMatchesBothDirectionsToSameConnection(t *testing.T) {
	m := NewManager(0)
	rec := &recordingListener{}
	m.AddConnectionListener(rec)

	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{SYN: true}, "")))
	require.NoError(t, m.Process(mkSeg(serverEp, clientEp, tcpseg.Flags{SYN: true, ACK: true}, "")))
	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{ACK: true}, "GET / HTTP/1.1\r\n\r\n")))

	assert.Len(t, rec.found, 1, "only one connection should ever be created")
	assert.Len(t, m.Snapshot(), 1)
}

func TestRstWithNoMatchingConnectionStillCreatesOne(t *testing.T) {
	// Bug-preserving open-question resolution: an RST that matches nothing
	// still results in a new Connection.
	m := NewManager(0)
	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{RST: true}, "")))
	assert.Len(t, m.Snapshot(), 1)
}

func TestFinAckFinAckAckClosesConnection(t *testing.T) {
	m := NewManager(0)
	rec := &recordingListener{}
	m.AddConnectionCloseListener(rec)

	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{ACK: true}, "req")))
	require.NoError(t, m.Process(mkSeg(serverEp, clientEp, tcpseg.Flags{ACK: true}, "resp")))

	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{FIN: true, ACK: true}, "")))
	assert.Len(t, m.Snapshot(), 1, "connection must still be open after only 1st FIN/ACK")

	require.NoError(t, m.Process(mkSeg(serverEp, clientEp, tcpseg.Flags{FIN: true, ACK: true}, "")))
	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{ACK: true}, "")))

	assert.Empty(t, m.Snapshot(), "connection must be removed from the active set once closed")
	require.Len(t, rec.closed, 1)
	assert.Equal(t, FlowsClosed, rec.closed[0])
}

func TestFlowCloseListenerFiresOncePerDirection(t *testing.T) {
	m := NewManager(0)

	var closes []tcpseg.Endpoint
	m.AddFlowCloseListener(flowCloseFunc(func(_ time.Time, _ *Connection, f *Flow) {
		closes = append(closes, f.Endpoint)
	}))

	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{ACK: true}, "x")))
	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{FIN: true, ACK: true}, "")))
	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{FIN: true, ACK: true}, "")))

	assert.Len(t, closes, 1, "duplicate FIN from the same direction must not refire the listener")
}

// flowCloseFunc adapts a function literal to FlowCloseListener for tests.
type flowCloseFunc func(now time.Time, c *Connection, f *Flow)

func (f flowCloseFunc) OnFlowClosed(now time.Time, c *Connection, fl *Flow) { f(now, c, fl) }

func TestSnapshotReflectsByteCounters(t *testing.T) {
	m := NewManager(0)
	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{ACK: true}, "hello")))
	require.NoError(t, m.Process(mkSeg(serverEp, clientEp, tcpseg.Flags{ACK: true}, "hi")))

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(5), snap[0].Flow0Bytes)
	assert.Equal(t, uint64(2), snap[0].Flow1Bytes)
}

func TestCloseFlushesActiveConnectionsAsTimeouts(t *testing.T) {
	m := NewManager(0)
	rec := &recordingListener{}
	m.AddConnectionCloseListener(rec)

	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{SYN: true}, "")))
	require.NoError(t, m.Close())

	assert.Empty(t, m.Snapshot())
	require.Len(t, rec.closed, 1)
	assert.Equal(t, ConnectionTimeout, rec.closed[0])
}

// syncRecordingListener is like recordingListener but safe to read/write
// from go-cache's janitor goroutine and the test goroutine concurrently.
type syncRecordingListener struct {
	mu     sync.Mutex
	closed []CloseReason
}

func (r *syncRecordingListener) OnConnectionClosed(_ time.Time, _ *Connection, reason CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, reason)
}

func (r *syncRecordingListener) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closed)
}

func (r *syncRecordingListener) firstReason() CloseReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[0]
}

func TestIdleTimeoutEvictsConnectionOnRealTimer(t *testing.T) {
	m := NewManager(50 * time.Millisecond)
	rec := &syncRecordingListener{}
	m.AddConnectionCloseListener(rec)

	require.NoError(t, m.Process(mkSeg(clientEp, serverEp, tcpseg.Flags{SYN: true}, "")))
	require.Len(t, m.Snapshot(), 1)

	assert.Eventually(t, func() bool {
		return rec.closeCount() == 1
	}, 3*time.Second, 50*time.Millisecond, "go-cache's OnEvicted callback should fire ConnectionTimeout")

	assert.Equal(t, ConnectionTimeout, rec.firstReason())
	assert.Empty(t, m.Snapshot())
}

func TestCanonicalKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, canonicalKey(clientEp, serverEp), canonicalKey(serverEp, clientEp))
}
