package httpwatch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akitasoftware/pcaptrack/httpproto"
	"github.com/akitasoftware/pcaptrack/tcpseg"
)

var (
	clientEp = tcpseg.NewEndpoint(net.ParseIP("10.1.1.1"), 54000)
	serverEp = tcpseg.NewEndpoint(net.ParseIP("10.1.1.2"), 80)
)

func send(w *HttpSessionWatcher, ep tcpseg.Endpoint, payload string) bool {
	torndown, _ := w.OnPacket(time.Unix(0, 0), ep, tcpseg.Segment{Src: ep, Payload: []byte(payload)})
	return torndown
}

func sendErr(w *HttpSessionWatcher, ep tcpseg.Endpoint, payload string) (bool, error) {
	return w.OnPacket(time.Unix(0, 0), ep, tcpseg.Segment{Src: ep, Payload: []byte(payload)})
}

func TestDirectionDiscoveryAndPairing(t *testing.T) {
	var reqs []*httpproto.HttpMessage
	var statuses []*httpproto.HttpMessage
	var paired []*httpproto.HttpMessage

	w := NewHttpSessionWatcher(0,
		func(_ time.Time, req *httpproto.HttpMessage) { reqs = append(reqs, req) },
		func(_ time.Time, status *httpproto.HttpMessage, p *httpproto.HttpMessage) {
			statuses = append(statuses, status)
			paired = append(paired, p)
		},
	)

	teardown := send(w, clientEp, "GET /a HTTP/1.1\r\n\r\n")
	require.False(t, teardown)
	teardown = send(w, serverEp, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	require.False(t, teardown)

	require.Len(t, reqs, 1)
	assert.Equal(t, "/a", reqs[0].URL)
	require.Len(t, statuses, 1)
	assert.Equal(t, 200, statuses[0].StatusCode)
	require.Len(t, paired, 1)
	assert.Same(t, reqs[0], paired[0])
}

func TestPipelinedRequestsPairInFifoOrder(t *testing.T) {
	var statuses []string
	var pairedURLs []string

	w := NewHttpSessionWatcher(0,
		nil,
		func(_ time.Time, status *httpproto.HttpMessage, p *httpproto.HttpMessage) {
			statuses = append(statuses, status.Reason)
			if p != nil {
				pairedURLs = append(pairedURLs, p.URL)
			} else {
				pairedURLs = append(pairedURLs, "")
			}
		},
	)

	require.False(t, send(w, clientEp, "GET /first HTTP/1.1\r\n\r\nGET /second HTTP/1.1\r\n\r\n"))
	require.False(t, send(w, serverEp,
		"HTTP/1.1 200 First\r\nContent-Length: 0\r\n\r\nHTTP/1.1 200 Second\r\nContent-Length: 0\r\n\r\n"))

	require.Len(t, statuses, 2)
	assert.Equal(t, []string{"/first", "/second"}, pairedURLs)
}

func TestStatusWithEmptyQueueHasNilPairing(t *testing.T) {
	var paired *httpproto.HttpMessage
	sawStatus := false

	w := NewHttpSessionWatcher(0, nil, func(_ time.Time, status *httpproto.HttpMessage, p *httpproto.HttpMessage) {
		sawStatus = true
		paired = p
	})

	require.False(t, send(w, serverEp, "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"))
	assert.True(t, sawStatus)
	assert.Nil(t, paired)
}

func TestByteBoundExceededTearsDown(t *testing.T) {
	w := NewHttpSessionWatcher(8, nil, nil)
	teardown, err := sendErr(w, clientEp, "GET /this-is-a-very-long-url-line HTTP/1.1\r\n\r\n")
	assert.True(t, teardown)
	assert.True(t, w.Torndown())
	assert.ErrorIs(t, err, ErrByteBoundExceeded)
}

func TestMalformedTrafficOnBothDirectionsTearsDown(t *testing.T) {
	w := NewHttpSessionWatcher(0, nil, nil)
	teardown, err := sendErr(w, clientEp, "NOT A REQUEST LINE AT ALL, JUST GARBAGE TEXT HERE\r\n")
	assert.True(t, teardown)
	assert.Error(t, err)
}

func TestDiscoveryPropagatesOppositeDirectionBeforeOtherFlowSendsBytes(t *testing.T) {
	var statuses []string

	w := NewHttpSessionWatcher(0, nil, func(_ time.Time, status *httpproto.HttpMessage, _ *httpproto.HttpMessage) {
		statuses = append(statuses, status.Reason)
	})

	require.False(t, send(w, clientEp, "GET /a HTTP/1.1\r\n\r\n"))

	// The server flow has never sent a byte yet; it must already be
	// DirectionServer from discovery on the client flow, not DirectionUnknown
	// running its own Request-then-Status trial.
	require.False(t, send(w, serverEp, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	require.Len(t, statuses, 1)
	assert.Equal(t, "OK", statuses[0])
}

func TestUserCallbackPanicIsSuppressed(t *testing.T) {
	w := NewHttpSessionWatcher(0, func(_ time.Time, _ *httpproto.HttpMessage) {
		panic("boom")
	}, nil)

	assert.NotPanics(t, func() {
		teardown := send(w, clientEp, "GET / HTTP/1.1\r\n\r\n")
		assert.False(t, teardown)
	})
}
