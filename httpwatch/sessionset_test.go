package httpwatch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akitasoftware/pcaptrack/conntrack"
	"github.com/akitasoftware/pcaptrack/httpproto"
	"github.com/akitasoftware/pcaptrack/tcpseg"
)

func TestSessionSetRoutesPerConnectionWatchers(t *testing.T) {
	var requests []string

	ss := NewSessionSet(0, func(_ time.Time, req *httpproto.HttpMessage) {
		requests = append(requests, req.URL)
	}, nil, nil)

	m := conntrack.NewManager(0)
	m.AddConnectionListener(ss)
	m.AddPacketListener(ss)
	m.AddConnectionCloseListener(ss)

	client := tcpseg.NewEndpoint(net.ParseIP("10.2.2.1"), 1234)
	server := tcpseg.NewEndpoint(net.ParseIP("10.2.2.2"), 80)

	require.NoError(t, m.Process(tcpseg.Segment{
		Src: client, Dst: server, Flags: tcpseg.Flags{ACK: true},
		Payload: []byte("GET /resource HTTP/1.1\r\n\r\n"),
	}))

	assert.Equal(t, 1, ss.WatcherCount())
	assert.Equal(t, []string{"/resource"}, requests)
}

func TestSessionSetRemovesWatcherOnConnectionClose(t *testing.T) {
	ss := NewSessionSet(0, nil, nil, nil)
	m := conntrack.NewManager(0)
	m.AddConnectionListener(ss)
	m.AddPacketListener(ss)
	m.AddConnectionCloseListener(ss)

	client := tcpseg.NewEndpoint(net.ParseIP("10.2.2.3"), 1234)
	server := tcpseg.NewEndpoint(net.ParseIP("10.2.2.4"), 80)

	require.NoError(t, m.Process(tcpseg.Segment{Src: client, Dst: server, Flags: tcpseg.Flags{ACK: true}}))
	require.NoError(t, m.Close())

	assert.Equal(t, 0, ss.WatcherCount())
}

func TestSessionSetSurfacesTeardownError(t *testing.T) {
	var gotErr error
	var gotConn *conntrack.Connection

	ss := NewSessionSet(8, nil, nil, func(_ time.Time, c *conntrack.Connection, err error) {
		gotConn = c
		gotErr = err
	})
	m := conntrack.NewManager(0)
	m.AddConnectionListener(ss)
	m.AddPacketListener(ss)
	m.AddConnectionCloseListener(ss)

	client := tcpseg.NewEndpoint(net.ParseIP("10.2.2.5"), 1234)
	server := tcpseg.NewEndpoint(net.ParseIP("10.2.2.6"), 80)

	require.NoError(t, m.Process(tcpseg.Segment{
		Src: client, Dst: server, Flags: tcpseg.Flags{ACK: true},
		Payload: []byte("GET /this-is-a-very-long-url-line HTTP/1.1\r\n\r\n"),
	}))

	assert.Equal(t, 0, ss.WatcherCount())
	require.NotNil(t, gotConn)
	assert.ErrorIs(t, gotErr, ErrByteBoundExceeded)
}
