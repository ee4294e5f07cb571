package statusapi

import (
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akitasoftware/pcaptrack/conntrack"
	"github.com/akitasoftware/pcaptrack/tcpseg"
)

func TestHealthz(t *testing.T) {
	srv := NewServer(":0", conntrack.NewManager(0))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestConnectionsReflectsManagerState(t *testing.T) {
	m := conntrack.NewManager(0)
	srv := NewServer(":0", m)

	client := tcpseg.NewEndpoint(net.ParseIP("10.5.5.1"), 1111)
	server := tcpseg.NewEndpoint(net.ParseIP("10.5.5.2"), 80)
	require.NoError(t, m.Process(tcpseg.Segment{
		Src: client, Dst: server, Flags: tcpseg.Flags{ACK: true}, Payload: []byte("hi"),
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/connections", nil)
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var views []connectionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Open", views[0].State)
	assert.Equal(t, uint64(2), views[0].Flow0Bytes)
}
