// Package statusapi exposes a small read-only HTTP API over a running
// conntrack.Manager, for operators who want to poll connection state instead
// of (or alongside) tailing a CLI's stdout (SPEC_FULL.md §4 "debug status
// server").
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/akitasoftware/pcaptrack/conntrack"
)

type connectionView struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	Flow0          string `json:"flow0"`
	Flow1          string `json:"flow1"`
	Flow0Open      bool   `json:"flow0_open"`
	Flow1Open      bool   `json:"flow1_open"`
	Flow0Bytes     uint64 `json:"flow0_bytes"`
	Flow1Bytes     uint64 `json:"flow1_bytes"`
	LastPacketUnix int64  `json:"last_packet_unix"`
}

// NewServer builds a *http.Server wrapping a mux.Router that reports on
// manager's live state. The caller is responsible for calling ListenAndServe
// and for shutting the server down.
func NewServer(addr string, manager *conntrack.Manager) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/connections", func(w http.ResponseWriter, req *http.Request) {
		snapshot := manager.Snapshot()
		views := make([]connectionView, 0, len(snapshot))
		for _, c := range snapshot {
			views = append(views, connectionView{
				ID:             c.ID,
				State:          c.State.String(),
				Flow0:          c.Flow0Endpoint.String(),
				Flow1:          c.Flow1Endpoint.String(),
				Flow0Open:      c.Flow0Open,
				Flow1Open:      c.Flow1Open,
				Flow0Bytes:     c.Flow0Bytes,
				Flow1Bytes:     c.Flow1Bytes,
				LastPacketUnix: c.LastPacketTime.Unix(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
