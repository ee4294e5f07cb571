// Package httpwatch implements HttpSessionWatcher (spec.md §4.7): per
// connection, it discovers which flow is the client and which is the
// server, feeds each flow's bytes through an httpproto.HttpMessage, and
// pairs completed requests with completed statuses across the connection's
// two flows.
package httpwatch

import (
	"time"

	"github.com/akitasoftware/pcaptrack/httpproto"
	"github.com/akitasoftware/pcaptrack/reassembly"
	"github.com/akitasoftware/pcaptrack/tcpseg"
)

// Direction is which side of an HTTP exchange a flow turned out to be.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionClient
	DirectionServer
)

// RequestFoundFunc is called once per completed request on the client flow.
type RequestFoundFunc func(now time.Time, req *httpproto.HttpMessage)

// StatusFoundFunc is called once per completed status on the server flow.
// paired is the request it was matched with via FIFO pairing, or nil if the
// pending-request queue was empty (spec.md §4.7 "still emitted with no
// back-reference").
type StatusFoundFunc func(now time.Time, status *httpproto.HttpMessage, paired *httpproto.HttpMessage)

// flowState holds one direction's reassembled stream and in-progress
// message.
type flowState struct {
	endpoint      tcpseg.Endpoint
	endpointKnown bool
	stream        *reassembly.StreamReassembler

	direction Direction

	// trialKind/trialStart track direction discovery: the first bytes are
	// tentatively parsed as a Request; on Error, discovery rewinds and
	// retries as a Status (spec.md §4.7 "Discovery").
	trialKind  httpproto.Kind
	trialStart int

	current *httpproto.HttpMessage
}

// HttpSessionWatcher watches one Connection's two flows (spec.md §4.7).
type HttpSessionWatcher struct {
	byteBound int

	flows [2]*flowState

	pending []*httpproto.HttpMessage

	onRequest RequestFoundFunc
	onStatus  StatusFoundFunc

	torndown    bool
	teardownErr error
}

// NewHttpSessionWatcher constructs a watcher. byteBound is the per-flow
// upper bound in bytes before the watcher tears down with an error
// (spec.md §4.7 "Per-flow bound"); 0 disables the bound.
func NewHttpSessionWatcher(byteBound int, onRequest RequestFoundFunc, onStatus StatusFoundFunc) *HttpSessionWatcher {
	return &HttpSessionWatcher{
		byteBound: byteBound,
		onRequest: onRequest,
		onStatus:  onStatus,
	}
}

// flowStateFor returns the flowState for ep, adopting a direction-resolved
// placeholder (allocated by assignOppositeDirection before this endpoint
// ever sent a byte) if one is waiting, or allocating a fresh flowState
// otherwise.
func (w *HttpSessionWatcher) flowStateFor(ep tcpseg.Endpoint) *flowState {
	for _, fs := range w.flows {
		if fs != nil && fs.endpointKnown && fs.endpoint.Equal(ep) {
			return fs
		}
	}
	for i, fs := range w.flows {
		if fs == nil {
			nfs := &flowState{endpoint: ep, endpointKnown: true, stream: reassembly.NewStreamReassembler()}
			w.flows[i] = nfs
			return nfs
		}
		if !fs.endpointKnown {
			fs.endpoint = ep
			fs.endpointKnown = true
			return fs
		}
	}
	// Connection already owns exactly 2 flows (conntrack invariant); a third
	// distinct endpoint should never reach here.
	return w.flows[1]
}

// Torndown reports whether this watcher has already stopped monitoring.
func (w *HttpSessionWatcher) Torndown() bool { return w.torndown }

// OnPacket feeds one segment's payload into the flow it belongs to. It
// returns true if the watcher tore down as a result (spec.md §4.7
// "Teardown conditions"), along with the cause; once torn down, further
// calls are no-ops that return true with a nil error.
func (w *HttpSessionWatcher) OnPacket(now time.Time, ep tcpseg.Endpoint, seg tcpseg.Segment) (bool, error) {
	if w.torndown {
		return true, nil
	}

	fs := w.flowStateFor(ep)
	if err := fs.stream.Append(seg); err != nil {
		return w.teardown(err), w.teardownErr
	}

	if w.byteBound > 0 && fs.stream.Length() > w.byteBound {
		return w.teardown(ErrByteBoundExceeded), w.teardownErr
	}

	if len(seg.Payload) == 0 {
		return false, nil
	}

	return w.pump(now, fs), w.teardownErr
}

func (w *HttpSessionWatcher) teardown(cause error) bool {
	w.torndown = true
	w.teardownErr = cause
	return true
}

func (w *HttpSessionWatcher) pump(now time.Time, fs *flowState) bool {
	for {
		if fs.direction == DirectionUnknown {
			resolved, teardown, err := w.discoverDirection(fs)
			if teardown {
				return w.teardown(err)
			}
			if !resolved {
				return false
			}
			w.deliver(now, fs)
			fs.current = nil
			// Drop consumed packets so byteBound measures unparsed bytes.
			fs.stream = fs.stream.TrimUnusedPackets()
			continue
		}

		if fs.current == nil {
			fs.current = newMessage(fs.direction)
		}

		outcome, err := fs.current.Process(fs.stream)
		switch outcome {
		case httpproto.NeedMoreData:
			return false
		case httpproto.Errored:
			return w.teardown(err)
		case httpproto.Complete:
			w.deliver(now, fs)
			fs.current = nil
			fs.stream = fs.stream.TrimUnusedPackets()
		}
	}
}

// discoverDirection implements spec.md §4.7's speculative Request-then-Status
// parse. On success, fs.current holds the now-Complete message the trial
// produced; the caller is responsible for delivering and clearing it. The
// opposite flow is assigned the complementary direction immediately, so it
// never runs its own independent trial (spec.md §4.7 "Once set, the
// direction is immutable" for both flows of the pair, not just this one).
func (w *HttpSessionWatcher) discoverDirection(fs *flowState) (resolved, teardown bool, err error) {
	for {
		if fs.current == nil {
			fs.trialStart = fs.stream.Position()
			fs.current = httpproto.NewRequest()
			fs.trialKind = httpproto.KindRequest
		}

		outcome, procErr := fs.current.Process(fs.stream)
		switch outcome {
		case httpproto.NeedMoreData:
			return false, false, nil
		case httpproto.Complete:
			if fs.trialKind == httpproto.KindRequest {
				fs.direction = DirectionClient
			} else {
				fs.direction = DirectionServer
			}
			w.assignOppositeDirection(fs)
			return true, false, nil
		case httpproto.Errored:
			if fs.trialKind == httpproto.KindRequest {
				if _, seekErr := fs.stream.Seek(int64(fs.trialStart), reassembly.Begin); seekErr != nil {
					return false, true, seekErr
				}
				fs.current = httpproto.NewStatus()
				fs.trialKind = httpproto.KindStatus
				continue
			}
			return false, true, procErr
		}
	}
}

// assignOppositeDirection sets the other flow of the pair to the complement
// of fs's just-resolved direction (spec.md §4.7: "the opposite flow is
// assigned the opposite direction... once set, the direction is immutable").
// If the other flow hasn't sent a packet yet, a placeholder flowState is
// allocated with the direction pre-set; flowStateFor adopts it (filling in
// the endpoint) instead of creating a fresh, undirected one, so that flow
// never runs its own discovery trial.
func (w *HttpSessionWatcher) assignOppositeDirection(fs *flowState) {
	complement := DirectionServer
	if fs.direction == DirectionServer {
		complement = DirectionClient
	}

	for i, candidate := range w.flows {
		if candidate != fs {
			continue
		}
		if other := w.flows[i^1]; other != nil {
			if other.direction == DirectionUnknown {
				if other.current != nil {
					// A discovery trial was already under way on the other
					// flow (both sides sent bytes before either resolved).
					// Rewind it so the next pump() starts a fresh message of
					// the now-known kind instead of continuing as a trial.
					_, _ = other.stream.Seek(int64(other.trialStart), reassembly.Begin)
					other.current = nil
				}
				other.direction = complement
			}
			return
		}
		w.flows[i^1] = &flowState{
			direction: complement,
			stream:    reassembly.NewStreamReassembler(),
		}
		return
	}
}

func newMessage(d Direction) *httpproto.HttpMessage {
	if d == DirectionClient {
		return httpproto.NewRequest()
	}
	return httpproto.NewStatus()
}

// deliver fires the user callback for fs.current, suppressing any panic it
// raises (spec.md §4.7 "User exceptions").
func (w *HttpSessionWatcher) deliver(now time.Time, fs *flowState) {
	msg := fs.current
	if fs.direction == DirectionClient {
		w.pending = append(w.pending, msg)
		w.safeCall(func() {
			if w.onRequest != nil {
				w.onRequest(now, msg)
			}
		})
		return
	}

	var paired *httpproto.HttpMessage
	if len(w.pending) > 0 {
		paired = w.pending[0]
		w.pending = w.pending[1:]
	}
	w.safeCall(func() {
		if w.onStatus != nil {
			w.onStatus(now, msg, paired)
		}
	})
}

func (w *HttpSessionWatcher) safeCall(f func()) {
	defer func() { _ = recover() }()
	f()
}
