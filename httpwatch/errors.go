package httpwatch

import "errors"

// ErrByteBoundExceeded is the teardown cause when a flow's reassembled
// stream grows past NewHttpSessionWatcher's byteBound before a message
// completes (spec.md §4.7 "Per-flow bound").
var ErrByteBoundExceeded = errors.New("httpwatch: per-flow byte bound exceeded")
