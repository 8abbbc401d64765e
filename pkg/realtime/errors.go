// Package realtime implements the persistent client connection to the
// VERSSAI orchestration service: the WebSocket lifecycle with backoff and
// reconciliation, the outbound command dispatcher with a bounded
// disconnected queue, and the subscription bus UI surfaces attach to.
package realtime

import "errors"

// Errors surfaced to callers of the realtime client. Transport problems are
// recovered internally via reconnect; these cover the cases a specific
// caller must handle itself.
var (
	// ErrNotConnected is returned by Manager.Send while the socket is not
	// in the connected state.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned after Close; a closed client never reconnects.
	ErrClosed = errors.New("client closed")

	// ErrBackpressure is returned when the disconnected command queue is
	// full. The command is dropped, not silently retained.
	ErrBackpressure = errors.New("outbound command queue full")

	// ErrRateLimited is returned when the outbound rate limiter rejects
	// a command.
	ErrRateLimited = errors.New("command rate limit exceeded")

	// ErrQueryTimeout is returned when a retrieval query gets no response
	// within its deadline. The connection is unaffected.
	ErrQueryTimeout = errors.New("query timed out")

	// ErrQueryFailed is returned when the server reports a query error.
	ErrQueryFailed = errors.New("query failed")
)
