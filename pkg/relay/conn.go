// Package relay implements the transparent websocket bridge (C4) between
// a client and an upstream streaming-STT provider (the session listener,
// C6, does not go through it: it dials the provider with DialUpstream). It forwards frames both directions, enforces a bounded
// pending queue with a control-message exemption, rewrites the first
// client frame for FirstMessage auth, detects provider error envelopes,
// and normalizes reserved close codes on forward.
package relay

import "context"

// MessageType distinguishes text and binary websocket frames. Defined
// locally (rather than aliasing coder/websocket's type) so the proxy loop
// in proxy.go can run against a fake Conn in tests without a real socket.
type MessageType int

const (
	MessageText MessageType = iota
	MessageBinary
)

// Conn is the minimal websocket surface the relay needs on both the
// client and upstream side. coderConn (conn_coder.go) adapts a real
// *coder/websocket.Conn to this interface.
type Conn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, t MessageType, data []byte) error
	Close(code int, reason string) error
}
