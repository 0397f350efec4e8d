package relay

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// coderConn adapts a *websocket.Conn (github.com/coder/websocket) to the
// relay's Conn interface. coder/websocket was adopted from the pack
// (MrWong99-glyphoxa) since the teacher carries no websocket library of
// its own; see DESIGN.md for why gorilla/websocket (also present in the
// pack) was not additionally wired.
type coderConn struct {
	c *websocket.Conn
}

// WrapCoderConn adapts an already-established *websocket.Conn.
func WrapCoderConn(c *websocket.Conn) Conn {
	return &coderConn{c: c}
}

func (w *coderConn) Read(ctx context.Context) (MessageType, []byte, error) {
	t, data, err := w.c.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	return fromCoderMessageType(t), data, nil
}

func (w *coderConn) Write(ctx context.Context, t MessageType, data []byte) error {
	return w.c.Write(ctx, toCoderMessageType(t), data)
}

func (w *coderConn) Close(code int, reason string) error {
	return w.c.Close(websocket.StatusCode(code), reason)
}

func fromCoderMessageType(t websocket.MessageType) MessageType {
	if t == websocket.MessageText {
		return MessageText
	}
	return MessageBinary
}

func toCoderMessageType(t MessageType) websocket.MessageType {
	if t == MessageText {
		return websocket.MessageText
	}
	return websocket.MessageBinary
}

// CloseStatusCode extracts the close status code coder/websocket attaches
// to an error returned from Read, or 0 if err carries none.
func CloseStatusCode(err error) int {
	code := websocket.CloseStatus(err)
	if code < 0 {
		return 0
	}
	return int(code)
}

// DialUpstream dials the provider websocket at url with header, returning
// a relay.Conn. cmd/sessiond passes it to session.NewSupervisor, and the
// session listener uses it when given no DialFunc; tests inject a fake
// DialFunc instead.
func DialUpstream(ctx context.Context, url string, header http.Header) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	return WrapCoderConn(c), nil
}

// AcceptClient upgrades an inbound HTTP request to a websocket, returning
// a relay.Conn for the client side.
func AcceptClient(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	return WrapCoderConn(c), nil
}
