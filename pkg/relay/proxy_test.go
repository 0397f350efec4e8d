package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is a one-sided test double: Read drains a channel the test
// feeds (simulating inbound frames from the real peer), Write appends to
// a slice the test can assert against (simulating what the proxy sent to
// that peer). Close is recorded but otherwise inert.
type fakeConn struct {
	reads  chan frameOrErr
	wrote  chan QueuedPayload
	closed chan [2]string // [code, reason]
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan frameOrErr, 16),
		wrote:  make(chan QueuedPayload, 16),
		closed: make(chan [2]string, 1),
	}
}

func (c *fakeConn) Read(ctx context.Context) (MessageType, []byte, error) {
	select {
	case fe := <-c.reads:
		return fe.t, fe.data, fe.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, t MessageType, data []byte) error {
	c.wrote <- QueuedPayload{Data: append([]byte(nil), data...), IsText: t == MessageText}
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	select {
	case c.closed <- [2]string{itoaTest(code), reason}:
	default:
	}
	return nil
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

var errConnClosed = &fakeErr{"conn closed"}

func TestProxyForwardsBinaryAudioToUpstream(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) { return upstream, nil }

	proxy := NewProxy(Config{UpstreamURL: "wss://example/v1/listen"}, dial)
	go proxy.Handle(context.Background(), client)

	client.reads <- frameOrErr{t: MessageBinary, data: []byte{1, 2, 3}}

	select {
	case p := <-upstream.wrote:
		require.Equal(t, []byte{1, 2, 3}, p.Data)
		require.False(t, p.IsText)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded audio")
	}
}

func TestProxyRewritesFirstMessageForAuth(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) { return upstream, nil }

	proxy := NewProxy(Config{
		UpstreamURL: "wss://example",
		FirstMessageTransformer: func(text string) string {
			var obj map[string]any
			json.Unmarshal([]byte(text), &obj)
			obj["api_key"] = "sk-xyz"
			out, _ := json.Marshal(obj)
			return string(out)
		},
	}, dial)
	go proxy.Handle(context.Background(), client)

	client.reads <- frameOrErr{t: MessageText, data: []byte(`{"type":"hello"}`)}

	select {
	case p := <-upstream.wrote:
		var obj map[string]any
		require.NoError(t, json.Unmarshal(p.Data, &obj))
		require.Equal(t, "sk-xyz", obj["api_key"])
		require.Equal(t, "hello", obj["type"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rewritten first message")
	}
}

func TestProxyLeavesSubsequentFramesUnchangedAfterFirstMessage(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) { return upstream, nil }

	proxy := NewProxy(Config{
		UpstreamURL: "wss://example",
		FirstMessageTransformer: func(text string) string {
			var obj map[string]any
			json.Unmarshal([]byte(text), &obj)
			obj["api_key"] = "sk-xyz"
			out, _ := json.Marshal(obj)
			return string(out)
		},
	}, dial)
	go proxy.Handle(context.Background(), client)

	client.reads <- frameOrErr{t: MessageText, data: []byte(`{"type":"hello"}`)}
	<-upstream.wrote

	client.reads <- frameOrErr{t: MessageText, data: []byte(`{"type":"second"}`)}
	select {
	case p := <-upstream.wrote:
		require.JSONEq(t, `{"type":"second"}`, string(p.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second frame")
	}
}

func TestProxyDetectsProviderErrorAndClosesClient(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) { return upstream, nil }

	proxy := NewProxy(Config{
		UpstreamURL: "wss://example",
		DetectProviderError: func(data []byte) (int, string, bool) {
			var obj map[string]any
			if err := json.Unmarshal(data, &obj); err != nil {
				return 0, "", false
			}
			if obj["type"] == "Error" {
				return 4003, "bad auth", true
			}
			return 0, "", false
		},
	}, dial)

	done := make(chan struct{})
	go func() {
		proxy.Handle(context.Background(), client)
		close(done)
	}()

	upstream.reads <- frameOrErr{t: MessageText, data: []byte(`{"type":"Error"}`)}
	upstream.reads <- frameOrErr{err: errConnClosed}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("proxy did not shut down after provider error")
	}
}

func TestProxyNormalizesCloseCodeSentToClient(t *testing.T) {
	client := newFakeConn()
	upstream := newFakeConn()
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) { return upstream, nil }

	proxy := NewProxy(Config{UpstreamURL: "wss://example"}, dial)

	done := make(chan struct{})
	go func() {
		proxy.Handle(context.Background(), client)
		close(done)
	}()

	upstream.reads <- frameOrErr{err: errConnClosed}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("proxy did not shut down")
	}

	// A read error with no close status falls back to DefaultCloseCode.
	select {
	case c := <-client.closed:
		require.Equal(t, "1011", c[0])
	default:
		t.Fatal("client was not closed")
	}
}
