package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
	"github.com/lokutor-ai/meetingcap/pkg/relay"
)

// fakeAdapter is a minimal stt.StreamAdapter double. ParseResponse replays
// whatever queued responses were configured, one slice per call.
type fakeAdapter struct {
	mu        sync.Mutex
	responses [][]stt.StreamResponse
	parseErr  error
}

func (a *fakeAdapter) ProviderName() string { return "fake" }
func (a *fakeAdapter) IsSupportedLanguages(langs []string, model string) bool { return true }
func (a *fakeAdapter) SupportsNativeMultichannel() bool                      { return true }
func (a *fakeAdapter) PrefersNativeMultichannel(mode stt.ChannelMode) bool    { return true }
func (a *fakeAdapter) BuildWSURL(params stt.SessionParams, channels int) (string, error) {
	return "wss://fake/listen", nil
}
func (a *fakeAdapter) BuildWSURLWithAPIKey(ctx context.Context, params stt.SessionParams, channels int) (string, error) {
	return "wss://fake/listen", nil
}
func (a *fakeAdapter) BuildAuthHeader(apiKey string) (string, string, bool) {
	return "Authorization", "Bearer " + apiKey, true
}
func (a *fakeAdapter) Auth() stt.ProviderAuth { return stt.ProviderAuth{Kind: stt.AuthHeader} }
func (a *fakeAdapter) InitialMessage(params stt.SessionParams, channels int) (*stt.OutgoingFrame, error) {
	return nil, nil
}
func (a *fakeAdapter) KeepAliveMessage() *stt.OutgoingFrame { return nil }
func (a *fakeAdapter) AudioToMessage(pcm []byte) stt.OutgoingFrame {
	return stt.OutgoingFrame{Binary: pcm}
}
func (a *fakeAdapter) FinalizeMessage() *stt.OutgoingFrame {
	return &stt.OutgoingFrame{IsText: true, Text: `{"type":"CloseStream"}`}
}
func (a *fakeAdapter) ParseResponse(raw []byte, isText bool) ([]stt.StreamResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	if len(a.responses) == 0 {
		return nil, nil
	}
	next := a.responses[0]
	a.responses = a.responses[1:]
	return next, nil
}
func (a *fakeAdapter) ControlMessageTypes() map[string]bool { return nil }

func (a *fakeAdapter) queue(responses ...stt.StreamResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses = append(a.responses, responses)
}

// fakeConn is a relay.Conn double driven entirely by test-controlled
// channels; Read blocks on inbound until fed or closed.
type fakeConn struct {
	inbound chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 8),
		written: make(chan []byte, 8),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (relay.MessageType, []byte, error) {
	select {
	case b, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("conn closed")
		}
		return relay.MessageText, b, nil
	case <-c.closed:
		return 0, nil, errors.New("conn closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, t relay.MessageType, data []byte) error {
	select {
	case c.written <- data:
		return nil
	case <-c.closed:
		return errors.New("conn closed")
	}
}

func (c *fakeConn) Close(code int, reason string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeRestartRequester struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeRestartRequester) RequestRestart(child, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, reason)
}

func (f *fakeRestartRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testParams() Params {
	return Params{
		SessionID: "sess-1",
		Mode:      stt.ChannelMicAndSpeaker,
		Session:   stt.SessionParams{SessionID: "sess-1", APIKey: "key"},
	}
}

func TestListenerDeliversTranscriptsUntilShutdown(t *testing.T) {
	adapter := &fakeAdapter{}
	consumer := &fakeConsumer{}
	conn := newFakeConn()
	dial := func(ctx context.Context, url string, header http.Header) (relay.Conn, error) {
		return conn, nil
	}

	l := NewListener(testParams(), adapter, consumer, &fakeRestartRequester{}, nil, dial)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	adapter.queue(stt.Transcript{IsFinal: true, Start: 1.0})
	conn.inbound <- []byte(`{}`)

	require.Eventually(t, func() bool {
		return consumer.transcriptCount() > 0
	}, time.Second, 10*time.Millisecond)

	adapter.queue(stt.Transcript{IsFinal: true, FromFinalize: true})
	l.Shutdown()
	conn.inbound <- []byte(`{}`)

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not shut down")
	}
}

func (c *fakeConsumer) transcriptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transcripts)
}

func TestListenerRequestsRestartWhenDialFails(t *testing.T) {
	adapter := &fakeAdapter{}
	consumer := &fakeConsumer{}
	restarts := &fakeRestartRequester{}
	dial := func(ctx context.Context, url string, header http.Header) (relay.Conn, error) {
		return nil, errors.New("connection refused")
	}

	l := NewListener(testParams(), adapter, consumer, restarts, nil, dial)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not terminate after dial failure")
	}
	require.Equal(t, 1, restarts.count())
}

func TestListenerFinalizeProtocolStopsOnFromFinalizeResponse(t *testing.T) {
	adapter := &fakeAdapter{}
	consumer := &fakeConsumer{}
	conn := newFakeConn()
	dial := func(ctx context.Context, url string, header http.Header) (relay.Conn, error) {
		return conn, nil
	}

	l := NewListener(testParams(), adapter, consumer, &fakeRestartRequester{}, nil, dial)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()

	l.Shutdown()
	adapter.queue(stt.Transcript{IsFinal: true, FromFinalize: true})
	conn.inbound <- []byte(`{}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finalize protocol did not complete promptly on from_finalize response")
	}
}

func TestRemapChannelForcesSingleChannelToZeroOfTwo(t *testing.T) {
	r := remapChannel(stt.Transcript{ChannelIndex: stt.ChannelIndex{Index: 1, Total: 1}}, stt.ChannelMicOnly)
	tr, ok := r.(stt.Transcript)
	require.True(t, ok)
	require.Equal(t, stt.ChannelIndex{Index: 0, Total: 2}, tr.ChannelIndex)
}

func TestRemapChannelLeavesDualModeUntouched(t *testing.T) {
	in := stt.Transcript{ChannelIndex: stt.ChannelIndex{Index: 1, Total: 2}}
	r := remapChannel(in, stt.ChannelMicAndSpeaker)
	require.Equal(t, in, r)
}

func TestApplyOffsetAddsToStart(t *testing.T) {
	r := applyOffset(stt.Transcript{Start: 2.0}, 10.0)
	tr := r.(stt.Transcript)
	require.Equal(t, 12.0, tr.Start)
}
