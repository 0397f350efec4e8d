package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Frame is a single message the relay may send as the initial message or
// as a rewritten first client frame.
type Frame struct {
	Text   string
	Binary []byte
	IsText bool
}

// DialFunc dials the upstream provider websocket. Production code uses
// DialUpstream (conn_coder.go); tests inject a fake.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Config configures one relay session. Every field is optional except
// UpstreamURL.
type Config struct {
	UpstreamURL    string
	UpstreamHeader http.Header

	ControlMessageTypes map[string]bool

	// FirstMessageTransformer rewrites the client's first text frame
	// (FirstMessage auth per spec.md §4.3); armed until the first text
	// frame is seen, regardless of how many binary frames precede it.
	FirstMessageTransformer func(text string) string

	InitialMessage *Frame

	// ResponseTransformer rewrites (or drops, via ok=false) an upstream
	// text frame before forwarding it to the client.
	ResponseTransformer func(text string) (string, bool)

	// DetectProviderError inspects an upstream text frame for an in-band
	// provider error envelope, returning a close code/reason if found.
	DetectProviderError func(data []byte) (code int, reason string, ok bool)

	ConnectTimeout time.Duration
	PendingQueueCapacity int

	OnClose func(duration time.Duration)
}

// Proxy runs one C4 relay session: dial upstream, then bridge frames
// bidirectionally until either side closes or a fault occurs.
type Proxy struct {
	cfg  Config
	dial DialFunc
}

// NewProxy builds a Proxy. dial is usually relay.DialUpstream; tests pass
// a fake.
func NewProxy(cfg Config, dial DialFunc) *Proxy {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	return &Proxy{cfg: cfg, dial: dial}
}

// shutdown is the Go stand-in for the original's tokio broadcast channel:
// a close-once-broadcast, implemented with sync.Once over a closed
// channel since the pack carries no pub-sub/broadcast library and this is
// a well-worn stdlib idiom, not a gap (see DESIGN.md).
type shutdown struct {
	mu     sync.Mutex
	once   sync.Once
	ch     chan struct{}
	code   int
	reason string
}

func newShutdown() *shutdown {
	return &shutdown{ch: make(chan struct{})}
}

func (s *shutdown) trigger(code, fallbackCode int, reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		if code == 0 {
			code = fallbackCode
		}
		s.code, s.reason = NormalizeCloseCode(code), reason
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *shutdown) done() <-chan struct{} { return s.ch }

func (s *shutdown) result() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.reason
}

// Handle dials the upstream provider and bridges client against it until
// either side closes. It returns once both proxy goroutines have exited.
func (p *Proxy) Handle(ctx context.Context, client Conn) error {
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	upstream, err := p.dial(dialCtx, p.cfg.UpstreamURL, p.cfg.UpstreamHeader)
	cancel()
	if err != nil {
		return err
	}
	defer upstream.Close(1000, "")

	sd := newShutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.runClientToUpstream(gctx, client, upstream, sd)
		return nil
	})
	g.Go(func() error {
		p.runUpstreamToClient(gctx, upstream, client, sd)
		return nil
	})

	_ = g.Wait()

	if p.cfg.OnClose != nil {
		p.cfg.OnClose(time.Since(start))
	}
	return nil
}

func (p *Proxy) runClientToUpstream(ctx context.Context, client, upstream Conn, sd *shutdown) {
	pending := NewPendingQueue(nonZeroOrDefault(p.cfg.PendingQueueCapacity, 64))
	firstMessagePending := p.cfg.FirstMessageTransformer != nil

	if p.cfg.InitialMessage != nil {
		t := MessageBinary
		data := p.cfg.InitialMessage.Binary
		if p.cfg.InitialMessage.IsText {
			t = MessageText
			data = []byte(p.cfg.InitialMessage.Text)
		}
		if err := upstream.Write(ctx, t, data); err != nil {
			sd.trigger(0, DefaultCloseCode, "initial_message_failed")
			return
		}
	}

	results := make(chan frameOrErr, 1)
	go pumpReads(ctx, client, results)

	for {
		select {
		case <-sd.done():
			code, reason := sd.result()
			upstream.Close(code, reason)
			return
		case <-ctx.Done():
			return
		case fe, ok := <-results:
			if !ok {
				sd.trigger(0, DefaultCloseCode, "client_disconnected")
				continue
			}
			if fe.err != nil {
				if code := CloseStatusCode(fe.err); code != 0 {
					sd.trigger(code, DefaultCloseCode, "client_closed")
				} else {
					sd.trigger(0, DefaultCloseCode, "client_error")
				}
				continue
			}

			data := fe.data
			isText := fe.t == MessageText
			if isText && firstMessagePending {
				firstMessagePending = false
				data = []byte(p.cfg.FirstMessageTransformer(string(data)))
			}

			isControl := IsControlMessage(data, isText, p.cfg.ControlMessageTypes)
			if err := pending.Enqueue(QueuedPayload{Data: data, IsText: isText}, isControl); err != nil {
				sd.trigger(0, DefaultCloseCode, err.Error())
				continue
			}
			if err := pending.FlushTo(ctx, upstream); err != nil {
				reason := "upstream_send_failed"
				if err == ErrInvalidUTF8 {
					reason = err.Error()
				}
				sd.trigger(0, DefaultCloseCode, reason)
				continue
			}
		}
	}
}

func (p *Proxy) runUpstreamToClient(ctx context.Context, upstream, client Conn, sd *shutdown) {
	results := make(chan frameOrErr, 1)
	go pumpReads(ctx, upstream, results)

	var pendingErrCode int
	var pendingErrReason string

	for {
		select {
		case <-sd.done():
			code, reason := sd.result()
			client.Close(code, reason)
			return
		case <-ctx.Done():
			return
		case fe, ok := <-results:
			if !ok {
				code, reason := pendingErrCode, pendingErrReason
				if reason == "" {
					code, reason = 0, "upstream_disconnected"
				}
				sd.trigger(code, DefaultCloseCode, reason)
				continue
			}
			if fe.err != nil {
				switch code := CloseStatusCode(fe.err); {
				case pendingErrReason != "":
					sd.trigger(pendingErrCode, DefaultCloseCode, pendingErrReason)
				case code != 0:
					sd.trigger(code, DefaultCloseCode, "upstream_closed")
				default:
					sd.trigger(0, DefaultCloseCode, "upstream_error")
				}
				continue
			}

			if fe.t == MessageText && p.cfg.DetectProviderError != nil {
				if code, reason, ok := p.cfg.DetectProviderError(fe.data); ok {
					pendingErrCode, pendingErrReason = code, reason
				}
			}

			out := fe.data
			isText := fe.t == MessageText
			if isText && p.cfg.ResponseTransformer != nil {
				transformed, keep := p.cfg.ResponseTransformer(string(out))
				if !keep {
					continue
				}
				out = []byte(transformed)
			}

			t := MessageBinary
			if isText {
				t = MessageText
			}
			if err := client.Write(ctx, t, out); err != nil {
				sd.trigger(0, DefaultCloseCode, "client_send_failed")
				continue
			}
		}
	}
}

type frameOrErr struct {
	t    MessageType
	data []byte
	err  error
}

// pumpReads adapts Conn.Read's blocking call into a channel so the proxy
// loop can select between it, the shutdown signal, and context
// cancellation. Closes results (without sending) once ctx is done so the
// goroutine doesn't leak past the session per spec.md's "children fully
// unwind" invariant.
func pumpReads(ctx context.Context, conn Conn, results chan<- frameOrErr) {
	defer close(results)
	for {
		t, data, err := conn.Read(ctx)
		select {
		case results <- frameOrErr{t: t, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func nonZeroOrDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
