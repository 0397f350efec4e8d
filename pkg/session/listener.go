package session

import (
	"context"
	"net/http"
	"time"

	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
	"github.com/lokutor-ai/meetingcap/pkg/relay"
)

// RestartRequester lets a child actor ask its supervisor to restart it,
// mirroring original_source/plugins/listener/src/actors/listener.rs's
// request_rest_for_one (which casts SupervisorMsg::RestForOneSpawn).
type RestartRequester interface {
	RequestRestart(child, reason string)
}

// terminationKind tags why the listener's Run loop is ending, so the
// supervisor can tell "degrade, don't restart" (spec.md §4.8) apart from
// a clean Shutdown.
type terminationKind int

const (
	terminatedShutdown terminationKind = iota
	terminatedStartFailed
	terminatedStreamError
	terminatedStreamEnded
	terminatedStreamTimeout
)

// listenerMsgKind tags the mailbox entries Listener.Run consumes; mirrors
// ListenerMsg's Audio/Shutdown variants.
type listenerMsgKind int

const (
	msgAudio listenerMsgKind = iota
	msgShutdown
)

type listenerMsg struct {
	kind     listenerMsgKind
	mic, spk []byte
}

type listenerResult struct {
	responses []stt.StreamResponse
	err       error
}

// Listener is the C6 actor: owns the provider adapter connection, forwards
// audio, and remaps transcript offsets/channels before handing them to the
// session consumer.
type Listener struct {
	params   Params
	adapter  stt.StreamAdapter
	consumer Consumer
	restarts RestartRequester
	log      Logger
	dial     relay.DialFunc

	mailbox chan listenerMsg
	done    chan struct{}

	startedAt     time.Time
	startedAtUnix time.Time
}

// NewListener builds the C6 actor. dial defaults to relay.DialUpstream;
// tests inject a fake.
func NewListener(params Params, adapter stt.StreamAdapter, consumer Consumer, restarts RestartRequester, log Logger, dial relay.DialFunc) *Listener {
	if consumer == nil {
		consumer = NoOpConsumer{}
	}
	if log == nil {
		log = NoOpLogger{}
	}
	if dial == nil {
		dial = relay.DialUpstream
	}
	return &Listener{
		params:        params,
		adapter:       adapter,
		consumer:      consumer,
		restarts:      restarts,
		log:           log,
		dial:          dial,
		mailbox:       make(chan listenerMsg, 32),
		done:          make(chan struct{}),
		startedAt:     time.Now(),
		startedAtUnix: time.Now(),
	}
}

// SendAudio forwards one mic/spk byte pair to the upstream connection.
// Mirrors ListenerMsg::Audio; non-blocking like the original's
// tx.try_send, so a saturated mailbox never backs up the source pipeline.
func (l *Listener) SendAudio(mic, spk []byte) bool {
	select {
	case l.mailbox <- listenerMsg{kind: msgAudio, mic: mic, spk: spk}:
		return true
	default:
		l.log.Warn("listener_mailbox_full_dropping_audio")
		return false
	}
}

// Shutdown requests the finalize protocol and a clean stop.
func (l *Listener) Shutdown() {
	select {
	case l.mailbox <- listenerMsg{kind: msgShutdown}:
	case <-l.done:
	}
}

// Done reports when Run has returned.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Run dials the provider, then processes the mailbox and inbound frames
// until a terminal condition. It always closes l.done on return.
func (l *Listener) Run(ctx context.Context) {
	defer close(l.done)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	url, err := l.adapter.BuildWSURLWithAPIKey(dialCtx, l.params.Session, channelCount(l.params.Mode))
	cancel()
	if err != nil {
		l.terminate(terminatedStartFailed, "build_ws_url_failed: "+err.Error())
		return
	}

	header := http.Header{}
	if name, value, ok := l.adapter.BuildAuthHeader(l.params.Session.APIKey); ok {
		header.Set(name, value)
	}

	dialCtx2, cancel2 := context.WithTimeout(ctx, 10*time.Second)
	conn, err := l.dial(dialCtx2, url, header)
	cancel2()
	if err != nil {
		l.terminate(terminatedStartFailed, "dial_failed: "+err.Error())
		return
	}
	defer conn.Close(1000, "")

	if init, err := l.adapter.InitialMessage(l.params.Session, channelCount(l.params.Mode)); err == nil && init != nil {
		if err := writeFrame(ctx, conn, init); err != nil {
			l.terminate(terminatedStartFailed, "initial_message_failed: "+err.Error())
			return
		}
	}

	results := make(chan listenerResult, 8)
	rxCtx, rxCancel := context.WithCancel(ctx)
	defer rxCancel()
	go l.pumpResponses(rxCtx, conn, results)

	inactivity := time.NewTimer(ListenerInactivityTimeout)
	defer inactivity.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-l.mailbox:
			if !ok {
				return
			}
			switch msg.kind {
			case msgShutdown:
				l.finalize(ctx, conn, results)
				return
			case msgAudio:
				if err := l.forwardAudio(ctx, conn, msg.mic, msg.spk); err != nil {
					l.log.Warn("listener_audio_write_failed", "error", err)
				}
			}

		case res, ok := <-results:
			if !ok {
				l.terminate(terminatedStreamEnded, "stream_ended")
				return
			}
			if !inactivity.Stop() {
				<-inactivity.C
			}
			inactivity.Reset(ListenerInactivityTimeout)

			if res.err != nil {
				l.terminate(terminatedStreamError, res.err.Error())
				return
			}
			for _, r := range res.responses {
				l.deliver(r)
			}

		case <-inactivity.C:
			l.terminate(terminatedStreamTimeout, "stream_timeout")
			return
		}
	}
}

// forwardAudio frames mic/spk per the adapter's channel policy: dual-mode
// adapters get both channels' AudioToMessage frames; single-mode sessions
// send only the active side.
func (l *Listener) forwardAudio(ctx context.Context, conn relay.Conn, mic, spk []byte) error {
	switch l.params.Mode {
	case stt.ChannelMicOnly:
		f := l.adapter.AudioToMessage(mic)
		return writeFrame(ctx, conn, &f)
	case stt.ChannelSpeakerOnly:
		f := l.adapter.AudioToMessage(spk)
		return writeFrame(ctx, conn, &f)
	default:
		if f := l.adapter.AudioToMessage(mic); true {
			if err := writeFrame(ctx, conn, &f); err != nil {
				return err
			}
		}
		f := l.adapter.AudioToMessage(spk)
		return writeFrame(ctx, conn, &f)
	}
}

func (l *Listener) deliver(r stt.StreamResponse) {
	r = remapChannel(r, l.params.Mode)
	offset := 0.0
	if !l.params.StartedAt.IsZero() {
		offset = l.startedAt.Sub(l.params.StartedAt).Seconds()
	}
	r = applyOffset(r, offset)
	l.consumer.OnTranscript(TranscriptEvent{
		SessionID:         l.params.SessionID,
		Response:          r,
		StartedUnixMillis: l.startedAtUnix.UnixMilli(),
	})
}

func (l *Listener) pumpResponses(ctx context.Context, conn relay.Conn, out chan<- listenerResult) {
	defer close(out)
	for {
		t, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case out <- listenerResult{err: err}:
			case <-ctx.Done():
			}
			return
		}
		responses, err := l.adapter.ParseResponse(data, t == relay.MessageText)
		if err != nil {
			l.log.Warn("listener_parse_response_failed", "error", err)
			continue
		}
		select {
		case out <- listenerResult{responses: responses}:
		case <-ctx.Done():
			return
		}
	}
}

// finalize implements spec.md §4.6's finalize protocol: send the
// finalize_message, then read with a 5s budget until a from_finalize
// response arrives or the budget expires.
func (l *Listener) finalize(ctx context.Context, conn relay.Conn, results <-chan listenerResult) {
	if msg := l.adapter.FinalizeMessage(); msg != nil {
		writeFrame(ctx, conn, msg)
	}
	l.consumer.OnActive(l.params.SessionID, nil) // Finalizing, recording continues

	deadline := time.NewTimer(FinalizeWait)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			l.terminate(terminatedShutdown, "finalize_timeout")
			return
		case res, ok := <-results:
			if !ok {
				l.terminate(terminatedShutdown, "finalize_stream_ended")
				return
			}
			if res.err != nil {
				l.terminate(terminatedShutdown, "finalize_stream_error")
				return
			}
			fromFinalize := false
			for _, r := range res.responses {
				l.deliver(r)
				if t, ok := r.(stt.Transcript); ok && t.FromFinalize {
					fromFinalize = true
				}
			}
			if fromFinalize {
				l.terminate(terminatedShutdown, "finalize_complete")
				return
			}
		}
	}
}

func (l *Listener) terminate(kind terminationKind, reason string) {
	switch kind {
	case terminatedStartFailed:
		l.log.Error("listen_ws_connect_failed", "reason", reason)
		if l.restarts != nil {
			l.restarts.RequestRestart("listener", "stream_start_failed")
		}
	case terminatedStreamError:
		l.log.Info("listen_stream_error", "reason", reason)
		if l.restarts != nil {
			l.restarts.RequestRestart("listener", "stream_error")
		}
	case terminatedStreamEnded:
		l.log.Info("listen_stream_ended")
		if l.restarts != nil {
			l.restarts.RequestRestart("listener", "stream_ended")
		}
	case terminatedStreamTimeout:
		l.log.Info("listen_stream_timeout")
		if l.restarts != nil {
			l.restarts.RequestRestart("listener", "stream_timeout")
		}
	case terminatedShutdown:
		l.log.Info("listener_shutdown", "reason", reason)
		return
	}

	l.consumer.OnActive(l.params.SessionID, &DegradedError{Message: reason})
}

func writeFrame(ctx context.Context, conn relay.Conn, f *stt.OutgoingFrame) error {
	if f.IsText {
		return conn.Write(ctx, relay.MessageText, []byte(f.Text))
	}
	return conn.Write(ctx, relay.MessageBinary, f.Binary)
}

func channelCount(mode stt.ChannelMode) int {
	if mode == stt.ChannelMicAndSpeaker {
		return 2
	}
	return 1
}

// remapChannel applies spec.md §4.6's "single channel runs report as
// channel 0 of 2" rule.
func remapChannel(r stt.StreamResponse, mode stt.ChannelMode) stt.StreamResponse {
	if mode == stt.ChannelMicAndSpeaker {
		return r
	}
	t, ok := r.(stt.Transcript)
	if !ok {
		return r
	}
	t.ChannelIndex = stt.ChannelIndex{Index: 0, Total: 2}
	return t
}

// applyOffset adds the session-offset to a Transcript's timestamps: its
// Start and every word's Start and End.
func applyOffset(r stt.StreamResponse, offsetSecs float64) stt.StreamResponse {
	t, ok := r.(stt.Transcript)
	if !ok {
		return r
	}
	t.Start += offsetSecs
	if len(t.Channels) > 0 {
		alts := make([]stt.Alternative, len(t.Channels))
		for i, alt := range t.Channels {
			words := make([]stt.Word, len(alt.Words))
			for j, w := range alt.Words {
				w.Start += offsetSecs
				w.End += offsetSecs
				words[j] = w
			}
			alt.Words = words
			alts[i] = alt
		}
		t.Channels = alts
	}
	return t
}
