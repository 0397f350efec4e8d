package stt

import "context"

// OutgoingFrame is one message the relay (C4) sends upstream: either a
// binary audio frame or a text control/JSON frame.
type OutgoingFrame struct {
	Binary []byte
	Text   string
	IsText bool
}

// StreamAdapter is the capability set every streaming-STT provider
// implements, per spec.md §4.3's table. It is the trait-object boundary
// spec.md §9 calls out: dynamic dispatch lives entirely behind the
// listener (C6), one adapter instance per session.
type StreamAdapter interface {
	// ProviderName is a stable tag used in logs, metrics, and error
	// envelopes.
	ProviderName() string

	// IsSupportedLanguages reports whether the requested language set is
	// servable by model (or the adapter's best default model when model
	// is empty).
	IsSupportedLanguages(langs []string, model string) bool

	// SupportsNativeMultichannel reports whether the provider accepts
	// both channels over one connection; if false, the runtime opens two
	// mono sessions or sums to one before dispatch.
	SupportsNativeMultichannel() bool

	// PrefersNativeMultichannel resolves the SpeakerOnly-vs-multichannel
	// Open Question as an adapter-level choice (SPEC_FULL.md §4.1).
	PrefersNativeMultichannel(mode ChannelMode) bool

	// BuildWSURL constructs the full websocket URL including query
	// parameters, given the session parameters and active channel count.
	BuildWSURL(params SessionParams, channels int) (string, error)

	// BuildWSURLWithAPIKey optionally performs an HTTP init handshake
	// (SessionInit auth) and returns the session websocket URL to dial.
	BuildWSURLWithAPIKey(ctx context.Context, params SessionParams, channels int) (string, error)

	// BuildAuthHeader returns the header to attach at dial time, or
	// ok=false when auth flows through the first message or a session
	// init handshake instead.
	BuildAuthHeader(apiKey string) (name, value string, ok bool)

	// Auth reports which ProviderAuth variant this adapter uses, so the
	// relay (C4) knows whether to arm a first-message transformer.
	Auth() ProviderAuth

	// InitialMessage is the first frame sent after connect (nil if the
	// provider needs none).
	InitialMessage(params SessionParams, channels int) (*OutgoingFrame, error)

	// KeepAliveMessage is an optional periodic idle frame; nil if the
	// provider needs none.
	KeepAliveMessage() *OutgoingFrame

	// AudioToMessage frames one outgoing audio chunk.
	AudioToMessage(pcm []byte) OutgoingFrame

	// FinalizeMessage is the close-stream marker sent during C6's
	// finalize protocol.
	FinalizeMessage() *OutgoingFrame

	// ParseResponse deserializes one inbound frame into zero or more
	// normalized StreamResponse values.
	ParseResponse(raw []byte, isText bool) ([]StreamResponse, error)

	// ControlMessageTypes names the JSON `type` values (or, for binary
	// protocols, sentinel markers) that bypass the relay's backpressure
	// queue per spec.md §4.4.
	ControlMessageTypes() map[string]bool
}
