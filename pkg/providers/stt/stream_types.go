package stt

// Word is a single recognized token with its timing and optional speaker
// attribution, normalized across providers per spec.md §3/§4.3.
type Word struct {
	Text       string
	Start      float64 // seconds, non-negative
	End        float64 // seconds, End >= Start
	Confidence float64
	Speaker    *int // nil when the provider doesn't attribute a speaker
	Language   string
}

// Alternative is one recognition hypothesis for a segment.
type Alternative struct {
	Transcript string
	Words      []Word
	Confidence float64
}

// ChannelIndex is the [i, total] pair spec.md's data model describes.
type ChannelIndex struct {
	Index int
	Total int
}

// StreamResponse is the sum type C3 adapters produce. Exactly one concrete
// type below satisfies it for any given inbound frame; callers type-switch
// on it the way the teacher's provider code type-switches on decoded JSON
// payloads (see deepgram.go's nested anonymous structs), generalized here
// into named response kinds instead.
type StreamResponse interface {
	isStreamResponse()
}

// Transcript carries one partial or final recognition result.
type Transcript struct {
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
	Start        float64
	Duration     float64
	Channels     []Alternative
	ChannelIndex ChannelIndex
}

func (Transcript) isStreamResponse() {}

// Terminal signals the provider has flushed everything for a request
// (emitted once, usually in response to a finalize message).
type Terminal struct {
	RequestID string
	Duration  float64
	Channels  int
}

func (Terminal) isStreamResponse() {}

// Error is an in-band provider error. The listener (C6) forwards it to
// the session consumer like any other response; it does not close the
// provider connection or stop the session on it.
type Error struct {
	Code     string
	Message  string
	Provider string
}

func (Error) isStreamResponse() {}

func (e Error) Error() string {
	return e.Provider + ": " + e.Code + ": " + e.Message
}

// ChannelMode mirrors spec.md's data model; fixed for the lifetime of a
// session.
type ChannelMode int

const (
	ChannelMicOnly ChannelMode = iota
	ChannelSpeakerOnly
	ChannelMicAndSpeaker
)

// SessionParams is immutable for the lifetime of a session (spec.md §3).
type SessionParams struct {
	SessionID     string
	Languages     []string
	Model         string
	BaseURL       string
	APIKey        string
	Keywords      []string
	RecordEnabled bool
	Onboarding    bool
	SampleRate    int
}

// AuthKind tags the ProviderAuth variant in effect.
type AuthKind int

const (
	AuthHeader AuthKind = iota
	AuthFirstMessage
	AuthSessionInit
)

// ProviderAuth is the tagged variant from spec.md §3's data model,
// grounded on original_source/crates/owhisper-client/src/providers.rs's
// `Auth` enum (Header{name,prefix}/FirstMessage{field}/SessionInit{header}).
type ProviderAuth struct {
	Kind AuthKind

	// Header
	HeaderName   string
	HeaderPrefix string

	// FirstMessage
	FirstMessageField string

	// SessionInit
	SessionInitHeader string
}

// BuildHeader returns the (name, value) pair for Header auth, or ("", "",
// false) for the other variants — mirrors Auth::build_header.
func (a ProviderAuth) BuildHeader(apiKey string) (name, value string, ok bool) {
	if a.Kind != AuthHeader {
		return "", "", false
	}
	return a.HeaderName, a.HeaderPrefix + apiKey, true
}
