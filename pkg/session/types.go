// Package session implements the supervised per-meeting actor set: the
// audio source pipeline (C5), the listener actor (C6), the recorder
// actor (C7), and the supervisor that links them (C8). It builds on the
// goroutine/channel/mutex shape the teacher's ManagedStream used for its
// single-writer audio path, generalized here into a small set of actors
// that talk to each other only by message passing.
package session

import (
	"time"

	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
)

// Logger is a small structured-logging seam so this package stays a
// self-contained leaf with no dependency on any higher-level package.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; the zero value is ready to use.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// AudioChunk is one capture-order chunk of float32 PCM from a single
// source channel (mic or speaker).
type AudioChunk struct {
	Data []float32
}

// JoinedPair is a mic/speaker chunk pair of identical length, produced by
// the Joiner per spec.md §4.5.
type JoinedPair struct {
	Mic []float32
	Spk []float32
}

// DegradedError is attached to the Active session event emitted when the
// listener terminates and the session continues recording without
// transcription (spec.md §4.8).
type DegradedError struct {
	Message string
}

// Params is the immutable-for-the-session configuration the supervisor
// threads down to its children, mirroring
// original_source/plugins/listener/src/actors/session/mod.rs's
// SessionContext/SessionParams split.
type Params struct {
	SessionID     string
	AppDir        string
	SampleRate    int
	Mode          stt.ChannelMode
	RecordEnabled bool
	StartedAt     time.Time

	Adapter stt.StreamAdapter
	Session stt.SessionParams
}

// DeviceCapture is the opaque two-channel audio source C5 owns. Production
// wiring (cmd/sessiond) backs this with malgo; tests use an in-memory fake.
type DeviceCapture interface {
	MicChunks() <-chan []float32
	SpeakerChunks() <-chan []float32
	Close() error
}

// AmplitudeEvent is the throttled telemetry C5 emits at most once per
// AmplitudeThrottle (spec.md §4.5 point 5).
type AmplitudeEvent struct {
	SessionID string
	Mic       uint16
	Speaker   uint16
}

// TranscriptEvent is what the listener (C6) delivers to the session
// consumer after offset/channel remapping (spec.md §4.6).
type TranscriptEvent struct {
	SessionID         string
	Response          stt.StreamResponse
	StartedUnixMillis int64
}

// Consumer receives the session-facing events C5/C6 emit. A session
// supervisor wires one consumer for the lifetime of a session.
type Consumer interface {
	OnAmplitude(AmplitudeEvent)
	OnTranscript(TranscriptEvent)
	// OnActive reports listener state changes: a non-nil err when the
	// listener degrades, nil when it starts its finalize protocol on
	// shutdown.
	OnActive(sessionID string, err *DegradedError)
}

// NoOpConsumer discards every event; useful in tests that only care about
// the recorder or the pipeline in isolation.
type NoOpConsumer struct{}

func (NoOpConsumer) OnAmplitude(AmplitudeEvent)                {}
func (NoOpConsumer) OnTranscript(TranscriptEvent)              {}
func (NoOpConsumer) OnActive(sessionID string, err *DegradedError) {}

const (
	// MaxQueueSize bounds each side of the joiner (spec.md §4.5 point 2).
	MaxQueueSize = 30
	// MaxLag is how many chunks one side may lead the other before the
	// joiner fills the lagging side with silence (spec.md §4.5 point 3).
	MaxLag = 4
	// MaxBufferChunks bounds the listener-absent backlog ring (spec.md
	// §4.5 point 5).
	MaxBufferChunks = 150
	// BacklogQuotaIncrement is added to the drain quota per live chunk
	// forwarded while backlog is non-empty (spec.md §4.5 point 6).
	BacklogQuotaIncrement = 0.25
	// MaxBacklogQuota caps the drain quota so a long absence doesn't
	// produce an unbounded catch-up burst the instant the listener
	// reappears.
	MaxBacklogQuota = 2.0
	// AmplitudeThrottle is the minimum interval between amplitude events.
	AmplitudeThrottle = 100 * time.Millisecond
	// FinalizeWait bounds C6's finalize protocol.
	FinalizeWait = 5 * time.Second
	// ListenerInactivityTimeout triggers StreamTimeout when no inbound
	// frames arrive for this long.
	ListenerInactivityTimeout = 15 * time.Minute

	// MaxRestarts/MaxWindow/ResetAfter are the supervisor's sliding-window
	// restart policy (spec.md §4.8).
	MaxRestarts = 3
	MaxWindow   = 15 * time.Second
	ResetAfter  = 30 * time.Second
)
