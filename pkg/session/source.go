package session

import (
	"context"

	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
)

// Source is the C5 audio source actor: owns DeviceCapture and drives
// pipeline ingestion from two capture channels until ctx is canceled or
// the device closes.
type Source struct {
	device DeviceCapture
	pipe   *pipeline
	log    Logger

	done chan struct{}
}

// NewSource builds the C5 actor. useAEC is false for MicOnly/SpeakerOnly
// sessions (no far-end reference to cancel against).
func NewSource(sessionID string, mode stt.ChannelMode, device DeviceCapture, consumer Consumer, log Logger) *Source {
	useAEC := mode == stt.ChannelMicAndSpeaker
	return &Source{
		device: device,
		pipe:   newPipeline(sessionID, mode, useAEC, consumer, log),
		log:    log,
		done:   make(chan struct{}),
	}
}

// AttachListener wires a live listener sink; nil detaches it (the
// supervisor calls this when it spawns a listener or restarts the source).
func (s *Source) AttachListener(l listenerSink) {
	if l == nil {
		s.pipe.detachListener()
		return
	}
	s.pipe.attachListener(l)
}

// AttachRecorder wires a live recorder sink; nil detaches it.
func (s *Source) AttachRecorder(r recorderSink) {
	if r == nil {
		s.pipe.detachRecorder()
		return
	}
	s.pipe.attachRecorder(r)
}

// Reset clears all pipeline state (session reset per spec.md §4.5).
func (s *Source) Reset() {
	s.pipe.reset()
}

// Run consumes both capture channels until ctx is canceled or both
// channels close; it owns the single goroutine that touches pipeline
// state outside of Attach*/Reset, matching spec.md §5's "state is not
// shared across actors except by message passing" (Attach*/Reset are the
// messages here; they're safe because pipeline guards its own mutex).
func (s *Source) Run(ctx context.Context) {
	defer close(s.done)
	mic := s.device.MicChunks()
	spk := s.device.SpeakerChunks()

	for mic != nil || spk != nil {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-mic:
			if !ok {
				mic = nil
				continue
			}
			s.pipe.ingestMic(chunk)
		case chunk, ok := <-spk:
			if !ok {
				spk = nil
				continue
			}
			s.pipe.ingestSpeaker(chunk)
		}
	}
}

// Done reports when Run has returned.
func (s *Source) Done() <-chan struct{} { return s.done }
