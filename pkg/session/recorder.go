package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lokutor-ai/meetingcap/pkg/audio"
)

func ensureDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// recorderMsgKind tags Recorder's mailbox entries.
type recorderMsgKind int

const (
	recMsgMono recorderMsgKind = iota
	recMsgDual
	recMsgStop
)

type recorderMsg struct {
	kind        recorderMsgKind
	left, right []int16
}

// Recorder is the C7 actor: writes incoming chunks as 16-bit PCM to a
// session-scoped container file. Grounded on pkg/audio's ContainerWriter
// (the go-audio/wav-backed incremental writer) and spec.md §4.7's
// "<app_dir>/sessions/<session_id>/" layout.
type Recorder struct {
	writer  *audio.ContainerWriter
	log     Logger
	mailbox chan recorderMsg
	done    chan struct{}
}

// RecorderPath returns the on-disk path a Recorder for sessionID under
// appDir would write to.
func RecorderPath(appDir, sessionID string) string {
	return filepath.Join(appDir, "sessions", sessionID, "audio.wav")
}

// NewRecorder creates (or truncates) the session's recording file.
// channels is 1 for MicOnly/SpeakerOnly, 2 for MicAndSpeaker.
func NewRecorder(appDir, sessionID string, sampleRate, channels int, log Logger) (*Recorder, error) {
	if log == nil {
		log = NoOpLogger{}
	}
	path := RecorderPath(appDir, sessionID)
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	w, err := audio.NewContainerWriter(path, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	return &Recorder{
		writer:  w,
		log:     log,
		mailbox: make(chan recorderMsg, 64),
		done:    make(chan struct{}),
	}, nil
}

// SendMono enqueues a mono chunk; non-blocking, drops (with a log) if the
// mailbox is saturated rather than stalling the source pipeline.
func (r *Recorder) SendMono(samples []int16) bool {
	select {
	case r.mailbox <- recorderMsg{kind: recMsgMono, left: samples}:
		return true
	default:
		r.log.Warn("recorder_mailbox_full_dropping_audio")
		return false
	}
}

// SendDual enqueues a stereo chunk.
func (r *Recorder) SendDual(left, right []int16) bool {
	select {
	case r.mailbox <- recorderMsg{kind: recMsgDual, left: left, right: right}:
		return true
	default:
		r.log.Warn("recorder_mailbox_full_dropping_audio")
		return false
	}
}

// Stop requests the recorder flush and finalize its container, then exit.
// Blocks until Run acknowledges by returning (via Done), matching
// spec.md §4.8's "await recorder shutdown so the file is finalized".
func (r *Recorder) Stop() {
	select {
	case r.mailbox <- recorderMsg{kind: recMsgStop}:
	case <-r.done:
		return
	}
	<-r.done
}

// Done reports when Run has returned.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Run processes the mailbox until Stop or ctx cancellation, finalizing
// the container on either path so an abrupt drop still leaves a valid,
// if truncated, recording (spec.md §4.7).
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if err := r.writer.Close(); err != nil {
			r.log.Error("recorder_finalize_failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.mailbox:
			switch msg.kind {
			case recMsgStop:
				return
			case recMsgMono:
				if err := r.writer.WriteMono(msg.left); err != nil {
					r.log.Error("recorder_write_failed", "error", err)
				}
			case recMsgDual:
				if err := r.writer.WriteStereo(msg.left, msg.right); err != nil {
					r.log.Error("recorder_write_failed", "error", err)
				}
			}
		}
	}
}
