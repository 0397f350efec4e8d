package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ContainerWriter incrementally encodes 16-bit PCM into a self-describing
// RIFF/WAV file on disk. It is the recorder's (C7) persistence layer: audio
// arrives as one or two float32 channels per call and is interleaved and
// written immediately, so an abrupt process death still leaves a playable,
// if truncated, file on disk (the provisional RIFF header go-audio/wav
// writes at construction already declares a consistent, if eventually
// stale, chunk size).
type ContainerWriter struct {
	file     *os.File
	encoder  *wav.Encoder
	channels int
	closed   bool
}

// NewContainerWriter creates (or truncates) path and prepares a WAV
// container with the given sample rate and channel count (1 = mono,
// 2 = interleaved stereo, matching C7's mono/dual-channel recorder modes).
func NewContainerWriter(path string, sampleRate, channels int) (*ContainerWriter, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("container writer: unsupported channel count %d", channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("container writer: create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)

	return &ContainerWriter{
		file:     f,
		encoder:  enc,
		channels: channels,
	}, nil
}

// WriteMono appends a single-channel chunk of 16-bit samples.
func (w *ContainerWriter) WriteMono(samples []int16) error {
	if w.channels != 1 {
		return fmt.Errorf("container writer: WriteMono called on a %d-channel container", w.channels)
	}
	return w.writeInterleaved(samples)
}

// WriteStereo appends a dual-channel chunk; left and right must be equal
// length (the C5 pipeline only ever emits JoinedPairs of equal length).
func (w *ContainerWriter) WriteStereo(left, right []int16) error {
	if w.channels != 2 {
		return fmt.Errorf("container writer: WriteStereo called on a %d-channel container", w.channels)
	}
	if len(left) != len(right) {
		return fmt.Errorf("container writer: channel length mismatch (%d vs %d)", len(left), len(right))
	}

	interleaved := make([]int16, 0, len(left)*2)
	for i := range left {
		interleaved = append(interleaved, left[i], right[i])
	}
	return w.writeInterleaved(interleaved)
}

func (w *ContainerWriter) writeInterleaved(samples []int16) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: w.channels,
			SampleRate:  w.encoder.SampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	return w.encoder.Write(buf)
}

// Flush finalizes the RIFF/WAV headers with the correct data-chunk size
// without closing the underlying file descriptor, so the container is
// valid and playable even if more audio follows.
func (w *ContainerWriter) Flush() error {
	return w.encoder.Close()
}

// Close finalizes the container headers (if not already flushed) and
// closes the underlying file. Safe to call more than once.
func (w *ContainerWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.encoder.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// F32ToInt16 converts a canonical f32 [-1, 1] chunk to 16-bit PCM samples,
// clamping out-of-range values rather than wrapping.
func F32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}
