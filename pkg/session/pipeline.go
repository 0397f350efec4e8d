package session

import (
	"encoding/binary"
	"sync"

	"github.com/lokutor-ai/meetingcap/pkg/audio"
	"github.com/lokutor-ai/meetingcap/pkg/dsp"
	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
)

// recorderSink is the C7 fan-out target; satisfied by *Recorder.
type recorderSink interface {
	SendMono(samples []int16) bool
	SendDual(left, right []int16) bool
}

// listenerSink is the C6 fan-out target; satisfied by *Listener.
type listenerSink interface {
	SendAudio(mic, spk []byte) bool
}

// pipeline is C5's per-chunk processing engine: AGC on each channel,
// joining, AEC, dispatch to recorder/listener/backlog, and throttled
// amplitude telemetry. Grounded on
// original_source/plugins/listener/src/actors/source/pipeline.rs's
// Pipeline, generalized from its tauri-event emission into the Consumer
// interface.
type pipeline struct {
	mu sync.Mutex

	mode stt.ChannelMode

	agcMic *dsp.AGC
	agcSpk *dsp.AGC
	aec    *dsp.AEC

	joiner    *joiner
	amplitude *amplitudeEmitter
	backlog   *audioBuffer

	backlogQuota       float64
	bufferLogCounter   int
	recorder           recorderSink
	listener           listenerSink
	listenerAttached   bool
	consumer           Consumer
	log                Logger
}

func newPipeline(sessionID string, mode stt.ChannelMode, useAEC bool, consumer Consumer, log Logger) *pipeline {
	if consumer == nil {
		consumer = NoOpConsumer{}
	}
	if log == nil {
		log = NoOpLogger{}
	}

	p := &pipeline{
		mode:      mode,
		agcMic:    dsp.NewAGC(dsp.DefaultMicAGCConfig()),
		agcSpk:    dsp.NewAGC(dsp.DefaultSpeakerAGCConfig()),
		joiner:    newJoiner(),
		amplitude: newAmplitudeEmitter(sessionID),
		backlog:   newAudioBuffer(MaxBufferChunks),
		consumer:  consumer,
		log:       log,
	}
	if useAEC {
		if aec, err := dsp.NewAEC(512); err == nil {
			p.aec = aec
		} else {
			log.Warn("pipeline: AEC init failed, running without echo cancellation", "error", err)
		}
	}
	return p
}

func (p *pipeline) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	bufferedChunks := p.backlog.len()
	micQueue := p.joiner.micLen()
	spkQueue := p.joiner.spkLen()

	p.joiner.reset()
	p.agcMic.Reset()
	p.agcSpk.Reset()
	if p.aec != nil {
		p.aec.Reset()
	}
	p.amplitude.reset()
	p.backlog.clear()
	p.backlogQuota = 0
	p.bufferLogCounter = 0

	p.log.Info("pipeline_reset",
		"buffered_chunks_cleared", bufferedChunks,
		"mic_queue_cleared", micQueue,
		"spk_queue_cleared", spkQueue)
}

// attachListener marks the listener as available. It does not drain the
// backlog itself: each later live pair adds BacklogQuotaIncrement to the
// drain quota, and buffered entries go out ahead of that pair whenever the
// quota reaches 1 (flushBacklogToListenerLocked, spec.md §4.5 point 6).
func (p *pipeline) attachListener(l listenerSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
	p.listenerAttached = l != nil
}

func (p *pipeline) detachListener() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = nil
	p.listenerAttached = false
}

func (p *pipeline) attachRecorder(r recorderSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorder = r
}

func (p *pipeline) detachRecorder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorder = nil
}

// ingestMic applies mic-side AGC and pushes into the joiner.
func (p *pipeline) ingestMic(data []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agcMic.ProcessInPlace(data)
	if p.joiner.pushMic(data) {
		p.log.Warn("mic_queue_overflow")
	}
	p.flushLocked()
}

// ingestSpeaker applies speaker-side AGC and pushes into the joiner.
func (p *pipeline) ingestSpeaker(data []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agcSpk.ProcessInPlace(data)
	if p.joiner.pushSpk(data) {
		p.log.Warn("spk_queue_overflow")
	}
	p.flushLocked()
}

func (p *pipeline) flushLocked() {
	for {
		pair, ok := p.joiner.popPair(p.mode)
		if !ok {
			return
		}
		p.dispatchLocked(pair)
	}
}

func (p *pipeline) dispatchLocked(pair JoinedPair) {
	mic, spk := pair.Mic, pair.Spk

	if p.aec != nil {
		processed, err := p.aec.ProcessBatch(mic, spk)
		if err != nil {
			p.log.Warn("aec_failed", "error", err)
		} else {
			mic = processed
		}
	}

	if p.recorder != nil {
		switch p.mode {
		case stt.ChannelMicOnly:
			p.recorder.SendMono(audio.F32ToInt16(mic))
		case stt.ChannelSpeakerOnly:
			p.recorder.SendMono(audio.F32ToInt16(spk))
		default:
			p.recorder.SendDual(audio.F32ToInt16(mic), audio.F32ToInt16(spk))
		}
	}

	if ev, ok := p.amplitude.observe(mic, spk); ok {
		p.consumer.OnAmplitude(ev)
	}

	if !p.listenerAttached || p.listener == nil {
		if p.backlog.push(mic, spk, p.mode) {
			p.log.Warn("audio_buffer_overflow")
		}
		p.bufferLogCounter++
		if p.bufferLogCounter == 1 || p.bufferLogCounter%50 == 0 {
			p.log.Warn("listener_unavailable_buffering",
				"buffered", p.backlog.len(), "capacity", MaxBufferChunks,
				"chunks_since_last_log", p.bufferLogCounter)
		}
		return
	}

	if p.bufferLogCounter > 0 {
		p.bufferLogCounter = 0
	}

	p.flushBacklogToListenerLocked()
	p.sendToListenerLocked(mic, spk)
}

func (p *pipeline) flushBacklogToListenerLocked() {
	if p.backlog.isEmpty() {
		return
	}

	p.backlogQuota += BacklogQuotaIncrement
	if p.backlogQuota > MaxBacklogQuota {
		p.backlogQuota = MaxBacklogQuota
	}

	for p.backlogQuota >= 1.0 {
		entry, ok := p.backlog.pop()
		if !ok {
			break
		}
		if entry.mode == p.mode {
			p.sendToListenerLocked(entry.mic, entry.spk)
			p.backlogQuota -= 1.0
		}
	}
}

func (p *pipeline) sendToListenerLocked(mic, spk []float32) {
	micBytes := f32ToInt16LEBytes(mic)
	spkBytes := f32ToInt16LEBytes(spk)
	if !p.listener.SendAudio(micBytes, spkBytes) {
		p.log.Warn("listener_cast_failed")
	}
}

func f32ToInt16LEBytes(samples []float32) []byte {
	i16 := audio.F32ToInt16(samples)
	out := make([]byte, len(i16)*2)
	for i, s := range i16 {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
