package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/meetingcap/pkg/providers/stt"
)

type fakeRecorderSink struct {
	mu    sync.Mutex
	mono  [][]int16
	dual  [][2][]int16
}

func (f *fakeRecorderSink) SendMono(samples []int16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mono = append(f.mono, samples)
	return true
}

func (f *fakeRecorderSink) SendDual(left, right []int16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dual = append(f.dual, [2][]int16{left, right})
	return true
}

type fakeListenerSink struct {
	mu   sync.Mutex
	sent [][2][]byte
}

func (f *fakeListenerSink) SendAudio(mic, spk []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, [2][]byte{mic, spk})
	return true
}

func (f *fakeListenerSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeConsumer struct {
	mu          sync.Mutex
	amplitudes  []AmplitudeEvent
	transcripts []TranscriptEvent
}

func (c *fakeConsumer) OnAmplitude(ev AmplitudeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.amplitudes = append(c.amplitudes, ev)
}

func (c *fakeConsumer) OnTranscript(ev TranscriptEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts = append(c.transcripts, ev)
}

func (c *fakeConsumer) OnActive(sessionID string, err *DegradedError) {}

func (c *fakeConsumer) amplitudeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.amplitudes)
}

func TestPipelineBuffersWhenNoListenerAttached(t *testing.T) {
	consumer := &fakeConsumer{}
	p := newPipeline("sess-1", stt.ChannelMicAndSpeaker, false, consumer, nil)

	p.ingestMic([]float32{0.1, 0.2})
	p.ingestSpeaker([]float32{0.1, 0.2})

	require.Equal(t, 1, p.backlog.len())
}

func TestPipelineFlushesBacklogOnListenerAttach(t *testing.T) {
	consumer := &fakeConsumer{}
	p := newPipeline("sess-1", stt.ChannelMicAndSpeaker, false, consumer, nil)

	p.ingestMic([]float32{0.1})
	p.ingestSpeaker([]float32{0.1})
	require.Equal(t, 1, p.backlog.len())

	listener := &fakeListenerSink{}
	p.attachListener(listener)

	// Each live pair adds BacklogQuotaIncrement (0.25) to the drain quota,
	// so the buffered pair goes out together with the fourth live pair.
	for i := 0; i < 4; i++ {
		p.ingestMic([]float32{0.2})
		p.ingestSpeaker([]float32{0.2})
	}

	require.Equal(t, 0, p.backlog.len(), "the backlog should be drained after four live pairs")
	require.Equal(t, 5, listener.count(), "four live pairs plus the one buffered pair")
}

func TestPipelineFansOutToRecorderInDualMode(t *testing.T) {
	consumer := &fakeConsumer{}
	p := newPipeline("sess-1", stt.ChannelMicAndSpeaker, false, consumer, nil)
	rec := &fakeRecorderSink{}
	p.attachRecorder(rec)

	p.ingestMic([]float32{0.5})
	p.ingestSpeaker([]float32{0.5})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.dual, 1)
	require.Empty(t, rec.mono)
}

func TestPipelineFansOutMonoInMicOnlyMode(t *testing.T) {
	consumer := &fakeConsumer{}
	p := newPipeline("sess-1", stt.ChannelMicOnly, false, consumer, nil)
	rec := &fakeRecorderSink{}
	p.attachRecorder(rec)

	p.ingestMic([]float32{0.5})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.mono, 1)
	require.Empty(t, rec.dual)
}

func TestPipelineResetClearsJoinerAndBacklogAndQuota(t *testing.T) {
	consumer := &fakeConsumer{}
	p := newPipeline("sess-1", stt.ChannelMicAndSpeaker, false, consumer, nil)
	p.ingestMic([]float32{0.1})
	p.backlogQuota = 1.5

	p.reset()

	require.Equal(t, 0, p.joiner.micLen())
	require.Equal(t, 0, p.backlog.len())
	require.Equal(t, float64(0), p.backlogQuota)
}

func TestPipelineEmitsThrottledAmplitudeTelemetry(t *testing.T) {
	consumer := &fakeConsumer{}
	p := newPipeline("sess-1", stt.ChannelMicAndSpeaker, false, consumer, nil)
	listener := &fakeListenerSink{}
	p.attachListener(listener)

	p.ingestMic([]float32{0.4})
	p.ingestSpeaker([]float32{0.4})
	p.ingestMic([]float32{0.9})
	p.ingestSpeaker([]float32{0.9})

	require.Equal(t, 1, consumer.amplitudeCount(), "second pair lands inside the throttle window and should be suppressed")
}
