package dsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVoiceActivityRequiresConsecutiveFrames(t *testing.T) {
	vad := NewVoiceActivity(0.05, 3)
	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.2
	}

	require.False(t, vad.Update(loud))
	require.False(t, vad.Update(loud))
	require.True(t, vad.Update(loud))
}

func TestVoiceActivityDropsImmediatelyOnSilence(t *testing.T) {
	vad := NewVoiceActivity(0.05, 1)
	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.2
	}
	quiet := make([]float32, 160)

	require.True(t, vad.Update(loud))
	require.False(t, vad.Update(quiet))
}

func TestAGCNormalizesTowardTargetRMS(t *testing.T) {
	cfg := DefaultSpeakerAGCConfig()
	agc := NewAGC(cfg)

	chunk := make([]float32, 320)
	for i := range chunk {
		chunk[i] = 0.01
	}

	// Feeding each output back in first drives the signal into clipping;
	// the slow release (0.05) brings it back to the target within 100
	// chunks.
	for i := 0; i < 100; i++ {
		c := append([]float32(nil), chunk...)
		agc.ProcessInPlace(c)
		chunk = c
	}

	rms := rmsOf(chunk)
	require.InDelta(t, cfg.TargetRMS, rms, 0.02)
}

func TestAGCMicMaskingSilencesOnNoSpeech(t *testing.T) {
	cfg := DefaultMicAGCConfig()
	cfg.VAD = NewVoiceActivity(0.05, 1)
	agc := NewAGC(cfg)

	quiet := make([]float32, 320)
	for i := range quiet {
		quiet[i] = 0.001
	}

	masked := agc.ProcessInPlace(quiet)
	require.True(t, masked)
	for _, s := range quiet {
		require.Zero(t, s)
	}
}

func TestAGCSpeakerSideNeverMasks(t *testing.T) {
	agc := NewAGC(DefaultSpeakerAGCConfig())
	quiet := make([]float32, 320)
	for i := range quiet {
		quiet[i] = 0.001
	}

	masked := agc.ProcessInPlace(quiet)
	require.False(t, masked)
}

func TestAGCResetRestoresUnityGain(t *testing.T) {
	agc := NewAGC(DefaultSpeakerAGCConfig())
	loud := make([]float32, 320)
	for i := range loud {
		loud[i] = 0.9
	}
	for i := 0; i < 20; i++ {
		agc.ProcessInPlace(append([]float32(nil), loud...))
	}

	agc.Reset()
	require.InDelta(t, 1.0, agc.gain, 1e-9)
}
