package dsp

import (
	"math"
	"sync"
)

// VoiceActivity reports whether a just-processed chunk contained speech.
// Mirrors the hysteresis shape of orchestrator.RMSVAD (consecutive-frame
// confirmation before flipping state) but operates on f32 chunks directly
// instead of int16 byte frames, since the C2 filters run before any PCM
// conversion.
type VoiceActivity struct {
	mu sync.Mutex

	threshold    float64
	minConfirmed int
	consecutive  int
	speaking     bool
}

// NewVoiceActivity builds a detector that confirms speech start only after
// minConfirmed consecutive above-threshold chunks, to reject echo-onset
// pops and transient spikes the way orchestrator.RMSVAD does.
func NewVoiceActivity(threshold float64, minConfirmed int) *VoiceActivity {
	if minConfirmed <= 0 {
		minConfirmed = 1
	}
	return &VoiceActivity{threshold: threshold, minConfirmed: minConfirmed}
}

// Update feeds one chunk and returns whether speech is active afterward.
func (v *VoiceActivity) Update(chunk []float32) bool {
	rms := rmsOf(chunk)

	v.mu.Lock()
	defer v.mu.Unlock()

	if rms > v.threshold {
		v.consecutive++
		if !v.speaking && v.consecutive >= v.minConfirmed {
			v.speaking = true
		}
	} else {
		v.consecutive = 0
		v.speaking = false
	}
	return v.speaking
}

// Reset clears hysteresis state (session reset per spec.md §4.5).
func (v *VoiceActivity) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.consecutive = 0
	v.speaking = false
}

func rmsOf(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(chunk)))
}

// AGC is a per-channel automatic gain control. It normalizes chunk loudness
// toward targetRMS with attack/release-smoothed gain (so gain does not jump
// chunk to chunk), and optionally masks its output to silence whenever its
// voice-activity detector reports no speech — the microphone-side
// configuration per spec.md §4.2; the speaker side runs with masking off
// since loopback is authoritative regardless of VAD state.
type AGC struct {
	mu sync.Mutex

	targetRMS float64
	minGain   float64
	maxGain   float64
	attack    float64 // smoothing factor when gain is increasing
	release   float64 // smoothing factor when gain is decreasing
	gain      float64

	masking bool
	vad     *VoiceActivity
}

// AGCConfig configures a per-channel AGC instance.
type AGCConfig struct {
	TargetRMS float64
	MinGain   float64
	MaxGain   float64
	Attack    float64
	Release   float64
	// Masking enables VAD-gated output suppression (mic-side only).
	Masking bool
	VAD     *VoiceActivity
}

// DefaultMicAGCConfig returns the mic-side configuration: masking enabled,
// backed by a VoiceActivity detector tuned the way orchestrator.RMSVAD's
// defaults are (minConfirmed=7, ~70-100ms of continuous sound at 10ms
// chunks before barge-in is recognized).
func DefaultMicAGCConfig() AGCConfig {
	return AGCConfig{
		TargetRMS: 0.1,
		MinGain:   0.25,
		MaxGain:   4.0,
		Attack:    0.35,
		Release:   0.05,
		Masking:   true,
		VAD:       NewVoiceActivity(0.015, 7),
	}
}

// DefaultSpeakerAGCConfig returns the speaker-side configuration: no
// masking, since the loopback signal is authoritative for AEC regardless
// of whether it "sounds like speech".
func DefaultSpeakerAGCConfig() AGCConfig {
	return AGCConfig{
		TargetRMS: 0.1,
		MinGain:   0.25,
		MaxGain:   4.0,
		Attack:    0.35,
		Release:   0.05,
		Masking:   false,
	}
}

// NewAGC builds an AGC from cfg. If cfg.Masking is true and cfg.VAD is nil,
// a VoiceActivity with DefaultMicAGCConfig's tuning is created.
func NewAGC(cfg AGCConfig) *AGC {
	vad := cfg.VAD
	if cfg.Masking && vad == nil {
		vad = NewVoiceActivity(0.015, 7)
	}
	return &AGC{
		targetRMS: cfg.TargetRMS,
		minGain:   cfg.MinGain,
		maxGain:   cfg.MaxGain,
		attack:    cfg.Attack,
		release:   cfg.Release,
		gain:      1.0,
		masking:   cfg.Masking,
		vad:       vad,
	}
}

// ProcessInPlace applies gain control (and, if configured, VAD masking) to
// chunk in place. Returns whether the chunk is currently masked (silenced).
func (a *AGC) ProcessInPlace(chunk []float32) (masked bool) {
	if len(chunk) == 0 {
		return false
	}

	a.mu.Lock()
	rms := rmsOf(chunk)
	desired := a.gain
	if rms > 1e-9 {
		desired = a.targetRMS / rms
		if desired < a.minGain {
			desired = a.minGain
		} else if desired > a.maxGain {
			desired = a.maxGain
		}
	}

	smoothing := a.release
	if desired > a.gain {
		smoothing = a.attack
	}
	a.gain += (desired - a.gain) * smoothing
	gain := a.gain
	a.mu.Unlock()

	for i, s := range chunk {
		out := s * float32(gain)
		if out > 1 {
			out = 1
		} else if out < -1 {
			out = -1
		}
		chunk[i] = out
	}

	if a.masking && a.vad != nil {
		if !a.vad.Update(chunk) {
			for i := range chunk {
				chunk[i] = 0
			}
			return true
		}
	}
	return false
}

// Reset clears gain and VAD state (session reset per spec.md §4.5).
func (a *AGC) Reset() {
	a.mu.Lock()
	a.gain = 1.0
	a.mu.Unlock()
	if a.vad != nil {
		a.vad.Reset()
	}
}
