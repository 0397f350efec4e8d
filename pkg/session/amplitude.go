package session

import "time"

// amplitudeEmitter throttles amplitude telemetry to at most one event per
// AmplitudeThrottle, emitting max(|sample|)*100 per channel as a uint16
// (spec.md §4.5 point 5), grounded on
// original_source/plugins/listener/src/actors/source/pipeline.rs's
// AmplitudeEmitter.
type amplitudeEmitter struct {
	sessionID string
	lastMic   []float32
	lastSpk   []float32
	lastEmit  time.Time
	now       func() time.Time
}

func newAmplitudeEmitter(sessionID string) *amplitudeEmitter {
	e := &amplitudeEmitter{sessionID: sessionID, now: time.Now}
	e.lastEmit = e.now().Add(-AmplitudeThrottle)
	return e
}

func (e *amplitudeEmitter) reset() {
	e.lastMic = nil
	e.lastSpk = nil
	e.lastEmit = e.now().Add(-AmplitudeThrottle)
}

// observe records the latest pair and returns an event when the throttle
// window has elapsed, or ok=false otherwise.
func (e *amplitudeEmitter) observe(mic, spk []float32) (AmplitudeEvent, bool) {
	e.lastMic = mic
	e.lastSpk = spk

	if e.now().Sub(e.lastEmit) < AmplitudeThrottle {
		return AmplitudeEvent{}, false
	}

	ev := AmplitudeEvent{
		SessionID: e.sessionID,
		Mic:       peakAmplitude(e.lastMic),
		Speaker:   peakAmplitude(e.lastSpk),
	}
	e.lastEmit = e.now()
	return ev, true
}

func peakAmplitude(chunk []float32) uint16 {
	var peak float32
	for _, s := range chunk {
		v := s
		if v < 0 {
			v = -v
		}
		if v != v { // NaN guard, mirrors the original's is_finite() filter
			continue
		}
		if v > peak {
			peak = v
		}
	}
	return uint16(peak * 100)
}
