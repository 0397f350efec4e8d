package audio

import (
	"fmt"
)

// maxResampleRatioRelative caps target_rate/source_rate: construction is
// rejected when the ratio exceeds it. Downsampling by any factor is
// accepted. Mirrors the 2x cap used by the
// rubato resampler this component is modeled on (original_source's Rust
// implementation, crates/audio-utils/src/resampler.rs).
const maxResampleRatioRelative = 2.0

// ConstructionError is returned by NewResampler when the requested rate
// pair or chunk size cannot be serviced.
type ConstructionError struct {
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("resampler construction rejected: %s", e.Reason)
}

// ResampleError wraps a failure surfaced while feeding or flushing a
// resampler. The resampler never retries internally; callers decide.
type ResampleError struct {
	Reason string
}

func (e *ResampleError) Error() string {
	return fmt.Sprintf("resample failed: %s", e.Reason)
}

// Source is a lazy, potentially rate-varying f32 sample sequence. Next
// returns ok=false once the source is exhausted. SampleRate reports the
// rate in effect for samples not yet returned by Next.
type Source interface {
	Next() (sample float32, ok bool)
	SampleRate() uint32
}

type resamplerPhase int

const (
	phaseFilling resamplerPhase = iota
	phaseFeeding
	phaseDraining
	phaseDone
)

// Resampler converts a lazy f32 sample Source at a variable source rate
// into a lazy sequence of fixed-size chunks at a target rate, using linear
// polynomial interpolation. State machine: Filling -> Feeding -> (Draining
// on EOS) -> Done. A source-rate change mid-stream does not pass through
// Draining: the resampler rebuilds its interpolation state and returns to
// Filling directly, keeping samples already in pending, so no short chunk
// is emitted at the rate boundary.
type Resampler struct {
	source     Source
	targetRate uint32
	chunkSize  int

	sourceRate uint32
	ratio      float64 // targetRate / sourceRate

	// window holds the last two source samples read (window[0] is older),
	// and readPos is the fractional read cursor into that window, in
	// source-sample units, always in [0, 1) once primed.
	window   [2]float32
	primed   int // 0 = no samples yet, 1 = one sample, 2 = fully primed
	readPos  float64
	sourceOK bool // false once the source has been exhausted

	pending []float32
	phase   resamplerPhase
}

// NewResampler constructs a Resampler reading from source, emitting
// chunkSize-length chunks at targetRate. Returns a *ConstructionError if
// the implied ratio targetRate/sourceRate exceeds maxResampleRatioRelative.
func NewResampler(source Source, targetRate uint32, chunkSize int) (*Resampler, error) {
	if chunkSize <= 0 {
		return nil, &ConstructionError{Reason: "chunk size must be positive"}
	}
	if targetRate == 0 {
		return nil, &ConstructionError{Reason: "target rate must be positive"}
	}

	sourceRate := source.SampleRate()
	if sourceRate == 0 {
		return nil, &ConstructionError{Reason: "source rate must be positive"}
	}
	if err := checkRatio(sourceRate, targetRate); err != nil {
		return nil, err
	}

	return &Resampler{
		source:     source,
		targetRate: targetRate,
		chunkSize:  chunkSize,
		sourceRate: sourceRate,
		ratio:      float64(targetRate) / float64(sourceRate),
		sourceOK:   true,
		phase:      phaseFilling,
		pending:    make([]float32, 0, chunkSize*2),
	}, nil
}

func checkRatio(sourceRate, targetRate uint32) error {
	ratio := float64(targetRate) / float64(sourceRate)
	if ratio > maxResampleRatioRelative {
		return &ConstructionError{Reason: fmt.Sprintf("ratio %.4f exceeds %.1fx bound", ratio, maxResampleRatioRelative)}
	}
	return nil
}

// Poll advances the resampler and returns the next fixed-size chunk, a
// final short chunk once the source is drained, or (nil, false, nil) once
// fully Done. Errors are returned verbatim and are never retried
// internally; the caller (C5) decides whether to bypass or escalate.
func (r *Resampler) Poll() ([]float32, bool, error) {
	for {
		if len(r.pending) >= r.chunkSize {
			chunk := append([]float32(nil), r.pending[:r.chunkSize]...)
			r.pending = r.pending[r.chunkSize:]
			return chunk, true, nil
		}

		switch r.phase {
		case phaseDone:
			return nil, false, nil

		case phaseDraining:
			if len(r.pending) == 0 {
				r.phase = phaseDone
				return nil, false, nil
			}
			chunk := append([]float32(nil), r.pending...)
			r.pending = r.pending[:0]
			r.phase = phaseDone
			return chunk, true, nil
		}

		if r.primed == 2 {
			if cur := r.source.SampleRate(); cur != r.sourceRate {
				if err := r.rebuild(cur); err != nil {
					return nil, false, err
				}
				continue
			}
		}

		if !r.produceOne() {
			r.phase = phaseDraining
			continue
		}
		r.phase = phaseFeeding
	}
}

// rebuild switches to newRate and returns to Filling: any samples already
// interpolated into pending are preserved and go out in the next chunk;
// interpolation state resets for the new rate.
func (r *Resampler) rebuild(newRate uint32) error {
	if err := checkRatio(newRate, r.targetRate); err != nil {
		return &ResampleError{Reason: err.Error()}
	}
	r.sourceRate = newRate
	r.ratio = float64(r.targetRate) / float64(newRate)
	r.readPos = 0
	r.primed = 0
	r.phase = phaseFilling
	return nil
}

// produceOne appends exactly one interpolated output sample to pending
// (advancing the source window as needed) and returns false once the
// source is exhausted and no further output can be produced.
func (r *Resampler) produceOne() bool {
	step := 1.0 / r.ratio

	for r.primed < 2 {
		s, ok := r.source.Next()
		if !ok {
			r.sourceOK = false
			if r.primed == 1 {
				// one trailing sample: emit it flat, then stop.
				r.pending = append(r.pending, r.window[0])
				r.primed = 0
				return false
			}
			return false
		}
		r.window[r.primed] = s
		r.primed++
	}

	for r.readPos < 1.0 {
		frac := float32(r.readPos)
		out := r.window[0] + (r.window[1]-r.window[0])*frac
		r.pending = append(r.pending, out)
		r.readPos += step
	}
	r.readPos -= 1.0

	r.window[0] = r.window[1]
	if !r.sourceOK {
		r.primed = 1
		return false
	}
	s, ok := r.source.Next()
	if !ok {
		r.sourceOK = false
		r.primed = 1
		return true
	}
	r.window[1] = s
	return true
}
