package dsp

import (
	"errors"
	"fmt"
	"math"
)

// ErrMissingOutput is returned when a block produces a non-finite estimate
// (NaN/Inf), the stand-in failure mode for what the two-stage model in
// original_source/crates/aec/src/lib.rs calls a missing ONNX session
// output. The pack carries no Go ONNX runtime binding (ORT is a cgo/C-API
// dependency none of the example repos pull in), so the neural mask stages
// described there are replaced here by deterministic spectral-subtraction
// estimators that preserve the same two-stage, stateful, block/overlap-add
// architecture; see DESIGN.md for the substitution rationale.
var ErrMissingOutput = errors.New("aec: block produced a non-finite estimate")

// allowed block lengths, each with 50% overlap (block_shift = block_len/2),
// per spec.md §4.2.
var allowedBlockLens = map[int]bool{128: true, 256: true, 512: true}

// AEC is a streaming two-stage acoustic echo canceller. Stage 1 produces a
// coarse time-domain estimate by spectral-subtracting the far-end (lpb)
// magnitude from the near-end (mic) magnitude; stage 2 refines that
// estimate against the raw far-end buffer with its own smoothing state,
// mirroring the two-model pipeline shape of the original without requiring
// a model runtime.
type AEC struct {
	blockLen   int
	blockShift int

	micBuf []float64 // sliding analysis window, length blockLen
	lpbBuf []float64

	outBuf []float64 // persistent overlap-add accumulator, length blockLen

	mask1State []float64 // stage-1 smoothed mask, length blockLen/2+1
	mask2State []float64 // stage-2 smoothed mask, length blockLen/2+1

	alpha1, alpha2 float64 // subtraction aggressiveness per stage
	smoothing      float64 // exponential smoothing factor for mask state
}

// NewAEC constructs an AEC operating on blockLen-sample blocks (128, 256,
// or 512) with 50% overlap-add, matching spec.md §4.2.
func NewAEC(blockLen int) (*AEC, error) {
	if !allowedBlockLens[blockLen] {
		return nil, fmt.Errorf("aec: unsupported block length %d (must be 128, 256, or 512)", blockLen)
	}
	blockShift := blockLen / 2
	nBins := blockLen/2 + 1

	return &AEC{
		blockLen:   blockLen,
		blockShift: blockShift,
		micBuf:     make([]float64, blockLen),
		lpbBuf:     make([]float64, blockLen),
		outBuf:     make([]float64, blockLen),
		mask1State: onesFloat64(nBins),
		mask2State: onesFloat64(nBins),
		alpha1:     1.0,
		alpha2:     0.6,
		smoothing:  0.3,
	}, nil
}

func onesFloat64(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// BlockShift returns the hop size callers must feed per ProcessHop call.
func (a *AEC) BlockShift() int { return a.blockShift }

// ProcessHop consumes one block_shift-length hop of mic and loopback
// samples and returns block_shift samples of echo-cancelled output. Inputs
// must be exactly BlockShift() samples long.
func (a *AEC) ProcessHop(mic, lpb []float32) ([]float32, error) {
	if len(mic) != a.blockShift || len(lpb) != a.blockShift {
		return nil, fmt.Errorf("aec: expected %d-sample hops, got mic=%d lpb=%d", a.blockShift, len(mic), len(lpb))
	}

	shiftIn(a.micBuf, mic)
	shiftIn(a.lpbBuf, lpb)

	micSpec := realFFT(a.micBuf)
	lpbSpec := realFFT(a.lpbBuf)
	nBins := a.blockLen/2 + 1

	// Stage 1: magnitude-domain spectral subtraction mask over positive
	// frequencies, smoothed against persistent state to avoid musical
	// noise across hops.
	stage1Spec := make([]complex128, a.blockLen)
	copy(stage1Spec, micSpec)
	for k := 0; k < nBins; k++ {
		micMag := cabs(micSpec[k])
		lpbMag := cabs(lpbSpec[k])
		raw := 1.0
		if micMag > 1e-12 {
			raw = 1.0 - a.alpha1*lpbMag/micMag
		}
		raw = clamp01(raw)
		a.mask1State[k] += (raw - a.mask1State[k]) * a.smoothing
		mask := a.mask1State[k]
		stage1Spec[k] = micSpec[k] * complex(mask, 0)
		if k > 0 && k < a.blockLen-k {
			stage1Spec[a.blockLen-k] = micSpec[a.blockLen-k] * complex(mask, 0)
		}
	}
	estimate1 := realIFFT(stage1Spec)

	// Stage 2: refine the stage-1 time-domain estimate against the raw
	// far-end buffer, with its own smoothed mask state.
	est1Spec := realFFT(estimate1)
	for k := 0; k < nBins; k++ {
		estMag := cabs(est1Spec[k])
		lpbMag := cabs(lpbSpec[k])
		raw := 1.0
		if estMag > 1e-12 {
			raw = 1.0 - a.alpha2*lpbMag/estMag
		}
		raw = clamp01(raw)
		a.mask2State[k] += (raw - a.mask2State[k]) * a.smoothing
		mask := a.mask2State[k]
		est1Spec[k] = est1Spec[k] * complex(mask, 0)
		if k > 0 && k < a.blockLen-k {
			est1Spec[a.blockLen-k] = est1Spec[a.blockLen-k] * complex(mask, 0)
		}
	}
	final := realIFFT(est1Spec)

	for _, v := range final {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrMissingOutput
		}
	}

	for i := 0; i < a.blockLen; i++ {
		a.outBuf[i] += final[i]
	}

	out := make([]float32, a.blockShift)
	peak := 0.0
	for i := 0; i < a.blockShift; i++ {
		v := a.outBuf[i]
		if math.Abs(v) > peak {
			peak = math.Abs(v)
		}
		out[i] = float32(v)
	}
	if peak > 1.0 {
		scale := float32(0.99 / peak)
		for i := range out {
			out[i] *= scale
		}
	}

	copy(a.outBuf, a.outBuf[a.blockShift:])
	for i := a.blockLen - a.blockShift; i < a.blockLen; i++ {
		a.outBuf[i] = 0
	}

	return out, nil
}

// ProcessBatch runs a non-streaming signal through the AEC: pads by
// (block_len - block_shift) zeros at both ends and trims the same amount
// from the output, per spec.md §4.2. The result has len(mic) samples.
func (a *AEC) ProcessBatch(mic, lpb []float32) ([]float32, error) {
	pad := a.blockLen - a.blockShift
	micPadded := padBoth(mic, pad)
	lpbPadded := padBoth(lpb, pad)

	// Pad to a whole number of hops.
	for len(micPadded)%a.blockShift != 0 {
		micPadded = append(micPadded, 0)
		lpbPadded = append(lpbPadded, 0)
	}

	var out []float32
	for i := 0; i < len(micPadded); i += a.blockShift {
		hopMic := micPadded[i : i+a.blockShift]
		hopLpb := lpbPadded[i : i+a.blockShift]
		res, err := a.ProcessHop(hopMic, hopLpb)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}

	if pad > len(out) {
		return nil, nil
	}
	end := pad + len(mic)
	if end > len(out) {
		end = len(out)
	}
	return out[pad:end], nil
}

// Reset clears all persistent filter state (session reset per spec.md
// §4.5).
func (a *AEC) Reset() {
	for i := range a.micBuf {
		a.micBuf[i] = 0
		a.lpbBuf[i] = 0
		a.outBuf[i] = 0
	}
	nBins := a.blockLen/2 + 1
	a.mask1State = onesFloat64(nBins)
	a.mask2State = onesFloat64(nBins)
}

func shiftIn(buf []float64, hop []float32) {
	shift := len(hop)
	copy(buf, buf[shift:])
	for i, s := range hop {
		buf[len(buf)-shift+i] = float64(s)
	}
}

func padBoth(samples []float32, pad int) []float32 {
	out := make([]float32, 0, len(samples)+2*pad)
	out = append(out, make([]float32, pad)...)
	out = append(out, samples...)
	out = append(out, make([]float32, pad)...)
	return out
}

func cabs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
