package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAECRejectsUnsupportedBlockLen(t *testing.T) {
	_, err := NewAEC(100)
	require.Error(t, err)
}

func TestAECProcessHopRequiresExactHopLength(t *testing.T) {
	a, err := NewAEC(256)
	require.NoError(t, err)

	_, err = a.ProcessHop(make([]float32, 10), make([]float32, a.BlockShift()))
	require.Error(t, err)
}

func TestAECOutputNeverClipsAbovePeakGuard(t *testing.T) {
	a, err := NewAEC(128)
	require.NoError(t, err)

	hop := a.BlockShift()
	loud := make([]float32, hop)
	for i := range loud {
		loud[i] = float32(math.Sin(float64(i))) * 2 // deliberately out of range
	}
	silent := make([]float32, hop)

	for i := 0; i < 10; i++ {
		out, err := a.ProcessHop(loud, silent)
		require.NoError(t, err)
		for _, s := range out {
			require.LessOrEqual(t, math.Abs(float64(s)), 1.0)
		}
	}
}

func TestAECAttenuatesPureEcho(t *testing.T) {
	a, err := NewAEC(256)
	require.NoError(t, err)
	hop := a.BlockShift()

	tone := make([]float32, hop)
	for i := range tone {
		tone[i] = float32(math.Sin(float64(i) * 0.3))
	}

	var lastOut []float32
	for i := 0; i < 40; i++ {
		// mic == loopback: pure echo, no near-end speech.
		out, err := a.ProcessHop(tone, tone)
		require.NoError(t, err)
		lastOut = out
	}

	inEnergy := energy(tone)
	outEnergy := energy(lastOut)
	require.Less(t, outEnergy, inEnergy)
}

func TestAECResetClearsState(t *testing.T) {
	a, err := NewAEC(128)
	require.NoError(t, err)
	hop := a.BlockShift()

	tone := make([]float32, hop)
	for i := range tone {
		tone[i] = 0.5
	}
	_, err = a.ProcessHop(tone, tone)
	require.NoError(t, err)

	a.Reset()
	for _, v := range a.outBuf {
		require.Zero(t, v)
	}
}

func TestAECProcessBatchPadsAndTrims(t *testing.T) {
	a, err := NewAEC(256)
	require.NoError(t, err)

	hop := a.BlockShift()
	mic := make([]float32, hop*4)
	lpb := make([]float32, hop*4)
	for i := range mic {
		mic[i] = float32(math.Sin(float64(i) * 0.1))
	}

	out, err := a.ProcessBatch(mic, lpb)
	require.NoError(t, err)
	require.Len(t, out, len(mic))
}

func energy(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum
}
