// Package dsp implements the per-channel gain control and echo cancellation
// filters applied to captured audio before it is dispatched downstream.
package dsp

import "math"

// fftInPlace computes the (inverse) discrete Fourier transform of a, whose
// length must be a power of two, using an iterative radix-2 Cooley-Tukey
// butterfly. No pack example ships an FFT library (birdnet-go's spectral
// work is baked into its TensorFlow Lite model rather than exposed as a Go
// FFT package), so this is a small from-scratch primitive rather than a
// gap filled with a third-party dependency; see DESIGN.md.
func fftInPlace(a []complex128, invert bool) {
	n := len(a)
	if n&(n-1) != 0 {
		panic("dsp: fft length must be a power of two")
	}

	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := 2 * math.Pi / float64(length)
		if invert {
			angle = -angle
		}
		wLen := complex(math.Cos(angle), math.Sin(angle))
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			half := length / 2
			for k := 0; k < half; k++ {
				u := a[start+k]
				v := a[start+k+half] * w
				a[start+k] = u + v
				a[start+k+half] = u - v
				w *= wLen
			}
		}
	}

	if invert {
		for i := range a {
			a[i] /= complex(float64(n), 0)
		}
	}
}

// realFFT returns the complex spectrum of a real-valued block whose length
// is a power of two (block_len in the AEC's terminology).
func realFFT(block []float64) []complex128 {
	n := len(block)
	spec := make([]complex128, n)
	for i, v := range block {
		spec[i] = complex(v, 0)
	}
	fftInPlace(spec, false)
	return spec
}

// realIFFT inverts a full complex spectrum back to a real-valued block,
// discarding residual imaginary rounding noise.
func realIFFT(spec []complex128) []float64 {
	n := len(spec)
	buf := make([]complex128, n)
	copy(buf, spec)
	fftInPlace(buf, true)
	out := make([]float64, n)
	for i, v := range buf {
		out[i] = real(v)
	}
	return out
}
