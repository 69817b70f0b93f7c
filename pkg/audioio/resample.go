package audioio

import "math"

// ResampleFloat converts audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio.
func ResampleFloat(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	if len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)

	if newLen == 0 {
		return []float32{}
	}

	result := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := samples[srcIdx]
			s2 := samples[srcIdx+1]
			result[i] = s1 + frac*(s2-s1)
		}
	}

	return result
}

// RMS returns the root mean square of samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Framer slices a continuous sample stream into fixed-size windows.
// Backends whose callbacks deliver arbitrary frame counts use it to
// produce FramesPerBuffer windows.
type Framer struct {
	size int
	buf  []float32
}

// NewFramer creates a framer that emits windows of size samples.
func NewFramer(size int) *Framer {
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

// Write appends samples and calls emit once per completed window.
// The slice passed to emit is owned by the callee.
func (f *Framer) Write(samples []float32, emit func([]float32)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]

		if len(f.buf) == f.size {
			emit(f.buf)
			f.buf = make([]float32, 0, f.size)
		}
	}
}

// Buffered returns the number of samples waiting for a full window.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any partial window.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
