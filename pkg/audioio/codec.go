package audioio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// PCM16Scale maps [-1, 1] floats onto the 16-bit range.
const PCM16Scale = 32767

// ErrOddLength is returned when a PCM16 payload has an odd byte count.
var ErrOddLength = errors.New("audioio: odd byte count in PCM16 payload")

// FloatToPCM16 converts one sample: round(s*32767), clamped to the int16 range.
func FloatToPCM16(s float32) int16 {
	v := math.Round(float64(s) * PCM16Scale)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// PCM16ToFloat is the inverse scaling of FloatToPCM16.
func PCM16ToFloat(v int16) float32 {
	return float32(v) / PCM16Scale
}

// FloatsToPCM16 converts a window of float samples.
func FloatsToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = FloatToPCM16(s)
	}
	return out
}

// EncodePCM16 encodes float samples as little-endian 16-bit PCM.
func EncodePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(FloatToPCM16(s)))
	}
	return buf
}

// DecodePCM16 decodes little-endian 16-bit PCM into float samples.
// An empty payload decodes to an empty slice.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = PCM16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return out, nil
}

// Frame is one captured window encoded as 16-bit PCM, ready for the wire.
type Frame struct {
	// Samples contains PCM16 mono samples.
	Samples []int16

	// SampleRate is the sample rate of this frame.
	SampleRate int

	// Seq numbers frames in capture order, starting at 1.
	Seq uint64
}

// NewFrame encodes a float window into a Frame.
func NewFrame(samples []float32, sampleRate int, seq uint64) Frame {
	return Frame{
		Samples:    FloatsToPCM16(samples),
		SampleRate: sampleRate,
		Seq:        seq,
	}
}

// Bytes returns the little-endian PCM16 payload.
func (f Frame) Bytes() []byte {
	buf := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	return FramesToDuration(int64(len(f.Samples)), f.SampleRate)
}

// MIMEType returns the content type the Live API expects for this frame.
func (f Frame) MIMEType() string {
	return PCMMIMEType(f.SampleRate)
}

// PCMMIMEType formats the raw PCM content type for a sample rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}
