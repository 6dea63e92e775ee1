// Package audio provides level measurement, device enumeration and the
// device meters that the samplers read from.
package audio

import (
	"encoding/binary"
	"math"
)

// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
const MaxSampleValue = 32768.0

// Window accumulates S16LE samples between two meter reads.
// Channels are folded together: a window reports the loudest sample
// and the combined RMS over every channel.
type Window struct {
	SumSquares  float64
	Peak        float64
	SampleCount int
}

// ProcessSamples accumulates interleaved S16LE PCM data into the window.
func ProcessSamples(buf []byte, w *Window) {
	for i := 0; i+1 < len(buf); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(buf[i:])))

		w.SumSquares += v * v
		if abs := math.Abs(v); abs > w.Peak {
			w.Peak = abs
		}
		w.SampleCount++
	}
}

// Linear returns the window's peak and RMS normalized to [0,1].
// An empty window reads as silence.
func (w *Window) Linear() (peak, rms float64) {
	if w.SampleCount == 0 {
		return 0, 0
	}
	peak = min(w.Peak/MaxSampleValue, 1)
	rms = min(math.Sqrt(w.SumSquares/float64(w.SampleCount))/MaxSampleValue, peak)
	return peak, rms
}

// Reset resets accumulators for the next measurement period.
func (w *Window) Reset() {
	w.SumSquares = 0
	w.Peak = 0
	w.SampleCount = 0
}
