package audio

import (
	"encoding/binary"

	"github.com/kpataki/klaragw/pkg/logger"
)

// Resampler converts a stream of 16-bit mono little-endian PCM between two
// fixed sample rates using linear interpolation. The fractional read position
// and the final sample of each chunk are carried to the next Convert call so
// conversion stays continuous across chunk boundaries. State is call-scoped:
// Reset must run before a new call's audio flows.
type Resampler struct {
	fromRate int
	toRate   int

	pos    float64
	last   int16
	primed bool
}

func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate}
}

// Reset discards the carried interpolation state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}

// Convert resamples one chunk. When the rates match the input is returned
// untouched. A malformed chunk (odd byte count) fails soft: it is returned
// unconverted so the pipeline keeps moving, at the cost of a brief glitch.
func (r *Resampler) Convert(chunk []byte) []byte {
	if r.fromRate == r.toRate || len(chunk) == 0 {
		return chunk
	}
	if len(chunk)%2 != 0 {
		logger.Log.Errorf("resampler: chunk of %d bytes is not 16-bit aligned, passing through", len(chunk))
		return chunk
	}

	in := BytesToInt16s(chunk)
	if !r.primed {
		r.last = in[0]
		in = in[1:]
		r.primed = true
		r.pos = 0
	}
	n := len(in)
	if n == 0 {
		return nil
	}

	// Virtual stream: index 0 is the carried sample, index k is in[k-1].
	step := float64(r.fromRate) / float64(r.toRate)
	out := make([]int16, 0, int(float64(n)/step)+2)
	pos := r.pos
	for pos <= float64(n) {
		i := int(pos)
		frac := pos - float64(i)
		s0 := r.sampleAt(in, i)
		s1 := s0
		if i+1 <= n {
			s1 = r.sampleAt(in, i+1)
		}
		out = append(out, int16(float64(s0)+frac*(float64(s1)-float64(s0))))
		pos += step
	}
	r.pos = pos - float64(n)
	r.last = in[n-1]

	return Int16sToBytes(out)
}

func (r *Resampler) sampleAt(in []int16, i int) int16 {
	if i == 0 {
		return r.last
	}
	return in[i-1]
}

func BytesToInt16s(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
