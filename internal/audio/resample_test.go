package audio

import (
	"bytes"
	"testing"
)

func pcmChunk(samples ...int16) []byte {
	return Int16sToBytes(samples)
}

func constantChunk(n int, value int16) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return Int16sToBytes(samples)
}

func TestResampler_IdentityWhenRatesEqual(t *testing.T) {
	t.Parallel()

	r := NewResampler(8000, 8000)
	in := pcmChunk(1, -2, 3, -4, 32767, -32768)
	out := r.Convert(in)
	if !bytes.Equal(out, in) {
		t.Errorf("identity resample changed the chunk: got %v, want %v", out, in)
	}
}

func TestResampler_UpsampleDoublesChunkSize(t *testing.T) {
	t.Parallel()

	r := NewResampler(8000, 16000)

	// Ten 160-byte chunks at 8 kHz. The first output is one sample short
	// while the interpolator primes, every later chunk doubles exactly.
	for i := 0; i < 10; i++ {
		out := r.Convert(constantChunk(80, 1000))
		want := 320
		if i == 0 {
			want = 318
		}
		if len(out) != want {
			t.Errorf("chunk %d: len = %d, want %d", i, len(out), want)
		}
	}
}

func TestResampler_UpsampleInterpolatesBetweenSamples(t *testing.T) {
	t.Parallel()

	r := NewResampler(8000, 16000)
	r.Convert(pcmChunk(0))

	out := BytesToInt16s(r.Convert(pcmChunk(100, 200)))
	// Carried sample is 0, so the doubled stream walks 0..100..200 in
	// half steps.
	want := []int16{0, 50, 100, 150, 200}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResampler_DownsampleThirdsChunkSize(t *testing.T) {
	t.Parallel()

	r := NewResampler(24000, 8000)
	// 240 samples at 24 kHz make a 20 ms chunk.
	out := r.Convert(constantChunk(240, 500))
	n := len(out) / 2
	if n < 79 || n > 80 {
		t.Errorf("24k->8k of 240 samples yielded %d samples, want 79..80", n)
	}
}

func TestResampler_StateCarriesAcrossChunks(t *testing.T) {
	t.Parallel()

	// Feeding one stream in two pieces must equal feeding it whole.
	whole := NewResampler(8000, 16000)
	split := NewResampler(8000, 16000)

	stream := make([]int16, 160)
	for i := range stream {
		stream[i] = int16(i * 100)
	}

	wholeOut := whole.Convert(Int16sToBytes(stream))
	part1 := split.Convert(Int16sToBytes(stream[:73]))
	part2 := split.Convert(Int16sToBytes(stream[73:]))

	joined := append(append([]byte{}, part1...), part2...)
	if !bytes.Equal(joined, wholeOut) {
		t.Errorf("split conversion diverged from whole conversion: %d vs %d bytes", len(joined), len(wholeOut))
	}
}

func TestResampler_ResetForgetsHistory(t *testing.T) {
	t.Parallel()

	r := NewResampler(8000, 16000)
	first := append([]byte{}, r.Convert(constantChunk(80, 12345))...)

	r.Reset()
	second := r.Convert(constantChunk(80, 12345))
	if !bytes.Equal(first, second) {
		t.Errorf("conversion after Reset differs from a fresh resampler")
	}
}

func TestResampler_OddLengthChunkPassesThrough(t *testing.T) {
	t.Parallel()

	r := NewResampler(8000, 16000)
	in := []byte{1, 2, 3}
	out := r.Convert(in)
	if !bytes.Equal(out, in) {
		t.Errorf("malformed chunk was not passed through unchanged")
	}
}

func TestResampler_EmptyChunk(t *testing.T) {
	t.Parallel()

	r := NewResampler(8000, 16000)
	if out := r.Convert(nil); len(out) != 0 {
		t.Errorf("empty chunk produced %d bytes", len(out))
	}
}
