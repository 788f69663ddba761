package audio

import (
	"bytes"
	"context"
	"testing"
)

func newTestAssembler() *FrameAssembler {
	return NewFrameAssembler(newTestBridge(10), 8000, 20)
}

func TestFrameAssembler_BytesPerFrame(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	// 20 ms at 8 kHz, 16-bit: 160 samples, 320 bytes.
	if got := a.BytesPerFrame(); got != 320 {
		t.Errorf("BytesPerFrame = %d, want 320", got)
	}
}

func TestFrameAssembler_SilenceWhenEmpty(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	frame := a.NextFrame()
	if len(frame) != 320 {
		t.Fatalf("frame length = %d, want 320", len(frame))
	}
	if !bytes.Equal(frame, make([]byte, 320)) {
		t.Error("starved assembler returned non-silent frame")
	}
}

func TestFrameAssembler_ExactFrameDrain(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	chunk := make([]byte, 500)
	for i := range chunk {
		chunk[i] = byte(i % 251)
	}
	a.AppendPlayback(chunk)

	first := a.NextFrame()
	if !bytes.Equal(first, chunk[:320]) {
		t.Error("first frame does not match the front of the buffer")
	}
	if got := a.Buffered(); got != 180 {
		t.Errorf("residue = %d bytes, want 180", got)
	}

	// 180 bytes is less than a frame, so the next pull is silence and the
	// residue stays put.
	second := a.NextFrame()
	if !bytes.Equal(second, make([]byte, 320)) {
		t.Error("short buffer yielded a partial frame instead of silence")
	}
	if got := a.Buffered(); got != 180 {
		t.Errorf("residue consumed by a silence frame: %d bytes left", got)
	}

	// Topping it up makes the residue playable again.
	a.AppendPlayback(make([]byte, 140))
	third := a.NextFrame()
	if !bytes.Equal(third[:180], chunk[320:]) {
		t.Error("residue was not played in order after top-up")
	}
	if got := a.Buffered(); got != 0 {
		t.Errorf("buffer not empty after final frame: %d bytes", got)
	}
}

func TestFrameAssembler_Clear(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	a.AppendPlayback(make([]byte, 1000))
	a.Clear()
	if got := a.Buffered(); got != 0 {
		t.Errorf("Buffered = %d after Clear, want 0", got)
	}
}

func TestFrameAssembler_CaptureForwardsToBridge(t *testing.T) {
	t.Parallel()

	b := newTestBridge(10)
	a := NewFrameAssembler(b, 8000, 20)
	a.Capture(pcmChunk(42))

	got, err := b.NextForGemini(context.Background())
	if err != nil {
		t.Fatalf("captured chunk never reached the bridge: %v", err)
	}
	if BytesToInt16s(got)[0] != 42 {
		t.Errorf("captured chunk corrupted: %v", got)
	}
}
