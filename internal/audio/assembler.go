package audio

import (
	"sync"
)

// FrameAssembler adapts between the SIP media session's fixed-size pull model
// and the bridge's variable-size push model. Capture chunks pass straight
// through to the bridge; playback audio accumulates in a locked buffer that
// the media session drains one exact frame at a time, padding with silence
// when starved. The buffer itself is uncapped: total buffered audio is
// already bounded by the bridge queue upstream.
type FrameAssembler struct {
	bridge        *Bridge
	bytesPerFrame int

	mu  sync.Mutex
	buf []byte
}

func NewFrameAssembler(bridge *Bridge, sampleRate, frameTimeMs int) *FrameAssembler {
	samplesPerFrame := sampleRate * frameTimeMs / 1000
	return &FrameAssembler{
		bridge:        bridge,
		bytesPerFrame: samplesPerFrame * 2,
	}
}

func (a *FrameAssembler) BytesPerFrame() int {
	return a.bytesPerFrame
}

// Capture forwards one chunk of received call audio to the bridge. The
// resampler and queue accept arbitrary sizes, so no buffering happens here.
func (a *FrameAssembler) Capture(chunk []byte) {
	a.bridge.EnqueueFromSIP(chunk)
}

// AppendPlayback queues resampled model audio for the call.
func (a *FrameAssembler) AppendPlayback(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, chunk...)
	a.mu.Unlock()
}

// NextFrame returns exactly one frame of playback audio, consuming it from
// the front of the buffer, or a frame of silence when not enough has
// accumulated. Partial residue stays buffered.
func (a *FrameAssembler) NextFrame() []byte {
	frame := make([]byte, a.bytesPerFrame)

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf) < a.bytesPerFrame {
		return frame
	}
	copy(frame, a.buf)
	a.buf = a.buf[a.bytesPerFrame:]
	if len(a.buf) == 0 {
		a.buf = nil
	}
	return frame
}

// Clear empties the playback buffer, on call teardown or barge-in.
func (a *FrameAssembler) Clear() {
	a.mu.Lock()
	a.buf = nil
	a.mu.Unlock()
}

func (a *FrameAssembler) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
