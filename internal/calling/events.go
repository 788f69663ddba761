package calling

import "time"

// CallInfo is the read-only view of a call handed to event callbacks.
type CallInfo interface {
	ID() string
	Caller() string
	StartedAt() time.Time
}

// EventHandler receives call lifecycle notifications. Callbacks fire on
// signaling goroutines, may arrive more than once for the same transition
// and must return quickly.
type EventHandler interface {
	// OnCallMediaActive fires when two-way audio is flowing.
	OnCallMediaActive(call CallInfo)
	// OnCallEnded fires when the call is over, whatever the reason. It can
	// arrive without a preceding OnCallMediaActive.
	OnCallEnded(call CallInfo, reason string)
}

// MediaHandler moves call audio between the RTP loops and the rest of the
// gateway. Audio is 16-bit little-endian PCM at the telephony rate.
type MediaHandler interface {
	// Capture receives decoded audio from the remote party.
	Capture(chunk []byte)
	// NextFrame returns exactly one frame of playback audio, silence when
	// nothing is buffered.
	NextFrame() []byte
}
