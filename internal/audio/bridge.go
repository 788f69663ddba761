package audio

import (
	"context"
	"sync/atomic"

	"github.com/kpataki/klaragw/pkg/logger"
)

type BridgeConfig struct {
	SIPSampleRate    int
	GeminiInputRate  int
	GeminiOutputRate int
	QueueCapacity    int
}

// Bridge moves audio between the SIP leg and the Gemini leg with
// direction-specific resampling and bounded, non-blocking intake. Each
// direction is a FIFO channel; a full channel drops the newest chunk so the
// SIP media callback never blocks. The channels are the only state shared
// between the two concurrency domains; each resampler is touched only from
// its direction's single producer.
type Bridge struct {
	cfg BridgeConfig

	sipToGemini chan []byte
	geminiToSIP chan []byte

	up   *Resampler // SIP rate -> Gemini input rate
	down *Resampler // Gemini output rate -> SIP rate

	droppedUp   atomic.Uint64
	droppedDown atomic.Uint64
}

type BridgeStats struct {
	SIPToGeminiDepth  int    `json:"sip_to_gemini_depth"`
	GeminiToSIPDepth  int    `json:"gemini_to_sip_depth"`
	DroppedFromSIP    uint64 `json:"dropped_from_sip"`
	DroppedFromGemini uint64 `json:"dropped_from_gemini"`
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	b := &Bridge{
		cfg:         cfg,
		sipToGemini: make(chan []byte, cfg.QueueCapacity),
		geminiToSIP: make(chan []byte, cfg.QueueCapacity),
		up:          NewResampler(cfg.SIPSampleRate, cfg.GeminiInputRate),
		down:        NewResampler(cfg.GeminiOutputRate, cfg.SIPSampleRate),
	}
	logger.Log.Infof("Audio bridge initialized: SIP@%dHz <-> Gemini@%dHz/%dHz, queue capacity %d",
		cfg.SIPSampleRate, cfg.GeminiInputRate, cfg.GeminiOutputRate, cfg.QueueCapacity)
	return b
}

// EnqueueFromSIP resamples a chunk of call audio to the Gemini input rate and
// queues it. Drops the chunk when the queue is full.
func (b *Bridge) EnqueueFromSIP(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	resampled := b.up.Convert(chunk)
	if len(resampled) == 0 {
		return
	}
	select {
	case b.sipToGemini <- resampled:
	default:
		b.droppedUp.Add(1)
		logger.Log.Warn("SIP->Gemini queue full, dropping audio chunk")
	}
}

// EnqueueFromGemini resamples a chunk of model audio to the SIP rate and
// queues it. Drops the chunk when the queue is full.
func (b *Bridge) EnqueueFromGemini(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	resampled := b.down.Convert(chunk)
	if len(resampled) == 0 {
		return
	}
	select {
	case b.geminiToSIP <- resampled:
	default:
		b.droppedDown.Add(1)
		logger.Log.Warn("Gemini->SIP queue full, dropping audio chunk")
	}
}

// NextForGemini blocks until a chunk is queued for the Gemini leg or ctx ends.
func (b *Bridge) NextForGemini(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-b.sipToGemini:
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextForSIP blocks until a chunk is queued for the SIP leg or ctx ends.
func (b *Bridge) NextForSIP(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-b.geminiToSIP:
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryNextForSIP is the non-blocking variant for callback contexts.
func (b *Bridge) TryNextForSIP() ([]byte, bool) {
	select {
	case chunk := <-b.geminiToSIP:
		return chunk, true
	default:
		return nil, false
	}
}

// FlushPlayback drains audio queued toward the SIP leg. Used on barge-in so
// the caller does not keep hearing a reply the model already abandoned.
func (b *Bridge) FlushPlayback() {
	drain(b.geminiToSIP)
}

func drain(ch chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Reset drops both resampler states and drains both queues. Must run exactly
// once per new call before any audio flows, so nothing from the previous call
// leaks into the next.
func (b *Bridge) Reset() {
	b.up.Reset()
	b.down.Reset()
	drain(b.sipToGemini)
	drain(b.geminiToSIP)
	logger.Log.Debug("Audio bridge state reset")
}

func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		SIPToGeminiDepth:  len(b.sipToGemini),
		GeminiToSIPDepth:  len(b.geminiToSIP),
		DroppedFromSIP:    b.droppedUp.Load(),
		DroppedFromGemini: b.droppedDown.Load(),
	}
}
