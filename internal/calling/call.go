package calling

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/kpataki/klaragw/internal/audio"
	"github.com/kpataki/klaragw/pkg/logger"
)

const (
	payloadTypePCMU = 0
	payloadTypePCMA = 8
)

// Call is one answered inbound call with its RTP loops.
type Call struct {
	id      string
	caller  string
	codec   string
	started time.Time

	cfg   *Config
	media MediaHandler

	conn *net.UDPConn

	remoteMu sync.Mutex
	remote   *net.UDPAddr

	seq  uint16
	ts   uint32
	ssrc uint32

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mediaUp atomic.Bool
}

func newCall(id, caller string, cfg *Config, media MediaHandler, codec string, remote *net.UDPAddr) (*Call, error) {
	conn, err := bindRTP(cfg.RTPPortMin, cfg.RTPPortMax)
	if err != nil {
		return nil, err
	}
	return &Call{
		id:      id,
		caller:  caller,
		codec:   codec,
		started: time.Now(),
		cfg:     cfg,
		media:   media,
		conn:    conn,
		remote:  remote,
		seq:    uint16(rand.Uint32()),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
		stop:   make(chan struct{}),
	}, nil
}

func bindRTP(min, max int) (*net.UDPConn, error) {
	for port := min; port <= max; port += 2 {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
		if err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("no free RTP port in %d-%d", min, max)
}

func (c *Call) ID() string            { return c.id }
func (c *Call) Caller() string        { return c.caller }
func (c *Call) StartedAt() time.Time  { return c.started }
func (c *Call) Codec() string         { return c.codec }
func (c *Call) RTPPort() int          { return c.conn.LocalAddr().(*net.UDPAddr).Port }
func (c *Call) Duration() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// startMedia launches the RTP loops. Safe to call more than once.
func (c *Call) startMedia() {
	if !c.mediaUp.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(2)
	go c.recvLoop()
	go c.sendLoop()
	logger.Log.Infof("RTP media started for call %s on port %d, codec %s", c.id, c.RTPPort(), c.codec)
}

// hangup stops the loops and closes the socket. Idempotent.
func (c *Call) hangup() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.conn.Close()
	})
	c.wg.Wait()
}

func (c *Call) remoteAddr() *net.UDPAddr {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()
	return c.remote
}

func (c *Call) learnRemote(addr *net.UDPAddr) {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()
	if c.remote == nil || !c.remote.IP.Equal(addr.IP) || c.remote.Port != addr.Port {
		c.remote = addr
	}
}

// recvLoop reads remote RTP, decodes G.711 and hands PCM to the media
// handler. The sender address of the first packet wins over the SDP offer.
func (c *Call) recvLoop() {
	defer c.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		c.learnRemote(addr)

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Log.Debugf("Dropping malformed RTP packet on call %s: %v", c.id, err)
			continue
		}
		var samples []int16
		switch pkt.PayloadType {
		case payloadTypePCMU:
			samples = audio.DecodeULaw(pkt.Payload)
		case payloadTypePCMA:
			samples = audio.DecodeALaw(pkt.Payload)
		default:
			continue
		}
		c.media.Capture(audio.Int16sToBytes(samples))
	}
}

// sendLoop pulls one playback frame per tick, encodes it and paces it out.
func (c *Call) sendLoop() {
	defer c.wg.Done()
	frameDur := time.Duration(c.cfg.FrameTimeMs) * time.Millisecond
	samplesPerFrame := c.cfg.SampleRate * c.cfg.FrameTimeMs / 1000

	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		remote := c.remoteAddr()
		if remote == nil {
			continue
		}

		frame := c.media.NextFrame()
		samples := audio.BytesToInt16s(frame)
		var payload []byte
		var payloadType uint8
		if c.codec == "PCMA" {
			payload = audio.EncodeALaw(samples)
			payloadType = payloadTypePCMA
		} else {
			payload = audio.EncodeULaw(samples)
			payloadType = payloadTypePCMU
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    payloadType,
				SequenceNumber: c.seq,
				Timestamp:      c.ts,
				SSRC:           c.ssrc,
			},
			Payload: payload,
		}
		c.seq++
		c.ts += uint32(samplesPerFrame)

		raw, err := pkt.Marshal()
		if err != nil {
			logger.Log.Errorf("Error marshaling RTP packet on call %s: %v", c.id, err)
			continue
		}
		if _, err := c.conn.WriteToUDP(raw, remote); err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			logger.Log.Debugf("Error sending RTP on call %s: %v", c.id, err)
		}
	}
}
