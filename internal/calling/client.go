package calling

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/kpataki/klaragw/pkg/logger"
)

// Client is the SIP side of the gateway: it registers at the PBX, answers
// inbound calls and runs their media. One call at a time; a second INVITE
// is refused busy.
type Client struct {
	cfg    Config
	media  MediaHandler
	events EventHandler

	ua  *sipgo.UserAgent
	srv *sipgo.Server
	cli *sipgo.Client

	localIP string

	registered atomic.Bool
	closed     atomic.Bool
	cancelBg   context.CancelFunc

	mu      sync.Mutex
	current *Call
}

func NewClient(cfg Config, media MediaHandler, events EventHandler) (*Client, error) {
	cfg.fillDefaults()

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("klaragw"))
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create sip server: %w", err)
	}
	cli, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create sip client: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		media:  media,
		events: events,
		ua:     ua,
		srv:    srv,
		cli:    cli,
	}
	srv.OnInvite(c.onInvite)
	srv.OnAck(c.onAck)
	srv.OnBye(c.onBye)
	srv.OnCancel(c.onCancel)
	return c, nil
}

// Start brings the listener up and performs the initial registration. It
// returns an error if registering fails; retry policy belongs to the caller.
func (c *Client) Start(ctx context.Context) error {
	ip, err := discoverLocalIP(c.cfg.Server, c.cfg.Port)
	if err != nil {
		return err
	}
	c.localIP = ip

	bgCtx, cancel := context.WithCancel(context.Background())
	c.cancelBg = cancel

	go func() {
		addr := fmt.Sprintf("0.0.0.0:%d", c.cfg.LocalPort)
		if err := c.srv.ListenAndServe(bgCtx, c.cfg.Transport, addr); err != nil {
			if !c.closed.Load() {
				logger.Log.Errorf("SIP listener stopped: %v", err)
				c.registered.Store(false)
			}
		}
	}()
	// Give the listener a moment before the REGISTER goes out on it.
	time.Sleep(100 * time.Millisecond)

	if err := c.register(ctx); err != nil {
		cancel()
		return err
	}
	c.registered.Store(true)
	logger.Log.Infof("Registered extension %s at %s:%d", c.cfg.Extension, c.cfg.Server, c.cfg.Port)

	go c.refreshLoop(bgCtx)
	return nil
}

// Registered reports whether the last (re-)registration succeeded.
func (c *Client) Registered() bool {
	return c.registered.Load()
}

// ActiveCall returns the running call, if any.
func (c *Client) ActiveCall() *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close unregisters interest, ends the running call and shuts the stack
// down. Safe to call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.registered.Store(false)
	if c.cancelBg != nil {
		c.cancelBg()
	}

	c.mu.Lock()
	call := c.current
	c.current = nil
	c.mu.Unlock()
	if call != nil {
		call.hangup()
		c.events.OnCallEnded(call, "shutdown")
	}

	c.srv.Close()
	c.ua.Close()
}

func (c *Client) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	caller := req.From().Address.String()
	callID := req.CallID().Value()
	logger.Log.Infof("Incoming call from %s (call-id %s)", caller, callID)

	c.mu.Lock()
	busy := c.current != nil
	c.mu.Unlock()
	if busy {
		logger.Log.Warnf("Refusing call %s, another call is active", callID)
		c.respond(req, tx, sip.StatusBusyHere, "Busy Here", nil)
		return
	}

	offer, err := parseOffer(req.Body())
	if err != nil {
		logger.Log.Errorf("Rejecting call %s: %v", callID, err)
		c.respond(req, tx, 488, "Not Acceptable Here", nil)
		return
	}
	codec := "PCMU"
	if !offer.supportsPCMU {
		codec = "PCMA"
	}

	call, err := newCall(callID, caller, &c.cfg, c.media, codec, offer.remoteAddr)
	if err != nil {
		logger.Log.Errorf("Cannot set up media for call %s: %v", callID, err)
		c.respond(req, tx, sip.StatusInternalServerError, "Internal Server Error", nil)
		return
	}

	answer, err := buildAnswer(c.localIP, call.RTPPort(), codec)
	if err != nil {
		call.hangup()
		logger.Log.Errorf("Cannot build SDP answer for call %s: %v", callID, err)
		c.respond(req, tx, sip.StatusInternalServerError, "Internal Server Error", nil)
		return
	}

	c.mu.Lock()
	c.current = call
	c.mu.Unlock()

	c.respond(req, tx, sip.StatusRinging, "Ringing", nil)

	if c.cfg.AnswerDelayMs > 0 {
		time.Sleep(time.Duration(c.cfg.AnswerDelayMs) * time.Millisecond)
	}

	ok := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	contentType := sip.ContentTypeHeader("application/sdp")
	ok.AppendHeader(&contentType)
	ok.AppendHeader(sip.NewHeader("Contact",
		fmt.Sprintf("<sip:%s@%s:%d>", c.cfg.Extension, c.localIP, c.cfg.LocalPort)))
	if err := tx.Respond(ok); err != nil {
		logger.Log.Errorf("Error answering call %s: %v", callID, err)
		c.endCall(call, "answer failed")
		return
	}

	// Media can flow as soon as the answer is out; the ACK handler fires
	// the same event again and the orchestrator absorbs the duplicate.
	call.startMedia()
	c.events.OnCallMediaActive(call)
}

func (c *Client) onAck(req *sip.Request, tx sip.ServerTransaction) {
	c.mu.Lock()
	call := c.current
	c.mu.Unlock()
	if call == nil || call.ID() != req.CallID().Value() {
		return
	}
	call.startMedia()
	c.events.OnCallMediaActive(call)
}

func (c *Client) onBye(req *sip.Request, tx sip.ServerTransaction) {
	c.respond(req, tx, sip.StatusOK, "OK", nil)

	c.mu.Lock()
	call := c.current
	c.mu.Unlock()
	if call == nil || call.ID() != req.CallID().Value() {
		return
	}
	logger.Log.Infof("Call %s ended by remote", call.ID())
	c.endCall(call, "remote hangup")
}

func (c *Client) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	c.respond(req, tx, sip.StatusOK, "OK", nil)

	c.mu.Lock()
	call := c.current
	c.mu.Unlock()
	if call == nil || call.ID() != req.CallID().Value() {
		return
	}
	logger.Log.Infof("Call %s cancelled before answer", call.ID())
	c.endCall(call, "cancelled")
}

func (c *Client) endCall(call *Call, reason string) {
	c.mu.Lock()
	if c.current == call {
		c.current = nil
	}
	c.mu.Unlock()
	call.hangup()
	c.events.OnCallEnded(call, reason)
}

func (c *Client) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string, body []byte) {
	res := sip.NewResponseFromRequest(req, code, reason, body)
	if err := tx.Respond(res); err != nil {
		logger.Log.Errorf("Error sending %d response: %v", code, err)
	}
}

// discoverLocalIP finds the outbound interface address toward the PBX.
func discoverLocalIP(server string, port int) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(server, strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("discover local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
