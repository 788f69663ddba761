package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/kpataki/klaragw/internal/audio"
	"github.com/kpataki/klaragw/internal/calling"
	"github.com/kpataki/klaragw/internal/config"
	"github.com/kpataki/klaragw/internal/gemini"
	"github.com/kpataki/klaragw/internal/model"
	"github.com/kpataki/klaragw/internal/repository"
	"github.com/kpataki/klaragw/internal/tools"
	"github.com/kpataki/klaragw/pkg/logger"
)

// SessionController is the AI conversation lifecycle the gateway drives.
// Satisfied by *gemini.Controller.
type SessionController interface {
	Start(ctx context.Context) error
	Stop()
	Active() bool
}

// Gateway ties SIP calls to AI sessions. It implements calling.EventHandler
// and guarantees one session per call no matter how the signaling callbacks
// race or repeat.
type Gateway struct {
	cfg       *config.Config
	bridge    *audio.Bridge
	assembler *audio.FrameAssembler
	registry  *tools.Registry
	calls     *repository.CallRepository

	// newController is swappable so the lifecycle logic is testable
	// without a live endpoint.
	newController func() SessionController

	mu            sync.Mutex
	client        *calling.Client
	controller    SessionController
	pumpCancel    context.CancelFunc
	currentCallID string
	lastEndedID   string
}

func New(cfg *config.Config, registry *tools.Registry, calls *repository.CallRepository) *Gateway {
	bridge := audio.NewBridge(audio.BridgeConfig{
		SIPSampleRate:    cfg.Audio.SIPSampleRate,
		GeminiInputRate:  cfg.Audio.GeminiInputRate,
		GeminiOutputRate: cfg.Audio.GeminiOutputRate,
		QueueCapacity:    cfg.Audio.QueueCapacity,
	})
	assembler := audio.NewFrameAssembler(bridge, cfg.Audio.SIPSampleRate, cfg.Audio.FrameTimeMs)

	g := &Gateway{
		cfg:       cfg,
		bridge:    bridge,
		assembler: assembler,
		registry:  registry,
		calls:     calls,
	}
	g.newController = g.buildController
	return g
}

func (g *Gateway) buildController() SessionController {
	dialer := gemini.NewClient(gemini.Config{
		APIKey:            g.cfg.Gemini.APIKey,
		Model:             g.cfg.Gemini.Model,
		Voice:             g.cfg.Gemini.Voice,
		SystemInstruction: g.cfg.Gemini.SystemInstruction,
		Endpoint:          g.cfg.Gemini.Endpoint,
		InputSampleRate:   g.cfg.Audio.GeminiInputRate,
	}, g.registry.Declarations())
	return gemini.NewController(dialer, g.bridge, g.registry, gemini.ControllerOptions{
		Greeting:      g.cfg.Gemini.GreetingTrigger,
		OnInterrupted: g.assembler.Clear,
	})
}

// Run keeps the SIP side registered until ctx ends. Registration failures
// and losses are retried on a fixed delay; a non-zero MaxRegisterRetries
// bounds consecutive failures.
func (g *Gateway) Run(ctx context.Context) error {
	retryDelay := time.Duration(g.cfg.SIP.RegisterRetrySeconds) * time.Second
	if retryDelay <= 0 {
		retryDelay = 10 * time.Second
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		client, err := g.connect(ctx)
		if err != nil {
			failures++
			if max := g.cfg.SIP.MaxRegisterRetries; max > 0 && failures >= max {
				logger.Log.Errorf("Giving up SIP registration after %d attempts: %v", failures, err)
				return err
			}
			logger.Log.Warnf("SIP registration failed: %v. Retrying in %s...", err, retryDelay)
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		failures = 0
		logger.Log.Infof("Voice gateway ready, waiting for calls as extension %s", g.cfg.SIP.Extension)

		g.watchRegistration(ctx, client)
		g.setClient(nil)
		client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Log.Warn("Lost SIP registration, reconnecting...")
	}
}

func (g *Gateway) connect(ctx context.Context) (*calling.Client, error) {
	client, err := calling.NewClient(calling.Config{
		Extension:     g.cfg.SIP.Extension,
		AuthID:        g.cfg.SIP.AuthID,
		Password:      g.cfg.SIP.Password,
		Server:        g.cfg.SIP.Server,
		Port:          g.cfg.SIP.Port,
		Transport:     g.cfg.SIP.Transport,
		LocalPort:     g.cfg.SIP.LocalPort,
		RTPPortMin:    g.cfg.SIP.RTPPortMin,
		RTPPortMax:    g.cfg.SIP.RTPPortMax,
		ExpirySeconds: g.cfg.SIP.ExpirySeconds,
		AnswerDelayMs: g.cfg.SIP.AnswerDelayMs,
		SampleRate:    g.cfg.Audio.SIPSampleRate,
		FrameTimeMs:   g.cfg.Audio.FrameTimeMs,
	}, g.assembler, g)
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}
	g.setClient(client)
	return client, nil
}

func (g *Gateway) setClient(client *calling.Client) {
	g.mu.Lock()
	g.client = client
	g.mu.Unlock()
}

func (g *Gateway) watchRegistration(ctx context.Context, client *calling.Client) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !client.Registered() {
				return
			}
		}
	}
}

// OnCallMediaActive starts one AI session for the call. Duplicate
// deliveries for the same call and stale deliveries for an already ended
// call are ignored.
func (g *Gateway) OnCallMediaActive(call calling.CallInfo) {
	g.mu.Lock()
	if call.ID() == g.currentCallID {
		g.mu.Unlock()
		logger.Log.Debugf("Media already active for call %s, ignoring duplicate event", call.ID())
		return
	}
	if call.ID() == g.lastEndedID {
		g.mu.Unlock()
		logger.Log.Warnf("Ignoring stale media event for ended call %s", call.ID())
		return
	}
	if g.controller != nil {
		g.mu.Unlock()
		logger.Log.Warnf("A session is still up, ignoring media event for call %s", call.ID())
		return
	}

	g.currentCallID = call.ID()
	g.bridge.Reset()
	g.assembler.Clear()

	ctrl := g.newController()
	pumpCtx, cancel := context.WithCancel(context.Background())
	g.controller = ctrl
	g.pumpCancel = cancel
	g.mu.Unlock()

	logger.Log.Infof("Call %s from %s is live, starting AI session", call.ID(), call.Caller())
	if err := ctrl.Start(pumpCtx); err != nil {
		logger.Log.Errorf("Cannot start AI session for call %s: %v", call.ID(), err)
		g.mu.Lock()
		if g.currentCallID == call.ID() {
			g.controller = nil
			g.pumpCancel = nil
			g.currentCallID = ""
		}
		g.mu.Unlock()
		cancel()
		return
	}
	go g.playbackPump(pumpCtx)
}

// OnCallEnded tears the session down and records the call. Safe when no
// session ever started and safe to deliver more than once.
func (g *Gateway) OnCallEnded(call calling.CallInfo, reason string) {
	g.mu.Lock()
	if call.ID() == g.lastEndedID && g.currentCallID != call.ID() {
		g.mu.Unlock()
		return
	}
	ctrl := g.controller
	cancel := g.pumpCancel
	sessionRan := g.currentCallID == call.ID() && ctrl != nil
	g.controller = nil
	g.pumpCancel = nil
	g.currentCallID = ""
	g.lastEndedID = call.ID()
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ctrl != nil {
		ctrl.Stop()
	}
	g.assembler.Clear()

	duration := time.Duration(0)
	if !call.StartedAt().IsZero() {
		duration = time.Since(call.StartedAt())
	}
	logger.Log.Infof("Call %s ended (%s) after %s", call.ID(), reason, duration.Round(time.Second))

	if g.calls != nil && sessionRan {
		record := &model.CallRecord{
			CallID:          call.ID(),
			Caller:          call.Caller(),
			StartedAt:       call.StartedAt(),
			EndedAt:         time.Now(),
			DurationSeconds: int(duration.Seconds()),
			Reason:          reason,
		}
		if err := g.calls.Create(record); err != nil {
			logger.Log.Errorf("Error recording call %s: %v", call.ID(), err)
		}
	}
}

// playbackPump moves session audio into the playback buffer the RTP sender
// drains frame by frame.
func (g *Gateway) playbackPump(ctx context.Context) {
	for {
		chunk, err := g.bridge.NextForSIP(ctx)
		if err != nil {
			return
		}
		g.assembler.AppendPlayback(chunk)
	}
}

// Status is a health snapshot for the HTTP API and the status tool.
type Status struct {
	Registered    bool              `json:"registered"`
	CallActive    bool              `json:"call_active"`
	CurrentCallID string            `json:"current_call_id,omitempty"`
	Bridge        audio.BridgeStats `json:"bridge"`
}

func (g *Gateway) Status() Status {
	g.mu.Lock()
	client := g.client
	callID := g.currentCallID
	g.mu.Unlock()

	s := Status{
		CallActive:    callID != "",
		CurrentCallID: callID,
		Bridge:        g.bridge.Stats(),
	}
	if client != nil {
		s.Registered = client.Registered()
	}
	return s
}

// StatusMap feeds the get_service_status tool.
func (g *Gateway) StatusMap() map[string]any {
	s := g.Status()
	return map[string]any{
		"sip_registered": s.Registered,
		"call_active":    s.CallActive,
	}
}

// Close ends any running call session and disconnects from the PBX.
func (g *Gateway) Close() {
	g.mu.Lock()
	client := g.client
	g.client = nil
	g.mu.Unlock()
	if client != nil {
		client.Close()
	}
}
