package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kpataki/klaragw/internal/config"
)

type stubController struct {
	mu       sync.Mutex
	starts   int
	stops    int
	active   bool
	startErr error
}

func (s *stubController) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.active = true
	return nil
}

func (s *stubController) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.active = false
}

func (s *stubController) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *stubController) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

type fakeCall struct {
	id      string
	caller  string
	started time.Time
}

func (c *fakeCall) ID() string           { return c.id }
func (c *fakeCall) Caller() string       { return c.caller }
func (c *fakeCall) StartedAt() time.Time { return c.started }

type gatewayHarness struct {
	gw          *Gateway
	mu          sync.Mutex
	controllers []*stubController
	startErr    error
}

func newHarness() *gatewayHarness {
	cfg := &config.Config{}
	cfg.Audio.SIPSampleRate = 8000
	cfg.Audio.GeminiInputRate = 16000
	cfg.Audio.GeminiOutputRate = 24000
	cfg.Audio.FrameTimeMs = 20
	cfg.Audio.QueueCapacity = 10

	h := &gatewayHarness{}
	h.gw = New(cfg, nil, nil)
	h.gw.newController = func() SessionController {
		h.mu.Lock()
		defer h.mu.Unlock()
		c := &stubController{startErr: h.startErr}
		h.controllers = append(h.controllers, c)
		return c
	}
	return h
}

func (h *gatewayHarness) controllerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.controllers)
}

func (h *gatewayHarness) controller(i int) *stubController {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controllers[i]
}

func TestGateway_DuplicateMediaActiveStartsOneSession(t *testing.T) {
	t.Parallel()

	h := newHarness()
	call := &fakeCall{id: "call-1", caller: "sip:100@pbx", started: time.Now()}

	h.gw.OnCallMediaActive(call)
	h.gw.OnCallMediaActive(call)

	if got := h.controllerCount(); got != 1 {
		t.Fatalf("controllers created = %d, want 1", got)
	}
	starts, _ := h.controller(0).counts()
	if starts != 1 {
		t.Errorf("Start called %d times, want 1", starts)
	}
}

func TestGateway_EndedStopsSessionExactlyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	call := &fakeCall{id: "call-1", caller: "sip:100@pbx", started: time.Now()}

	h.gw.OnCallMediaActive(call)
	h.gw.OnCallEnded(call, "remote hangup")
	h.gw.OnCallEnded(call, "remote hangup")

	starts, stops := h.controller(0).counts()
	if starts != 1 || stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 1/1", starts, stops)
	}
}

func TestGateway_StaleMediaActiveAfterEndedIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness()
	call := &fakeCall{id: "call-1", caller: "sip:100@pbx", started: time.Now()}

	h.gw.OnCallMediaActive(call)
	h.gw.OnCallEnded(call, "remote hangup")
	// A queued media callback for the dead call arrives late.
	h.gw.OnCallMediaActive(call)

	if got := h.controllerCount(); got != 1 {
		t.Errorf("stale media event resurrected a session: %d controllers", got)
	}
	if h.gw.Status().CallActive {
		t.Error("gateway reports an active call after teardown")
	}
}

func TestGateway_EndedWithoutMediaActiveIsSafe(t *testing.T) {
	t.Parallel()

	h := newHarness()
	call := &fakeCall{id: "call-cancelled", caller: "sip:100@pbx"}

	h.gw.OnCallEnded(call, "cancelled")

	if got := h.controllerCount(); got != 0 {
		t.Errorf("ended-only call created %d controllers", got)
	}
}

func TestGateway_NextCallGetsFreshSession(t *testing.T) {
	t.Parallel()

	h := newHarness()
	first := &fakeCall{id: "call-1", caller: "sip:100@pbx", started: time.Now()}
	second := &fakeCall{id: "call-2", caller: "sip:200@pbx", started: time.Now()}

	h.gw.OnCallMediaActive(first)
	h.gw.OnCallEnded(first, "remote hangup")
	h.gw.OnCallMediaActive(second)
	h.gw.OnCallEnded(second, "remote hangup")

	if got := h.controllerCount(); got != 2 {
		t.Fatalf("controllers created = %d, want 2", got)
	}
	for i := 0; i < 2; i++ {
		starts, stops := h.controller(i).counts()
		if starts != 1 || stops != 1 {
			t.Errorf("controller %d starts/stops = %d/%d, want 1/1", i, starts, stops)
		}
	}
}

func TestGateway_FailedSessionStartAllowsRetry(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.startErr = errors.New("endpoint unreachable")
	call := &fakeCall{id: "call-1", caller: "sip:100@pbx", started: time.Now()}

	h.gw.OnCallMediaActive(call)
	if h.gw.Status().CallActive {
		t.Error("failed session start left the call marked active")
	}

	// The next media event for the same call may try again.
	h.mu.Lock()
	h.startErr = nil
	h.mu.Unlock()
	h.gw.OnCallMediaActive(call)

	if got := h.controllerCount(); got != 2 {
		t.Fatalf("controllers created = %d, want 2", got)
	}
	if !h.controller(1).Active() {
		t.Error("retried session is not active")
	}
}

func TestGateway_StatusReflectsCallState(t *testing.T) {
	t.Parallel()

	h := newHarness()
	call := &fakeCall{id: "call-1", caller: "sip:100@pbx", started: time.Now()}

	if h.gw.Status().CallActive {
		t.Error("idle gateway reports an active call")
	}

	h.gw.OnCallMediaActive(call)
	s := h.gw.Status()
	if !s.CallActive || s.CurrentCallID != "call-1" {
		t.Errorf("status = %+v, want active call-1", s)
	}

	h.gw.OnCallEnded(call, "remote hangup")
	if h.gw.Status().CallActive {
		t.Error("ended call still reported active")
	}
}
