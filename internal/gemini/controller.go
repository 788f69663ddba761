package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kpataki/klaragw/internal/audio"
	"github.com/kpataki/klaragw/pkg/logger"
)

// State of the session controller.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var errServerClosed = errors.New("live session closed by server")

// ToolExecutor resolves function calls coming from the model.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// ControllerOptions tune a Controller. Zero values get sensible defaults.
type ControllerOptions struct {
	// Greeting is sent as the first user turn so the model speaks first.
	Greeting string
	// PollInterval bounds how long the outbound pump waits for capture
	// audio before checking for cancellation again.
	PollInterval time.Duration
	// RetryBackoff is the pause after a transient send failure.
	RetryBackoff time.Duration
	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration
	// OnInterrupted fires when the model reports barge-in.
	OnInterrupted func()
}

// Controller owns one AI conversation: it dials the session, runs the two
// audio pumps and dispatches tool calls. Start and Stop are idempotent and
// safe to race from signaling callbacks.
type Controller struct {
	dialer Dialer
	bridge *audio.Bridge
	tools  ToolExecutor
	opts   ControllerOptions

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(dialer Dialer, bridge *audio.Bridge, tools ToolExecutor, opts ControllerOptions) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 10 * time.Second
	}
	return &Controller{
		dialer: dialer,
		bridge: bridge,
		tools:  tools,
		opts:   opts,
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a session is running or being set up.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateStarting || c.state == StateActive
}

// Start dials a session and launches the pumps. A second Start while one
// session exists logs a warning and does nothing, so racing media-active
// callbacks cannot open two transports.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		logger.Log.Warnf("Gemini session already %s, ignoring duplicate start", state)
		return nil
	}
	c.state = StateStarting
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	session, err := c.dialer.Dial(runCtx)
	if err != nil {
		c.setState(StateIdle)
		cancel()
		close(done)
		return fmt.Errorf("start live session: %w", err)
	}
	if c.opts.Greeting != "" {
		if err := session.SendText(c.opts.Greeting); err != nil {
			session.Close()
			c.setState(StateIdle)
			cancel()
			close(done)
			return fmt.Errorf("send greeting: %w", err)
		}
	}
	c.setState(StateActive)
	go c.run(runCtx, session, done)
	return nil
}

// Stop tears the session down and waits for the pumps to exit. Stopping an
// idle controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		logger.Log.Debug("Stop on idle Gemini controller, nothing to do")
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context, session Session, done chan struct{}) {
	defer close(done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pumpOutbound(gctx, session) })
	g.Go(func() error { return c.pumpInbound(gctx, session) })
	err := g.Wait()

	c.setState(StateStopping)
	session.Close()
	c.setState(StateIdle)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Log.Info("Gemini session closed")
	case errors.Is(err, errServerClosed):
		logger.Log.Warnf("Gemini session closed by server: %v", session.Err())
	default:
		logger.Log.Errorf("Gemini session failed: %v", err)
	}
}

// pumpOutbound moves capture audio from the bridge into the session. Poll
// timeouts just mean the caller is silent and are not errors.
func (c *Controller) pumpOutbound(ctx context.Context, session Session) error {
	for {
		pollCtx, cancel := context.WithTimeout(ctx, c.opts.PollInterval)
		chunk, err := c.bridge.NextForGemini(pollCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := session.SendAudio(chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.Errorf("Error sending audio to Gemini: %v", err)
			select {
			case <-time.After(c.opts.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// pumpInbound consumes server events until cancellation or transport end.
func (c *Controller) pumpInbound(ctx context.Context, session Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-session.Events():
			if !ok {
				if err := session.Err(); err != nil {
					return fmt.Errorf("%w: %v", errServerClosed, err)
				}
				return errServerClosed
			}
			c.handleEvent(ctx, session, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, session Session, ev ServerEvent) {
	switch e := ev.(type) {
	case AudioEvent:
		c.bridge.EnqueueFromGemini(e.Data)
	case TextEvent:
		logger.Log.Infof("Gemini: %s", e.Text)
	case ToolCallEvent:
		c.dispatchTool(ctx, session, e)
	case InterruptedEvent:
		logger.Log.Info("Gemini interrupted by caller, flushing playback")
		c.bridge.FlushPlayback()
		if c.opts.OnInterrupted != nil {
			c.opts.OnInterrupted()
		}
	case TurnCompleteEvent:
		logger.Log.Debug("Gemini turn complete")
	case GoAwayEvent:
		logger.Log.Warn("Gemini server announced session end")
	}
}

// dispatchTool executes a function call and reports the outcome back on the
// session. Execution failures become an error payload for the model instead
// of ending the conversation.
func (c *Controller) dispatchTool(ctx context.Context, session Session, ev ToolCallEvent) {
	logger.Log.Infof("Tool call from Gemini: %s(%v)", ev.Name, ev.Args)

	toolCtx, cancel := context.WithTimeout(ctx, c.opts.ToolTimeout)
	result, err := c.tools.Execute(toolCtx, ev.Name, ev.Args)
	cancel()

	var response map[string]any
	if err != nil {
		logger.Log.Errorf("Tool %s failed: %v", ev.Name, err)
		response = map[string]any{"error": err.Error()}
	} else {
		response = map[string]any{"result": result}
	}
	if err := session.SendToolResult(ev.ID, ev.Name, response); err != nil {
		logger.Log.Errorf("Error sending tool response for %s: %v", ev.Name, err)
	}
}
