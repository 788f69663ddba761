package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kpataki/klaragw/pkg/logger"
)

const defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Config holds the connection parameters for a live session.
type Config struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
	Endpoint          string
	InputSampleRate   int
}

// Session is an established live conversation. Writes are safe for
// concurrent use. Events is closed when the transport ends; Err reports
// why.
type Session interface {
	SendAudio(pcm []byte) error
	SendText(text string) error
	SendToolResult(id, name string, response map[string]any) error
	Events() <-chan ServerEvent
	Close() error
	Err() error
}

// Dialer opens live sessions. Satisfied by *Client.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Client dials the Live API and performs the setup handshake.
type Client struct {
	cfg   Config
	decls []FunctionDeclaration
}

func NewClient(cfg Config, decls []FunctionDeclaration) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.InputSampleRate == 0 {
		cfg.InputSampleRate = 16000
	}
	return &Client{cfg: cfg, decls: decls}
}

// Dial connects, sends the setup message and waits for setupComplete
// before handing the session over.
func (c *Client) Dial(ctx context.Context) (Session, error) {
	url := fmt.Sprintf("%s?key=%s", c.cfg.Endpoint, c.cfg.APIKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	setup := setupMessage{Setup: setupPayload{
		Model: fmt.Sprintf("models/%s", c.cfg.Model),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice},
				},
			},
		},
	}}
	if c.cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &content{
			Parts: []part{{Text: c.cfg.SystemInstruction}},
		}
	}
	if len(c.decls) > 0 {
		setup.Setup.Tools = []toolDeclaration{{FunctionDeclarations: c.decls}}
	}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await setup ack: %w", err)
	}
	var ack serverMessage
	if err := json.Unmarshal(raw, &ack); err != nil || ack.SetupComplete == nil {
		conn.Close()
		return nil, fmt.Errorf("unexpected setup reply: %s", raw)
	}

	s := &liveSession{
		conn:      conn,
		inputRate: c.cfg.InputSampleRate,
		events:    make(chan ServerEvent, 64),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	logger.Log.Infof("Gemini live session established, model %s, voice %s", c.cfg.Model, c.cfg.Voice)
	return s, nil
}

type liveSession struct {
	conn      *websocket.Conn
	inputRate int

	writeMu sync.Mutex
	events  chan ServerEvent
	// closing is closed by Close so a readLoop blocked on a full events
	// channel still unblocks; done is closed by readLoop itself on exit.
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *liveSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *liveSession) SendAudio(pcm []byte) error {
	msg := realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []blob{{
			MimeType: fmt.Sprintf("audio/pcm;rate=%d", s.inputRate),
			Data:     base64.StdEncoding.EncodeToString(pcm),
		}},
	}}
	return s.writeJSON(msg)
}

func (s *liveSession) SendText(text string) error {
	msg := clientContentMessage{ClientContent: clientContent{
		Turns: []content{{
			Role:  "user",
			Parts: []part{{Text: text}},
		}},
		TurnComplete: true,
	}}
	return s.writeJSON(msg)
}

func (s *liveSession) SendToolResult(id, name string, response map[string]any) error {
	msg := toolResponseMessage{ToolResponse: toolResponse{
		FunctionResponses: []functionResponse{{
			ID:       id,
			Name:     name,
			Response: response,
		}},
	}}
	return s.writeJSON(msg)
}

func (s *liveSession) Events() <-chan ServerEvent {
	return s.events
}

func (s *liveSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *liveSession) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *liveSession) readLoop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
			}
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Log.Warnf("Dropping undecodable live message: %v", err)
			continue
		}
		for _, ev := range decodeEvents(&msg) {
			select {
			case s.events <- ev:
			case <-s.closing:
				return
			}
		}
	}
}

// decodeEvents maps one wire message onto its event variants. A single
// message can carry several parts, so the result is a slice.
func decodeEvents(msg *serverMessage) []ServerEvent {
	var out []ServerEvent
	if msg.SetupComplete != nil {
		// Already consumed during Dial; a repeat is harmless noise.
		return out
	}
	if msg.GoAway != nil {
		out = append(out, GoAwayEvent{})
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			out = append(out, ToolCallEvent{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, InterruptedEvent{})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil {
					data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil {
						logger.Log.Warnf("Dropping audio part with bad base64: %v", err)
						continue
					}
					out = append(out, AudioEvent{Data: data})
				}
				if p.Text != "" {
					out = append(out, TextEvent{Text: p.Text})
				}
			}
		}
		if sc.TurnComplete {
			out = append(out, TurnCompleteEvent{})
		}
	}
	return out
}
