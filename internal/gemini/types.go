package gemini

// Client-bound messages for the Live API websocket
// (BidiGenerateContent). Field names follow the wire format.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model             string            `json:"model"`
	GenerationConfig  generationConfig  `json:"generationConfig"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []toolDeclaration `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type toolDeclaration struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration describes one callable tool offered to the model.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []blob `json:"mediaChunks"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Server-bound messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	ToolCall      *toolCall      `json:"toolCall,omitempty"`
	GoAway        *struct{}      `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn    *content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ServerEvent is one decoded unit of the response stream. The wire message is
// decoded into exactly one variant per payload rather than being inspected
// field-by-field at the consumer.
type ServerEvent interface {
	serverEvent()
}

// AudioEvent carries raw 16-bit PCM at the model's output rate.
type AudioEvent struct {
	Data []byte
}

// TextEvent carries model text, surfaced for logging only.
type TextEvent struct {
	Text string
}

// ToolCallEvent is a function-call request that expects a tool response on
// the same session.
type ToolCallEvent struct {
	ID   string
	Name string
	Args map[string]any
}

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

// InterruptedEvent signals barge-in: queued playback should be flushed.
type InterruptedEvent struct{}

// GoAwayEvent announces that the server will close the session soon.
type GoAwayEvent struct{}

func (AudioEvent) serverEvent()        {}
func (TextEvent) serverEvent()         {}
func (ToolCallEvent) serverEvent()     {}
func (TurnCompleteEvent) serverEvent() {}
func (InterruptedEvent) serverEvent()  {}
func (GoAwayEvent) serverEvent()       {}
