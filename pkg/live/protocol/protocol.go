// Package protocol defines the wire frames exchanged over a live session
// socket and the codec that encodes and decodes them.
//
// A frame is a JSON object with exactly one top-level member naming the
// payload type. Client frames: setup, clientContent, realtimeInput,
// toolResponse. Server frames: setupComplete, serverContent, toolCall,
// toolCallCancellation, goAway, sessionResumptionUpdate, usageMetadata.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/voxlink-go/golive/pkg/core"
)

// Response modalities. A session is configured with exactly one.
const (
	ModalityText  = "TEXT"
	ModalityAudio = "AUDIO"
)

// Speech boundary sensitivities for automatic activity detection.
const (
	SensitivityHigh = "HIGH"
	SensitivityLow  = "LOW"
)

// Tool call behaviors.
const (
	BehaviorBlocking    = "BLOCKING"
	BehaviorNonBlocking = "NON_BLOCKING"
)

// Tool response scheduling policies.
const (
	SchedulingInterrupt = "INTERRUPT"
	SchedulingWhenIdle  = "WHEN_IDLE"
	SchedulingSilent    = "SILENT"
)

// Audio MIME types fixed by the wire contract.
const (
	AudioInMIMEType  = "audio/pcm;rate=16000"
	AudioOutMIMEType = "audio/pcm;rate=24000"
)

// GenerationConfig configures model output for the session.
type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	Voice              string   `json:"voice,omitempty"`
}

// AutomaticActivityDetection configures server-side speech boundary
// detection. Disabled switches the session to manual activity signaling.
type AutomaticActivityDetection struct {
	Disabled                 bool   `json:"disabled,omitempty"`
	StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity,omitempty"`
	EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity,omitempty"`
	PrefixPaddingMS          int    `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMS        int    `json:"silenceDurationMs,omitempty"`
}

// RealtimeInputConfig configures how realtime media input is interpreted.
type RealtimeInputConfig struct {
	AutomaticActivityDetection *AutomaticActivityDetection `json:"automaticActivityDetection,omitempty"`
}

// SessionResumption opts the session into resumption updates. Handle is set
// when resuming a prior session.
type SessionResumption struct {
	Handle string `json:"handle,omitempty"`
}

// SlidingWindow is the only supported context compression mechanism.
type SlidingWindow struct{}

// AudioTranscriptionConfig requests transcription of one audio direction.
// Its presence is the request; it carries no settings.
type AudioTranscriptionConfig struct{}

// ContextWindowCompression asks the server to compress older context once
// the prompt grows past TriggerTokens.
type ContextWindowCompression struct {
	TriggerTokens int            `json:"triggerTokens,omitempty"`
	SlidingWindow *SlidingWindow `json:"slidingWindow,omitempty"`
}

// FunctionDeclaration describes one callable tool.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Behavior    string         `json:"behavior,omitempty"`
}

// Tool groups function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// Setup is the first frame on every physical connection. On resume it
// additionally carries the resumption handle.
type Setup struct {
	Model                    string                    `json:"model"`
	GenerationConfig         GenerationConfig          `json:"generationConfig"`
	SystemInstruction        *Content                  `json:"systemInstruction,omitempty"`
	Tools                    []Tool                    `json:"tools,omitempty"`
	RealtimeInputConfig      *RealtimeInputConfig      `json:"realtimeInputConfig,omitempty"`
	SessionResumption        *SessionResumption        `json:"sessionResumption,omitempty"`
	ContextWindowCompression *ContextWindowCompression `json:"contextWindowCompression,omitempty"`
	InputAudioTranscription  *AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

// Part is one fragment of a turn: text, inline audio, or a tool payload.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 media with its MIME type.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Content is one role's contribution composed of ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// ClientContent carries turn-taking content. Sending it interrupts any
// in-progress generation.
type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

// AudioBlob is a base64 PCM payload tagged with its MIME type.
type AudioBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// RealtimeInput carries continuously streamed media and manual activity
// markers, outside the turn-taking channel.
type RealtimeInput struct {
	Audio          *AudioBlob `json:"audio,omitempty"`
	ActivityStart  *struct{}  `json:"activityStart,omitempty"`
	ActivityEnd    *struct{}  `json:"activityEnd,omitempty"`
	AudioStreamEnd bool       `json:"audioStreamEnd,omitempty"`
}

// FunctionResponse answers one FunctionCall, echoing its ID.
type FunctionResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Response   map[string]any `json:"response"`
	Scheduling string         `json:"scheduling,omitempty"`
}

// ToolResponse carries one or more function responses.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// ClientMessage is the client-to-server frame envelope. Exactly one member
// is set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// SetupComplete acknowledges the setup frame.
type SetupComplete struct{}

// Transcription is a speech-to-text fragment for one direction of audio.
type Transcription struct {
	Text     string `json:"text,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

// ServerContent is incremental model output plus turn lifecycle flags.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// FunctionCall is one tool invocation request.
type FunctionCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Behavior string         `json:"behavior,omitempty"`
}

// ToolCall batches one or more function calls in a single frame.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// ToolCallCancellation revokes previously issued calls by ID.
type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// GoAway is a server-initiated close notice with the time remaining.
type GoAway struct {
	TimeLeft Duration `json:"timeLeft"`
}

// SessionResumptionUpdate delivers the latest resumption handle. Only the
// most recent handle is valid.
type SessionResumptionUpdate struct {
	NewHandle string `json:"newHandle"`
	Resumable bool   `json:"resumable"`
}

// ModalityTokenCount is one entry of the per-modality usage breakdown.
type ModalityTokenCount struct {
	Modality   string `json:"modality"`
	TokenCount int    `json:"tokenCount"`
}

// UsageMetadata is a monotonically non-decreasing usage snapshot.
type UsageMetadata struct {
	PromptTokenCount      int                  `json:"promptTokenCount"`
	ResponseTokenCount    int                  `json:"responseTokenCount"`
	TotalTokenCount       int                  `json:"totalTokenCount"`
	ResponseTokensDetails []ModalityTokenCount `json:"responseTokensDetails,omitempty"`
}

// ServerMessage is the server-to-client frame envelope. Exactly one member
// is set.
type ServerMessage struct {
	SetupComplete           *SetupComplete           `json:"setupComplete,omitempty"`
	ServerContent           *ServerContent           `json:"serverContent,omitempty"`
	ToolCall                *ToolCall                `json:"toolCall,omitempty"`
	ToolCallCancellation    *ToolCallCancellation    `json:"toolCallCancellation,omitempty"`
	GoAway                  *GoAway                  `json:"goAway,omitempty"`
	SessionResumptionUpdate *SessionResumptionUpdate `json:"sessionResumptionUpdate,omitempty"`
	UsageMetadata           *UsageMetadata           `json:"usageMetadata,omitempty"`
}

// EncodeClientMessage validates and serializes a client frame. Setup frames
// are validated before any bytes are produced so a misconfigured session
// never reaches the network.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	if err := validateClientMessage(msg); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, core.NewProtocolError("encode client frame", err)
	}
	return data, nil
}

func validateClientMessage(msg ClientMessage) error {
	n := 0
	if msg.Setup != nil {
		n++
	}
	if msg.ClientContent != nil {
		n++
	}
	if msg.RealtimeInput != nil {
		n++
	}
	if msg.ToolResponse != nil {
		n++
	}
	if n != 1 {
		return core.NewProtocolError("client frame must carry exactly one payload", nil)
	}
	if msg.Setup != nil {
		return ValidateSetup(*msg.Setup)
	}
	if msg.ToolResponse != nil && len(msg.ToolResponse.FunctionResponses) == 0 {
		return core.NewInvalidRequestErrorWithParam("toolResponse.functionResponses must not be empty", "toolResponse.functionResponses")
	}
	return nil
}

// ValidateSetup enforces the setup invariants, most importantly that the
// session requests exactly one response modality.
func ValidateSetup(s Setup) error {
	if strings.TrimSpace(s.Model) == "" {
		return core.NewInvalidRequestErrorWithParam("setup.model is required", "model")
	}
	modalities := s.GenerationConfig.ResponseModalities
	if len(modalities) != 1 {
		return core.NewInvalidRequestErrorWithParam(
			"generation config must request exactly one response modality",
			"generation_config.response_modalities",
		)
	}
	switch modalities[0] {
	case ModalityText, ModalityAudio:
	default:
		return core.NewInvalidRequestErrorWithParam(
			"response modality must be TEXT or AUDIO",
			"generation_config.response_modalities",
		)
	}
	if cfg := s.RealtimeInputConfig; cfg != nil && cfg.AutomaticActivityDetection != nil {
		aad := cfg.AutomaticActivityDetection
		if err := validateSensitivity(aad.StartOfSpeechSensitivity, "realtime_input_config.start_of_speech_sensitivity"); err != nil {
			return err
		}
		if err := validateSensitivity(aad.EndOfSpeechSensitivity, "realtime_input_config.end_of_speech_sensitivity"); err != nil {
			return err
		}
	}
	if cwc := s.ContextWindowCompression; cwc != nil && cwc.TriggerTokens < 0 {
		return core.NewInvalidRequestErrorWithParam("context window compression trigger must be >= 0", "context_window_compression.trigger_tokens")
	}
	return nil
}

func validateSensitivity(value, param string) error {
	switch value {
	case "", SensitivityHigh, SensitivityLow:
		return nil
	default:
		return core.NewInvalidRequestErrorWithParam("sensitivity must be HIGH or LOW", param)
	}
}

// DecodeServerMessage parses a server frame. It fails with a malformed-frame
// error on invalid JSON, an empty envelope, or an envelope carrying more
// than one payload; a failed decode never partially applies.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, core.NewProtocolError("decode server frame", err)
	}
	n := 0
	if msg.SetupComplete != nil {
		n++
	}
	if msg.ServerContent != nil {
		n++
	}
	if msg.ToolCall != nil {
		n++
	}
	if msg.ToolCallCancellation != nil {
		n++
	}
	if msg.GoAway != nil {
		n++
	}
	if msg.SessionResumptionUpdate != nil {
		n++
	}
	if msg.UsageMetadata != nil {
		n++
	}
	if n != 1 {
		return nil, core.NewProtocolError("server frame must carry exactly one payload", nil)
	}
	if msg.ToolCall != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			if strings.TrimSpace(call.ID) == "" {
				return nil, core.NewProtocolError("toolCall.functionCalls entries must carry an id", nil)
			}
			if strings.TrimSpace(call.Name) == "" {
				return nil, core.NewProtocolError("toolCall.functionCalls entries must carry a name", nil)
			}
		}
	}
	return &msg, nil
}

// Type names the payload carried by a server frame, for logging and metrics.
func (m *ServerMessage) Type() string {
	switch {
	case m == nil:
		return ""
	case m.SetupComplete != nil:
		return "setupComplete"
	case m.ServerContent != nil:
		return "serverContent"
	case m.ToolCall != nil:
		return "toolCall"
	case m.ToolCallCancellation != nil:
		return "toolCallCancellation"
	case m.GoAway != nil:
		return "goAway"
	case m.SessionResumptionUpdate != nil:
		return "sessionResumptionUpdate"
	case m.UsageMetadata != nil:
		return "usageMetadata"
	default:
		return "unknown"
	}
}

// Type names the payload carried by a client frame.
func (m ClientMessage) Type() string {
	switch {
	case m.Setup != nil:
		return "setup"
	case m.ClientContent != nil:
		return "clientContent"
	case m.RealtimeInput != nil:
		return "realtimeInput"
	case m.ToolResponse != nil:
		return "toolResponse"
	default:
		return "unknown"
	}
}
