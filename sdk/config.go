package golive

import (
	"time"

	"github.com/voxlink-go/golive/pkg/core"
	"github.com/voxlink-go/golive/pkg/live/audio"
	"github.com/voxlink-go/golive/pkg/live/protocol"
)

// VADMode selects how speech boundaries are determined. The two modes are
// mutually exclusive and fixed at session configuration.
type VADMode int

const (
	// VADAutomatic lets the server classify speech from the audio stream.
	VADAutomatic VADMode = iota
	// VADManual requires the host to bracket audio with BeginActivity and
	// EndActivity; audio sent outside a window is rejected.
	VADManual
)

// VADConfig configures the voice activity controller. The sensitivity and
// padding fields only apply in automatic mode.
type VADConfig struct {
	Mode                     VADMode
	StartOfSpeechSensitivity string
	EndOfSpeechSensitivity   string
	PrefixPadding            time.Duration
	SilenceDuration          time.Duration
}

// SessionConfig describes one live session. Model and the response modality
// are required and fixed at construction; everything else has a usable zero
// value.
type SessionConfig struct {
	model    string
	modality string

	// Generation settings.
	Temperature     *float64
	MaxOutputTokens int
	Voice           string

	// Conversation seed.
	SystemInstruction string
	Tools             []protocol.FunctionDeclaration
	ToolHandlers      map[string]ToolHandler

	VAD VADConfig

	// EnableResumption opts into resumption handle delivery and transparent
	// reconnect on transient drops.
	EnableResumption bool
	resumptionHandle string

	// CompressionTriggerTokens enables server-side sliding-window context
	// compression past the given prompt size.
	CompressionTriggerTokens int

	// TokenBudget is the caller's session budget; the usage tracker warns
	// when usage crosses WarnFraction of it. Zero disables tracking.
	TokenBudget  int
	WarnFraction float64

	InputTranscription  bool
	OutputTranscription bool

	// ChunkDuration sets input audio chunk size, clamped to 100-200ms.
	ChunkDuration time.Duration
}

// NewSessionConfig builds a session config for the given model and response
// modality. Exactly one modality is allowed; the choice is validated again
// at encode time before any bytes reach the network.
func NewSessionConfig(model, responseModality string) *SessionConfig {
	return &SessionConfig{
		model:         model,
		modality:      responseModality,
		WarnFraction:  0.8,
		ChunkDuration: audio.DefaultChunkDuration,
	}
}

// Model returns the configured model name.
func (c *SessionConfig) Model() string { return c.model }

// ResponseModality returns the configured response modality.
func (c *SessionConfig) ResponseModality() string { return c.modality }

// RegisterTool attaches a handler for the named function. Calls to
// functions without a handler are surfaced as ToolCallEvents instead.
func (c *SessionConfig) RegisterTool(name string, handler ToolHandler) {
	if c.ToolHandlers == nil {
		c.ToolHandlers = make(map[string]ToolHandler)
	}
	c.ToolHandlers[name] = handler
}

func (c *SessionConfig) validate() error {
	if c == nil {
		return core.NewInvalidRequestError("session config must not be nil")
	}
	if c.WarnFraction < 0 || c.WarnFraction > 1 {
		return core.NewInvalidRequestErrorWithParam("warn fraction must be in [0, 1]", "warn_fraction")
	}
	return protocol.ValidateSetup(c.setup())
}

// setup maps the config onto the wire setup frame. Manual VAD disables the
// server's automatic activity detection.
func (c *SessionConfig) setup() protocol.Setup {
	s := protocol.Setup{
		Model: c.model,
		GenerationConfig: protocol.GenerationConfig{
			ResponseModalities: []string{c.modality},
			Temperature:        c.Temperature,
			MaxOutputTokens:    c.MaxOutputTokens,
			Voice:              c.Voice,
		},
	}
	if c.SystemInstruction != "" {
		s.SystemInstruction = &protocol.Content{
			Parts: []protocol.Part{{Text: c.SystemInstruction}},
		}
	}
	if len(c.Tools) > 0 {
		s.Tools = []protocol.Tool{{FunctionDeclarations: c.Tools}}
	}
	switch c.VAD.Mode {
	case VADManual:
		s.RealtimeInputConfig = &protocol.RealtimeInputConfig{
			AutomaticActivityDetection: &protocol.AutomaticActivityDetection{Disabled: true},
		}
	case VADAutomatic:
		aad := protocol.AutomaticActivityDetection{
			StartOfSpeechSensitivity: c.VAD.StartOfSpeechSensitivity,
			EndOfSpeechSensitivity:   c.VAD.EndOfSpeechSensitivity,
			PrefixPaddingMS:          int(c.VAD.PrefixPadding / time.Millisecond),
			SilenceDurationMS:        int(c.VAD.SilenceDuration / time.Millisecond),
		}
		if aad != (protocol.AutomaticActivityDetection{}) {
			s.RealtimeInputConfig = &protocol.RealtimeInputConfig{
				AutomaticActivityDetection: &aad,
			}
		}
	}
	if c.EnableResumption || c.resumptionHandle != "" {
		s.SessionResumption = &protocol.SessionResumption{Handle: c.resumptionHandle}
	}
	if c.InputTranscription {
		s.InputAudioTranscription = &protocol.AudioTranscriptionConfig{}
	}
	if c.OutputTranscription {
		s.OutputAudioTranscription = &protocol.AudioTranscriptionConfig{}
	}
	if c.CompressionTriggerTokens > 0 {
		s.ContextWindowCompression = &protocol.ContextWindowCompression{
			TriggerTokens: c.CompressionTriggerTokens,
			SlidingWindow: &protocol.SlidingWindow{},
		}
	}
	return s
}

// clone returns a shallow copy safe to mutate for resumption.
func (c *SessionConfig) clone() *SessionConfig {
	dup := *c
	return &dup
}
