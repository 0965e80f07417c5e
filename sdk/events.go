package golive

import (
	"time"

	"github.com/voxlink-go/golive/pkg/live/protocol"
)

// Event is delivered on Session.Events() in wire arrival order. Every error
// condition a consumer needs to render arrives as a typed event; the channel
// never carries raw panics or transport internals.
type Event interface {
	eventType() string
}

// TextEvent carries one model text fragment.
type TextEvent struct {
	Text string
}

func (e TextEvent) eventType() string { return "text" }

// AudioEvent carries one decoded model audio buffer at the output wire
// format (24 kHz mono s16le PCM).
type AudioEvent struct {
	PCM []byte
}

func (e AudioEvent) eventType() string { return "audio" }

// InputTranscriptionEvent is a speech-to-text fragment of the user's audio.
type InputTranscriptionEvent struct {
	Text     string
	Finished bool
}

func (e InputTranscriptionEvent) eventType() string { return "input_transcription" }

// OutputTranscriptionEvent is a transcript fragment of the model's audio.
type OutputTranscriptionEvent struct {
	Text     string
	Finished bool
}

func (e OutputTranscriptionEvent) eventType() string { return "output_transcription" }

// InterruptedEvent signals the current model turn was cut off. Any queued
// but unplayed output audio has already been discarded by the time the
// consumer sees this.
type InterruptedEvent struct{}

func (e InterruptedEvent) eventType() string { return "interrupted" }

// GenerationCompleteEvent signals the model finished generating the current
// turn. It is safe to send the next turn after this.
type GenerationCompleteEvent struct{}

func (e GenerationCompleteEvent) eventType() string { return "generation_complete" }

// TurnCompleteEvent signals the model turn is fully delivered.
type TurnCompleteEvent struct{}

func (e TurnCompleteEvent) eventType() string { return "turn_complete" }

// ToolCallEvent surfaces function calls that have no registered handler.
// The consumer answers via Session.SendToolResponse, echoing each call ID.
type ToolCallEvent struct {
	Calls []protocol.FunctionCall
}

func (e ToolCallEvent) eventType() string { return "tool_call" }

// ToolResultEvent reports a handler-produced tool response after it was
// sent. Preempting is set when the handler chose INTERRUPT scheduling.
// SILENT responses produce no event.
type ToolResultEvent struct {
	ID         string
	Name       string
	Scheduling string
	Preempting bool
	Err        error
}

func (e ToolResultEvent) eventType() string { return "tool_result" }

// ToolCancellationEvent reports server-revoked call IDs.
type ToolCancellationEvent struct {
	IDs []string
}

func (e ToolCancellationEvent) eventType() string { return "tool_cancellation" }

// GoAwayEvent is the server's close notice with the time remaining.
type GoAwayEvent struct {
	TimeLeft time.Duration
}

func (e GoAwayEvent) eventType() string { return "go_away" }

// ResumptionUpdateEvent reports a fresh resumption handle. Only the latest
// handle is valid.
type ResumptionUpdateEvent struct {
	Handle    string
	Resumable bool
}

func (e ResumptionUpdateEvent) eventType() string { return "resumption_update" }

// ResumedEvent signals the session re-established its connection. Fallback
// is set when the server rejected the stored handle and the session
// continued as a fresh conversation instead.
type ResumedEvent struct {
	Fallback bool
}

func (e ResumedEvent) eventType() string { return "resumed" }

// UsageEvent carries the latest usage snapshot.
type UsageEvent struct {
	Usage Usage
}

func (e UsageEvent) eventType() string { return "usage" }

// CompressionRecommendedEvent fires once when total token usage crosses the
// configured warning fraction of the budget.
type CompressionRecommendedEvent struct {
	TotalTokens int
	TokenBudget int
}

func (e CompressionRecommendedEvent) eventType() string { return "compression_recommended" }

// RetryingEvent reports one reconnect attempt during internal recovery.
type RetryingEvent struct {
	Attempt int
	Wait    time.Duration
}

func (e RetryingEvent) eventType() string { return "retrying" }

// ErrorEvent carries a non-fatal session error, such as a malformed inbound
// frame or an expired resumption handle.
type ErrorEvent struct {
	Err error
}

func (e ErrorEvent) eventType() string { return "error" }

// ClosedEvent is the terminal event. Exactly one is delivered per session;
// Err is nil on clean shutdown.
type ClosedEvent struct {
	Err error
}

func (e ClosedEvent) eventType() string { return "closed" }
