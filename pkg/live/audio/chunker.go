package audio

import (
	"time"

	"github.com/voxlink-go/golive/pkg/core"
)

// Chunk duration bounds for realtime input. Smaller chunks cut latency,
// larger ones cut per-frame overhead.
const (
	MinChunkDuration     = 100 * time.Millisecond
	MaxChunkDuration     = 200 * time.Millisecond
	DefaultChunkDuration = 100 * time.Millisecond
)

// InputChunker converts host-native audio into wire-format input chunks:
// downmixed to mono, resampled to 16 kHz, and sliced into fixed-duration
// 16-bit PCM frames. Buffers handed to Write are consumed during the call
// and never retained.
type InputChunker struct {
	sourceRate     int
	sourceChannels int
	chunkSamples   int

	pending []int16
}

// NewInputChunker creates a chunker for a host source shape. chunkDuration
// is clamped to the 100-200 ms window; zero selects the default.
func NewInputChunker(sourceRate, sourceChannels int, chunkDuration time.Duration) (*InputChunker, error) {
	if sourceRate <= 0 {
		return nil, core.NewInvalidRequestErrorWithParam("source sample rate must be > 0", "source_rate")
	}
	if sourceChannels <= 0 {
		return nil, core.NewInvalidRequestErrorWithParam("source channels must be > 0", "source_channels")
	}
	if chunkDuration == 0 {
		chunkDuration = DefaultChunkDuration
	}
	if chunkDuration < MinChunkDuration {
		chunkDuration = MinChunkDuration
	}
	if chunkDuration > MaxChunkDuration {
		chunkDuration = MaxChunkDuration
	}
	wire := InputFormat()
	return &InputChunker{
		sourceRate:     sourceRate,
		sourceChannels: sourceChannels,
		chunkSamples:   int(float64(wire.SampleRate) * chunkDuration.Seconds()),
	}, nil
}

// ChunkSamples returns the per-chunk sample count at the wire rate.
func (c *InputChunker) ChunkSamples() int {
	return c.chunkSamples
}

// Write converts one host buffer and returns the complete wire chunks it
// produced. A partial trailing chunk stays pending until the next Write or
// Flush.
func (c *InputChunker) Write(samples []int16) [][]byte {
	mono := DownmixToMono(samples, c.sourceChannels)
	converted := Resample(mono, c.sourceRate, InputFormat().SampleRate)
	c.pending = append(c.pending, converted...)

	var chunks [][]byte
	for len(c.pending) >= c.chunkSamples {
		chunks = append(chunks, SamplesToBytes(c.pending[:c.chunkSamples]))
		c.pending = c.pending[c.chunkSamples:]
	}
	return chunks
}

// Flush returns the pending partial chunk, if any. Call at the end of an
// input stream or activity window so no audio is held back; no chunk may
// span an activity boundary.
func (c *InputChunker) Flush() []byte {
	if len(c.pending) == 0 {
		return nil
	}
	out := SamplesToBytes(c.pending)
	c.pending = c.pending[:0]
	return out
}

// PendingSamples returns the number of buffered wire-rate samples not yet
// emitted.
func (c *InputChunker) PendingSamples() int {
	return len(c.pending)
}
