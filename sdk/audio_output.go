package golive

import (
	"sync"
	"time"

	"github.com/voxlink-go/golive/pkg/live/audio"
)

// AudioOutputConfig configures output audio buffering behavior.
type AudioOutputConfig struct {
	// MinBufferMS is the minimum audio to buffer before emitting the first
	// chunk, preventing glitches when the first model chunk is small.
	// Default: 50ms. Set to 0 to disable pre-buffering.
	MinBufferMS int

	// ChannelSize is the buffer size for the chunks channel. Default: 20.
	ChannelSize int
}

// DefaultAudioOutputConfig returns the default audio output configuration.
func DefaultAudioOutputConfig() AudioOutputConfig {
	return AudioOutputConfig{
		MinBufferMS: 50,
		ChannelSize: 20,
	}
}

// AudioOutput delivers model audio ready for playback and signals when the
// player must be cleared. Chunks are 24 kHz mono s16le PCM.
//
// Usage:
//
//	out := session.AudioOutput()
//	for {
//	    select {
//	    case chunk := <-out.Chunks():
//	        player.Write(chunk)
//	    case <-out.Flush():
//	        player.Clear()
//	    }
//	}
type AudioOutput struct {
	config AudioOutputConfig
	format audio.Format

	chunks chan []byte
	flush  chan struct{}

	mu          sync.Mutex
	buffer      []byte
	bufferReady bool
	closed      bool
}

// AudioOutput returns the session's audio output, creating it with default
// config on first call. Model audio delivered after this call is routed
// here in addition to the event stream.
func (s *Session) AudioOutput() *AudioOutput {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	if s.audioOut == nil {
		s.audioOut = newAudioOutput(DefaultAudioOutputConfig())
	}
	return s.audioOut
}

func newAudioOutput(config AudioOutputConfig) *AudioOutput {
	if config.ChannelSize == 0 {
		config.ChannelSize = 20
	}
	return &AudioOutput{
		config: config,
		format: audio.OutputFormat(),
		chunks: make(chan []byte, config.ChannelSize),
		flush:  make(chan struct{}, 1),
	}
}

// Chunks returns a channel emitting audio chunks ready for playback. Audio
// is pre-buffered per MinBufferMS before the first chunk; pre-buffering
// resets after each flush.
func (a *AudioOutput) Chunks() <-chan []byte {
	return a.chunks
}

// Flush returns a channel that signals when the player must clear its
// buffer: the model turn was interrupted and anything queued is stale.
func (a *AudioOutput) Flush() <-chan struct{} {
	return a.flush
}

// HandleAudio processes the output in a background goroutine, calling
// onChunk per chunk and onFlush when playback must be cleared.
func (a *AudioOutput) HandleAudio(onChunk func([]byte), onFlush func()) {
	go func() {
		for {
			select {
			case chunk, ok := <-a.chunks:
				if !ok {
					return
				}
				if onChunk != nil {
					onChunk(chunk)
				}
			case _, ok := <-a.flush:
				if !ok {
					return
				}
				if onFlush != nil {
					onFlush()
				}
			}
		}
	}()
}

func (a *AudioOutput) push(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	a.buffer = append(a.buffer, data...)

	minBytes := a.format.DurationToBytes(time.Duration(a.config.MinBufferMS) * time.Millisecond)
	if !a.bufferReady && len(a.buffer) >= minBytes {
		a.bufferReady = true
	}
	if a.bufferReady && len(a.buffer) > 0 {
		chunk := a.buffer
		a.buffer = nil
		select {
		case a.chunks <- chunk:
		default:
			// Consumer is behind; keep the data buffered for next push.
			a.buffer = chunk
		}
	}
}

func (a *AudioOutput) doFlush() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.buffer = nil
	a.bufferReady = false
	a.mu.Unlock()

	for {
		select {
		case <-a.chunks:
			continue
		default:
		}
		break
	}

	select {
	case a.flush <- struct{}{}:
	default:
		// A flush signal is already pending.
	}
}

func (a *AudioOutput) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.chunks)
	close(a.flush)
}

func (s *Session) pushAudioOut(pcm []byte) {
	s.audioMu.Lock()
	out := s.audioOut
	s.audioMu.Unlock()
	if out != nil {
		out.push(pcm)
	}
}

func (s *Session) flushAudioOut() {
	s.audioMu.Lock()
	out := s.audioOut
	s.audioMu.Unlock()
	if out != nil {
		out.doFlush()
	}
}

func (s *Session) closeAudioOut() {
	s.audioMu.Lock()
	out := s.audioOut
	s.audioMu.Unlock()
	if out != nil {
		out.close()
	}
}
