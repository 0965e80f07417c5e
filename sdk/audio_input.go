package golive

import (
	"sync"

	"github.com/voxlink-go/golive/pkg/live/audio"
)

// AudioInput adapts host-native microphone audio to the session's input
// path: it resamples and downmixes to the wire format, chunks it, and
// streams the chunks as realtime input. Not safe for concurrent Write
// calls; feed it from one capture goroutine.
type AudioInput struct {
	session *Session

	mu      sync.Mutex
	chunker *audio.InputChunker
	closed  bool
}

// NewAudioInput prepares an input stream for sources producing interleaved
// s16 samples at the given rate and channel count. Chunk size follows the
// session's configured chunk duration.
func (s *Session) NewAudioInput(sourceRate, sourceChannels int) (*AudioInput, error) {
	chunker, err := audio.NewInputChunker(sourceRate, sourceChannels, s.cfg.ChunkDuration)
	if err != nil {
		return nil, err
	}
	in := &AudioInput{session: s, chunker: chunker}
	s.trackInput(in)
	return in, nil
}

// Write feeds captured samples in, sending every complete chunk that
// results. Under manual activity signaling a write outside an open speech
// window is rejected before anything is sent.
func (in *AudioInput) Write(samples []int16) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	for _, chunk := range in.chunker.Write(samples) {
		if err := in.session.SendAudio(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Flush sends any buffered partial chunk immediately. The session flushes
// attached inputs before closing a manual speech window so held samples stay
// inside the window they were captured in.
func (in *AudioInput) Flush() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.flushLocked()
}

func (in *AudioInput) flushLocked() error {
	if in.closed {
		return nil
	}
	if tail := in.chunker.Flush(); len(tail) > 0 {
		return in.session.SendAudio(tail)
	}
	return nil
}

// Close flushes the partial tail chunk and marks the audio stream ended.
func (in *AudioInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	if err := in.flushLocked(); err != nil {
		return err
	}
	in.closed = true
	in.session.dropInput(in)
	return in.session.EndAudioStream()
}
