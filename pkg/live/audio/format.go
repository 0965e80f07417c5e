// Package audio implements the client-side audio pipeline for live
// sessions: PCM conversion, resampling, input chunking, and gap-free
// output scheduling.
package audio

import "time"

// Format describes a PCM audio shape.
type Format struct {
	SampleRate int // samples per second
	Channels   int // 1 for mono
	BitDepth   int // bits per sample (16 for s16le)
}

// InputFormat is the wire contract for realtime input audio.
func InputFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
}

// OutputFormat is the wire contract for model output audio.
func OutputFormat() Format {
	return Format{SampleRate: 24000, Channels: 1, BitDepth: 16}
}

// BytesPerSample returns bytes per sample (bit depth / 8).
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BytesPerSecond returns bytes per second of audio.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample()
}

// DurationToBytes converts a duration to a byte count.
func (f Format) DurationToBytes(d time.Duration) int {
	return int(d.Seconds() * float64(f.BytesPerSecond()))
}

// BytesToDuration converts a byte count to a duration.
func (f Format) BytesToDuration(bytes int) time.Duration {
	seconds := float64(bytes) / float64(f.BytesPerSecond())
	return time.Duration(seconds * float64(time.Second))
}

// SamplesToDuration converts a per-channel sample count to a duration.
func (f Format) SamplesToDuration(samples int) time.Duration {
	return time.Duration(float64(samples) / float64(f.SampleRate) * float64(time.Second))
}
