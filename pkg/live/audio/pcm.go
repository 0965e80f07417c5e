package audio

import (
	"encoding/binary"
	"math"
)

// BytesToSamples decodes little-endian 16-bit PCM into samples. A trailing
// odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(s))
	}
	return pcm
}

// Float32ToSamples converts normalized float samples to 16-bit PCM,
// clipping to [-1, 1] to prevent overflow.
func Float32ToSamples(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		out[i] = int16(v * 32767)
	}
	return out
}

// SamplesToFloat32 converts 16-bit PCM samples to normalized floats.
func SamplesToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// DownmixToMono averages interleaved channels into a mono signal. Mono
// input is returned unchanged.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// RMSEnergy computes root-mean-square energy for 16-bit PCM, normalized to
// [0, 1]. Used to surface speech levels to hosts driving their own UI.
func RMSEnergy(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	samples := len(pcm) / 2
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}
