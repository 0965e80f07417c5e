package audio

// Resample converts mono 16-bit PCM samples from one rate to another using
// linear interpolation. Interpolation keeps latency flat for realtime use;
// the wire rates involved (16 kHz speech in, 24 kHz out) do not benefit
// enough from a polyphase filter to justify one on the hot path.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	outLen := int(float64(len(samples)) * float64(toRate) / float64(fromRate))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)

	// Map each output sample onto a fractional source position over
	// [0, len-1], the same spacing as a linspace over the input.
	step := float64(len(samples)-1) / float64(outLen-1)
	if outLen == 1 {
		out[0] = samples[0]
		return out
	}
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
