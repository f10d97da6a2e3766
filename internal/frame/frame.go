// Package frame defines the canonical audio frame type shared by the mixer
// and IVR packages: 20ms of 16-bit PCM at 8000 Hz, 160 samples per frame.
package frame

import "time"

// SampleRate is the canonical intermediate PCM sample rate (8 kHz).
const SampleRate = 8000

// SamplesPerFrame is the number of 16-bit samples in one 20ms tick.
const SamplesPerFrame = 160

// TickInterval is the fixed mixing/playback tick period.
const TickInterval = 20 * time.Millisecond

// BytesPerFrame is the wire/WAV size of one frame (160 samples * 2 bytes).
const BytesPerFrame = SamplesPerFrame * 2

// SilenceThreshold is the placeholder VAD: samples with absolute value below
// this are considered silent (~10% of full scale).
const SilenceThreshold = 3000

// PCM is an immutable 20ms block of linear PCM samples. Producers must never
// mutate Samples after publishing a PCM value to a consumer; treat it as a
// value type copied by reference only for read access.
type PCM struct {
	Samples [SamplesPerFrame]int16

	// TxID optionally marks the transaction that produced this frame, for
	// frames that must be correlated back to a CFW exchange (e.g. injected
	// announcement audio).
	TxID string
}

// Silent reports whether every sample in the frame is below SilenceThreshold.
func (p *PCM) Silent() bool {
	for _, s := range p.Samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v >= SilenceThreshold {
			return false
		}
	}
	return true
}

// Clip saturates a 32-bit accumulator to the int16 range.
func Clip(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Scale multiplies every sample by a gain factor (0.0-1.0+) and clips.
func Scale(p *PCM, gain float64) PCM {
	out := PCM{TxID: p.TxID}
	for i, s := range p.Samples {
		out.Samples[i] = Clip(int32(float64(s) * gain))
	}
	return out
}

// Mix sums N frames sample-by-sample, clipping to int16 range.
func Mix(frames ...*PCM) PCM {
	var out PCM
	if len(frames) == 0 {
		return out
	}
	var acc [SamplesPerFrame]int32
	for _, f := range frames {
		if f == nil {
			continue
		}
		for i, s := range f.Samples {
			acc[i] += int32(s)
		}
	}
	for i, v := range acc {
		out.Samples[i] = Clip(v)
	}
	return out
}

// MixExcluding sums all frames except the one contributed by self, realizing
// the mixer's echo-cancellation requirement (§4.7).
func MixExcluding(all map[string]*PCM, self string) PCM {
	var acc [SamplesPerFrame]int32
	for id, f := range all {
		if id == self || f == nil {
			continue
		}
		for i, s := range f.Samples {
			acc[i] += int32(s)
		}
	}
	var out PCM
	for i, v := range acc {
		out.Samples[i] = Clip(v)
	}
	return out
}
