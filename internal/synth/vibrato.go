package synth

import "math"

// vibrato is a sine LFO shared across all notes of a voice.
type vibrato struct {
	depth  float64 // semitones
	rateHz float64
	phase  float64 // [0, 1)
}

func (v *vibrato) active() bool {
	return v.depth != 0 && v.rateHz != 0
}

// next advances one sample and returns a frequency multiplier.
func (v *vibrato) next(sampleRate float64) float64 {
	if !v.active() {
		return 1
	}
	semis := math.Sin(twoPi*v.phase) * v.depth
	v.phase += v.rateHz / sampleRate
	if v.phase >= 1 {
		v.phase -= math.Floor(v.phase)
	}
	return math.Pow(2, semis/12)
}
