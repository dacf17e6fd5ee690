package synth

import "math"

// Timbre selects the oscillator strategy of a Poly.
type Timbre string

const (
	// TimbreFM is a two-operator FM pair; with FixedHz set it ignores the key.
	TimbreFM Timbre = "fm"
	// TimbreFat stacks detuned copies of an additive waveform.
	TimbreFat Timbre = "fat"
	TimbreSine Timbre = "sine"
	// TimbreMembrane is a sine whose pitch falls from Octaves above the key.
	TimbreMembrane Timbre = "membrane"
)

const maxUnison = 8

type Params struct {
	Polyphony   int     `yaml:"polyphony"`
	Timbre      Timbre  `yaml:"timbre"`
	AttackSec   float64 `yaml:"attack"`
	DecaySec    float64 `yaml:"decay"`
	SustainLvl  float64 `yaml:"sustain"`
	ReleaseSec  float64 `yaml:"release"`
	VolumeDB    float64 `yaml:"volume"`
	VelocityAmp float64 `yaml:"velocity_amp"`
	LPFCutoff   float64 `yaml:"lpf_cutoff"` // Hz, 0 disables

	// fat
	Partials    []float64 `yaml:"partials"` // harmonic amplitudes, empty = sawtooth
	Count       int       `yaml:"count"`
	SpreadCents float64   `yaml:"spread"`

	// fm
	Harmonicity float64 `yaml:"harmonicity"`
	ModIndex    float64 `yaml:"mod_index"`
	ModDecaySec float64 `yaml:"mod_decay"` // 0 keeps the index constant
	FixedHz     float64 `yaml:"fixed_hz"`

	// membrane
	PitchDecaySec float64 `yaml:"pitch_decay"`
	Octaves       float64 `yaml:"octaves"`

	// sampled voices play Program from the configured SoundFont and fall
	// back to the oscillator settings above when none is loaded
	Sampled bool `yaml:"sampled"`
	Program int  `yaml:"program"`

	// vibrato, shared by all notes of the voice
	VibratoDepth float64 `yaml:"vibrato_depth"` // semitones
	VibratoRate  float64 `yaml:"vibrato_rate"`  // Hz
}

func DefaultParams() Params {
	return Params{
		Polyphony:   16,
		Timbre:      TimbreSine,
		AttackSec:   0.005,
		DecaySec:    0.12,
		SustainLvl:  0.75,
		ReleaseSec:  0.2,
		VelocityAmp: 0.8,
	}
}

// normalized fills zero values that would make the voice silent or divide
// by zero.
func (p Params) normalized() Params {
	if p.Polyphony <= 0 {
		p.Polyphony = 16
	}
	if p.Timbre == "" {
		p.Timbre = TimbreSine
	}
	p.AttackSec = math.Max(p.AttackSec, 0.001)
	p.DecaySec = math.Max(p.DecaySec, 0.001)
	p.ReleaseSec = math.Max(p.ReleaseSec, 0.001)
	p.SustainLvl = clamp(p.SustainLvl, 0, 1)
	if p.Count <= 0 {
		p.Count = 1
	}
	if p.Count > maxUnison {
		p.Count = maxUnison
	}
	if p.Harmonicity <= 0 {
		p.Harmonicity = 1
	}
	if p.PitchDecaySec <= 0 {
		p.PitchDecaySec = 0.05
	}
	return p
}

func midiToFreq(key float64) float64 {
	return 440 * math.Pow(2, (key-69)/12)
}

// dbToGain maps dB to linear gain; -Inf is silence.
func dbToGain(db float64) float64 {
	if math.IsInf(db, -1) {
		return 0
	}
	return math.Pow(10, db/20)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
