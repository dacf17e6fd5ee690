package synth

import "math"

// oscillate returns the raw oscillator output of s for one frame and
// advances its phases.
func (p *Poly) oscillate(s *slot, freqMul float64) float64 {
	prm := &p.params
	base := midiToFreq(s.key)
	if prm.FixedHz > 0 {
		base = prm.FixedHz
	}
	freq := base * freqMul
	t := float64(s.age) / p.sampleRate

	switch prm.Timbre {
	case TimbreFM:
		index := prm.ModIndex
		if prm.ModDecaySec > 0 {
			index *= math.Exp(-t / prm.ModDecaySec)
		}
		mod := math.Sin(twoPi*s.modPhase) * index
		out := math.Sin(twoPi*s.phases[0] + mod)
		s.phases[0] = wrap(s.phases[0] + freq/p.sampleRate)
		s.modPhase = wrap(s.modPhase + freq*prm.Harmonicity/p.sampleRate)
		return out

	case TimbreFat:
		var out float64
		n := prm.Count
		for u := 0; u < n; u++ {
			f := freq * unisonMul(u, n, prm.SpreadCents)
			out += additive(s.phases[u], prm.Partials)
			s.phases[u] = wrap(s.phases[u] + f/p.sampleRate)
		}
		return out / float64(n)

	case TimbreMembrane:
		// pitch falls exponentially from Octaves above the key over PitchDecaySec
		sweep := prm.Octaves * math.Max(0, 1-t/prm.PitchDecaySec)
		out := math.Sin(twoPi * s.phases[0])
		s.phases[0] = wrap(s.phases[0] + freq*math.Pow(2, sweep)/p.sampleRate)
		return out

	default:
		out := math.Sin(twoPi * s.phases[0])
		s.phases[0] = wrap(s.phases[0] + freq/p.sampleRate)
		return out
	}
}

// unisonMul spreads n oscillators evenly across spread cents around the key.
func unisonMul(u, n int, spread float64) float64 {
	if n < 2 || spread == 0 {
		return 1
	}
	cents := spread*float64(u)/float64(n-1) - spread/2
	return math.Pow(2, cents/1200)
}

// additive renders a harmonic series at phase in [0, 1). An empty series
// is a naive sawtooth.
func additive(phase float64, partials []float64) float64 {
	if len(partials) == 0 {
		return 1 - 2*phase
	}
	var out, norm float64
	for k, amp := range partials {
		if amp == 0 {
			continue
		}
		out += amp * math.Sin(twoPi*phase*float64(k+1))
		norm += math.Abs(amp)
	}
	if norm == 0 {
		return 0
	}
	return out / norm
}

func wrap(phase float64) float64 {
	if phase >= 1 {
		phase -= math.Floor(phase)
	}
	return phase
}
