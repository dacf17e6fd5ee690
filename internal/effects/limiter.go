package effects

import "math"

// Limiter is a stereo-linked peak limiter: both channels share one envelope
// so the image does not shift when one side clips.
type Limiter struct {
	ceiling float32
	attack  float32 // coefficient
	release float32 // coefficient
	env     float32
}

// NewLimiter creates a limiter with the given ceiling in dBFS and attack and
// release times in milliseconds.
func NewLimiter(sampleRate int, ceilingDB, attackMs, releaseMs float32) *Limiter {
	sr := float64(sampleRate)
	return &Limiter{
		ceiling: float32(math.Pow(10, float64(ceilingDB)/20)),
		attack:  float32(1.0 - math.Exp(-1.0/(float64(attackMs)*sr/1000.0))),
		release: float32(1.0 - math.Exp(-1.0/(float64(releaseMs)*sr/1000.0))),
	}
}

func (c *Limiter) Process(l, r float32) (float32, float32) {
	peak := max(abs32(l), abs32(r))
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	gain := float32(1)
	if c.env > c.ceiling {
		gain = c.ceiling / c.env
	}
	l, r = l*gain, r*gain
	// The envelope lags fast transients; clamp what slips through.
	return clamp(l, -c.ceiling, c.ceiling), clamp(r, -c.ceiling, c.ceiling)
}

func (c *Limiter) Reset() {
	c.env = 0
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
