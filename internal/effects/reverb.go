package effects

import (
	"math"
	"sync/atomic"
)

// stereoSpread offsets the right channel's delay lines so the tail decorrelates.
const stereoSpread = 23

// Reverb is a Schroeder hall: four parallel comb filters into two series
// allpass filters per channel. The wet level can change while the audio
// thread is running.
type Reverb struct {
	combs   [2][4]combFilter
	allpass [2][2]allpassFilter
	wet     atomic.Uint32 // float32 bits
}

type combFilter struct {
	buf  []float32
	pos  int
	fb   float32
	damp float32
	last float32
}

type allpassFilter struct {
	buf []float32
	pos int
	fb  float32
}

// NewReverb creates a reverb.
// roomSize: 0..1 scales the delay lengths
// feedback: 0..1 controls decay time
// wet: wet/dry mix 0..1
func NewReverb(sampleRate int, roomSize, feedback, wet float32) *Reverb {
	base := int(float32(sampleRate) * roomSize * 0.05)
	if base < 10 {
		base = 10
	}
	fb := clamp(feedback, 0, 0.95)
	r := &Reverb{}
	r.SetWet(wet)
	combLens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	apLens := [2]int{max(base*347/1000, 1), max(base*213/1000, 1)}
	for ch := 0; ch < 2; ch++ {
		spread := ch * stereoSpread
		for i := range r.combs[ch] {
			r.combs[ch][i] = combFilter{buf: make([]float32, combLens[i]+spread), fb: fb, damp: 0.3}
		}
		for i := range r.allpass[ch] {
			r.allpass[ch][i] = allpassFilter{buf: make([]float32, apLens[i]+spread), fb: 0.5}
		}
	}
	return r
}

func (r *Reverb) SetWet(wet float32) {
	r.wet.Store(math.Float32bits(clamp(wet, 0, 1)))
}

func (r *Reverb) Wet() float32 {
	return math.Float32frombits(r.wet.Load())
}

func (r *Reverb) Process(l, r2 float32) (float32, float32) {
	wet := r.Wet()
	in := (l + r2) * 0.5
	outL := r.channel(0, in)
	outR := r.channel(1, in)
	return l*(1-wet) + outL*wet, r2*(1-wet) + outR*wet
}

func (r *Reverb) channel(ch int, in float32) float32 {
	var out float32
	for i := range r.combs[ch] {
		out += r.combs[ch][i].process(in)
	}
	out *= 0.25
	for i := range r.allpass[ch] {
		out = r.allpass[ch][i].process(out)
	}
	return out
}

func (r *Reverb) Reset() {
	for ch := range r.combs {
		for i := range r.combs[ch] {
			clear(r.combs[ch][i].buf)
			r.combs[ch][i].pos = 0
			r.combs[ch][i].last = 0
		}
		for i := range r.allpass[ch] {
			clear(r.allpass[ch][i].buf)
			r.allpass[ch][i].pos = 0
		}
	}
}

// process runs a lowpass-damped comb so the tail darkens as it decays.
func (c *combFilter) process(in float32) float32 {
	out := c.buf[c.pos]
	c.last = out*(1-c.damp) + c.last*c.damp
	c.buf[c.pos] = in + c.last*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpassFilter) process(in float32) float32 {
	bufOut := a.buf[a.pos]
	out := -in + bufOut
	a.buf[a.pos] = in + bufOut*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}
