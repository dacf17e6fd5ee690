package synth

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

const twoPi = math.Pi * 2

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

// Poly is a polyphonic voice that satisfies engine.Voice. Notes are queued
// with engine-clock times and start on the exact frame during Render.
type Poly struct {
	mu         sync.Mutex
	sampleRate float64
	params     Params
	slots      []slot
	pending    []pendingNote
	nextID     int
	detuneMul  float64
	detune     float64
	volumeDB   float64
	gain       uint64 // float64 bits, base level plus volume
	vib        vibrato
	lpfAlpha   float64
	lpfState   float64
	disposed   atomic.Bool
}

type pendingNote struct {
	on, off  int64
	key      float64
	velocity float64
}

type slot struct {
	active   bool
	id       int
	released bool
	key      float64
	velocity float64
	off      int64
	age      int64 // frames since note-on
	env      float64
	relStep  float64
	envState envState
	phases   [maxUnison]float64
	modPhase float64
}

func NewPoly(sampleRate int, params Params) *Poly {
	params = params.normalized()
	p := &Poly{
		sampleRate: float64(sampleRate),
		params:     params,
		slots:      make([]slot, params.Polyphony),
		detuneMul:  1,
		vib:        vibrato{depth: params.VibratoDepth, rateHz: params.VibratoRate},
	}
	if params.LPFCutoff > 0 {
		rc := 1.0 / (twoPi * params.LPFCutoff)
		dt := 1.0 / p.sampleRate
		p.lpfAlpha = dt / (rc + dt)
	}
	p.storeGain()
	return p
}

func (p *Poly) Params() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// Trigger queues key at engine time at for duration seconds. It is a no-op
// once the voice is disposed.
func (p *Poly) Trigger(key, duration, at, velocity float64) {
	if p.disposed.Load() {
		return
	}
	on := int64(math.Round(at * p.sampleRate))
	length := max(int64(math.Round(duration*p.sampleRate)), 1)
	n := pendingNote{on: on, off: on + length, key: key, velocity: clamp(velocity, 0, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.pending), func(i int) bool { return p.pending[i].on > on })
	p.pending = append(p.pending, pendingNote{})
	copy(p.pending[i+1:], p.pending[i:])
	p.pending[i] = n
}

// ReleaseAll drops queued notes and sends every sounding note to release.
func (p *Poly) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = p.pending[:0]
	for i := range p.slots {
		p.release(&p.slots[i])
	}
}

func (p *Poly) SetDetune(cents float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detune = cents
	p.detuneMul = math.Pow(2, cents/1200)
}

func (p *Poly) Detune() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detune
}

func (p *Poly) SetVolume(db float64) {
	p.mu.Lock()
	p.volumeDB = db
	p.mu.Unlock()
	p.storeGain()
}

func (p *Poly) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volumeDB
}

func (p *Poly) Dispose() {
	if p.disposed.Swap(true) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	for i := range p.slots {
		p.slots[i] = slot{}
	}
}

func (p *Poly) Disposed() bool {
	return p.disposed.Load()
}

// Sounding counts notes that are queued or not yet fully released.
func (p *Poly) Sounding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.pending)
	for i := range p.slots {
		if p.slots[i].active {
			n++
		}
	}
	return n
}

func (p *Poly) storeGain() {
	p.mu.Lock()
	db := p.params.VolumeDB + p.volumeDB
	p.mu.Unlock()
	atomic.StoreUint64(&p.gain, math.Float64bits(dbToGain(db)))
}

func (p *Poly) gainValue() float64 {
	return math.Float64frombits(atomic.LoadUint64(&p.gain))
}

// Render adds the voice into dst, an interleaved stereo block whose first
// frame is engine frame start.
func (p *Poly) Render(dst []float32, start int64) {
	if p.disposed.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	gain := p.gainValue()
	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		frame := start + int64(f)
		for len(p.pending) > 0 && p.pending[0].on <= frame {
			n := p.pending[0]
			p.pending = p.pending[1:]
			if n.off <= frame {
				continue // the note ended before this block began
			}
			p.noteOn(n)
		}
		freqMul := p.vib.next(p.sampleRate) * p.detuneMul
		var sum float64
		for i := range p.slots {
			s := &p.slots[i]
			if !s.active {
				continue
			}
			if !s.released && frame >= s.off {
				p.release(s)
			}
			env := p.advanceEnv(s)
			if !s.active {
				continue
			}
			sig := p.oscillate(s, freqMul)
			sum += sig * env * (0.2 + s.velocity*p.params.VelocityAmp)
			s.age++
		}
		if p.lpfAlpha > 0 {
			p.lpfState += p.lpfAlpha * (sum - p.lpfState)
			sum = p.lpfState
		}
		out := float32(sum * gain)
		dst[f*2] += out
		dst[f*2+1] += out
	}
}

func (p *Poly) noteOn(n pendingNote) {
	i := p.stealSlot()
	p.nextID++
	s := &p.slots[i]
	*s = slot{
		active:   true,
		id:       p.nextID,
		key:      n.key,
		velocity: n.velocity,
		off:      n.off,
		envState: envAttack,
	}
	// spread unison phases so the stack does not start phase-locked
	for u := 1; u < p.params.Count; u++ {
		s.phases[u] = float64(u) / float64(p.params.Count)
	}
}

func (p *Poly) release(s *slot) {
	if !s.active || s.released {
		return
	}
	s.released = true
	s.envState = envRelease
	s.relStep = s.env / (p.params.ReleaseSec * p.sampleRate)
	if s.relStep <= 0 {
		s.relStep = 1
	}
}

// stealSlot returns a free slot, or the quietest one when all are busy.
func (p *Poly) stealSlot() int {
	for i := range p.slots {
		if !p.slots[i].active {
			return i
		}
	}
	quiet := 0
	minEnv := p.slots[0].env
	for i := 1; i < len(p.slots); i++ {
		if p.slots[i].env < minEnv {
			minEnv = p.slots[i].env
			quiet = i
		}
	}
	return quiet
}

func (p *Poly) advanceEnv(s *slot) float64 {
	prm := &p.params
	switch s.envState {
	case envAttack:
		s.env += 1.0 / (prm.AttackSec * p.sampleRate)
		if s.env >= 1 {
			s.env = 1
			s.envState = envDecay
		}
	case envDecay:
		s.env -= (1 - prm.SustainLvl) / (prm.DecaySec * p.sampleRate)
		if s.env <= prm.SustainLvl {
			s.env = prm.SustainLvl
			s.envState = envSustain
		}
	case envSustain:
	case envRelease:
		s.env -= s.relStep
		if s.env <= 0.0001 {
			s.env = 0
			s.envState = envOff
			s.active = false
		}
	case envOff:
		s.active = false
		s.env = 0
	}
	return s.env
}
