// Package pool owns one voice per track and keeps mute, level and
// transposition consistent across instrument swaps.
package pool

import (
	"math"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/hymnplayer-go/internal/engine"
	"github.com/cbegin/hymnplayer-go/internal/instrument"
)

// Factory constructs a fresh, unshared voice for kind.
type Factory func(kind instrument.Kind) (engine.Voice, error)

// Control is the per-track state that survives instrument swaps.
type Control struct {
	Muted  bool
	Volume float64 // dB, 0 is unity
}

// Connector is the part of the engine the pool mixes voices into.
type Connector interface {
	Connect(v engine.Voice)
	Disconnect(v engine.Voice)
}

type Pool struct {
	mu        sync.RWMutex
	eng       Connector
	factory   Factory
	kind      instrument.Kind
	transpose int
	voices    []engine.Voice
	controls  []Control
}

func New(eng Connector, factory Factory) *Pool {
	return &Pool{eng: eng, factory: factory}
}

func (p *Pool) Kind() instrument.Kind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.kind
}

func (p *Pool) Transpose() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transpose
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.voices)
}

// Load replaces the pool with n fresh voices of kind and resets every track
// control. On error the previous voices are left untouched.
func (p *Pool) Load(kind instrument.Kind, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	controls := make([]Control, n)
	voices, err := p.build(kind, controls)
	if err != nil {
		return err
	}
	old := p.voices
	p.voices, p.controls, p.kind = voices, controls, kind
	p.retire(old)
	return nil
}

// SetInstrument rebuilds every voice as kind. Replacements are fully built,
// configured and connected before the old voices are released and disposed.
func (p *Pool) SetInstrument(kind instrument.Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	voices, err := p.build(kind, p.controls)
	if err != nil {
		return err
	}
	old := p.voices
	p.voices, p.kind = voices, kind
	p.retire(old)
	return nil
}

// build constructs one configured and connected voice per control. Called
// with p.mu held.
func (p *Pool) build(kind instrument.Kind, controls []Control) ([]engine.Voice, error) {
	voices := make([]engine.Voice, len(controls))
	var g errgroup.Group
	for i := range voices {
		i := i
		g.Go(func() error {
			v, err := p.factory(kind)
			if err != nil {
				return fault.Wrap(err, fmsg.With("build voice"), ftag.With(ftag.Internal))
			}
			voices[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, v := range voices {
			if v != nil {
				v.Dispose()
			}
		}
		return nil, err
	}
	for i, v := range voices {
		v.SetDetune(float64(p.transpose) * 100)
		v.SetVolume(level(controls[i]))
		p.eng.Connect(v)
	}
	return voices, nil
}

// retire silences, disposes and unmixes voices that have been replaced.
func (p *Pool) retire(voices []engine.Voice) {
	for _, v := range voices {
		v.ReleaseAll()
		v.Dispose()
		p.eng.Disconnect(v)
	}
}

func level(c Control) float64 {
	if c.Muted {
		return math.Inf(-1)
	}
	return c.Volume
}

// SetTranspose detunes every live voice by semitones*100 cents. Voices built
// later pick up the same value.
func (p *Pool) SetTranspose(semitones int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transpose = semitones
	for _, v := range p.voices {
		v.SetDetune(float64(semitones) * 100)
	}
}

// ToggleMute flips the mute flag of track i and returns the new value.
func (p *Pool) ToggleMute(i int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.controls) {
		return false, outOfRange(i)
	}
	c := &p.controls[i]
	c.Muted = !c.Muted
	p.voices[i].SetVolume(level(*c))
	return c.Muted, nil
}

// SetVolume sets the unmuted level of track i. A muted track stays silent
// until unmuted.
func (p *Pool) SetVolume(i int, db float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.controls) {
		return outOfRange(i)
	}
	if math.IsNaN(db) {
		return fault.New("volume is NaN", ftag.With(ftag.InvalidArgument))
	}
	c := &p.controls[i]
	c.Volume = db
	p.voices[i].SetVolume(level(*c))
	return nil
}

func outOfRange(i int) error {
	return fault.New("track index out of range", fmsg.WithDesc("track index out of range",
		"There is no such track."), ftag.With(ftag.InvalidArgument))
}

// Voice returns the voice for track i, or nil when there is none or it has
// been disposed.
func (p *Pool) Voice(i int) engine.Voice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.voices) {
		return nil
	}
	v := p.voices[i]
	if v.Disposed() {
		return nil
	}
	return v
}

func (p *Pool) Controls() []Control {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Control, len(p.controls))
	copy(out, p.controls)
	return out
}

func (p *Pool) ReleaseAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, v := range p.voices {
		v.ReleaseAll()
	}
}

// Dispose releases and disposes every voice and empties the pool.
func (p *Pool) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retire(p.voices)
	p.voices, p.controls = nil, nil
}
