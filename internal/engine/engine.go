package engine

import (
	"math"
	"sort"
	"sync"

	"github.com/viterin/vek/vek32"

	"github.com/cbegin/hymnplayer-go/internal/effects"
)

// Voice is one schedulable sound source. Times passed to Trigger and Render
// are on the engine clock, not the transport clock.
type Voice interface {
	// Trigger starts key (a MIDI note number, fractional keys allowed) at
	// engine time at and releases it duration seconds later.
	Trigger(key, duration, at, velocity float64)
	// ReleaseAll moves every sounding or pending note into its release stage.
	ReleaseAll()
	SetDetune(cents float64)
	Detune() float64
	// SetVolume sets the voice level in dB relative to its base level.
	// math.Inf(-1) silences the voice.
	SetVolume(db float64)
	Volume() float64
	Dispose()
	Disposed() bool
	// Render writes the voice output into dst (interleaved stereo, zeroed by
	// the caller) starting at engine frame start.
	Render(dst []float32, start int64)
}

type Option func(*Engine)

// WithEffects installs a master bus chain.
func WithEffects(chain *effects.Chain) Option {
	return func(e *Engine) {
		e.chain = chain
	}
}

func WithMasterGain(gain float64) Option {
	return func(e *Engine) {
		e.gain = float32(gain)
	}
}

// Engine mixes connected voices and dispatches scheduled parts and loops
// against a single transport clock. Process is called from the audio thread;
// everything else may be called from any goroutine.
type Engine struct {
	mu         sync.Mutex
	sampleRate int
	frame      int64 // engine clock, monotonic
	transport  transportState
	voices     []Voice
	parts      []*Part
	loops      []*Loop
	observers  map[int]func(float64)
	nextObs    int
	chain      *effects.Chain
	resetChain bool // clear effect state before the next block
	gain       float32
	scratch    []float32
}

func New(sampleRate int, opts ...Option) *Engine {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	e := &Engine{
		sampleRate: sampleRate,
		observers:  make(map[int]func(float64)),
		gain:       1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Now returns the engine clock in seconds.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.frame) / float64(e.sampleRate)
}

// Transport returns the shared transport clock.
func (e *Engine) Transport() *Transport {
	return &Transport{e: e}
}

// Connect adds v to the mix. Disposed voices are dropped automatically.
func (e *Engine) Connect(v Voice) {
	if v == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cur := range e.voices {
		if cur == v {
			return
		}
	}
	e.voices = append(e.voices, v)
}

func (e *Engine) Disconnect(v Voice) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.voices {
		if cur == v {
			e.voices = append(e.voices[:i], e.voices[i+1:]...)
			return
		}
	}
}

// ResetEffects clears reverb tails and limiter state. The chain is only
// touched by the audio thread, so the reset happens at the start of the next
// block.
func (e *Engine) ResetEffects() {
	e.mu.Lock()
	e.resetChain = true
	e.mu.Unlock()
}

// Observe registers fn to run after every block processed while the
// transport is started. fn receives the transport position in seconds.
func (e *Engine) Observe(fn func(float64)) (cancel func()) {
	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// LiveVoices counts connected voices that are not disposed.
func (e *Engine) LiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, v := range e.voices {
		if !v.Disposed() {
			n++
		}
	}
	return n
}

func (e *Engine) LiveParts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.parts)
}

func (e *Engine) LiveLoops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}

type dueEvent struct {
	frame int64
	at    float64
	part  *Part
	loop  *Loop
	event Event
}

func (d dueEvent) fire() {
	switch {
	case d.part != nil:
		if d.part.Disposed() {
			return
		}
		d.part.cb(d.at, d.event)
	case d.loop != nil:
		if d.loop.Disposed() {
			return
		}
		d.loop.cb(d.at)
	}
}

// Process renders len(dst)/2 stereo frames. Scheduled events falling inside
// the block are dispatched before the voices render, so a block is also the
// scheduling lookahead.
func (e *Engine) Process(dst []float32) {
	frames := len(dst) / 2
	dst = dst[:frames*2]

	e.mu.Lock()
	start := e.frame
	var due []dueEvent
	started := e.transport.state == Started
	var position float64
	if started {
		skip := min(e.transport.preroll, int64(frames))
		e.transport.preroll -= skip
		if run := int64(frames) - skip; run > 0 {
			t0 := e.transport.position
			due = e.collectLocked(t0, t0+run, start+skip)
			e.transport.position = t0 + run
		}
		position = float64(e.transport.position) / float64(e.sampleRate)
	}
	e.frame += int64(frames)
	voices := e.liveVoicesLocked()
	var observers []func(float64)
	if started {
		observers = make([]func(float64), 0, len(e.observers))
		ids := make([]int, 0, len(e.observers))
		for id := range e.observers {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			observers = append(observers, e.observers[id])
		}
	}
	chain, gain, reset := e.chain, e.gain, e.resetChain
	e.resetChain = false
	if cap(e.scratch) < len(dst) {
		e.scratch = make([]float32, len(dst))
	}
	scratch := e.scratch[:len(dst)]
	e.mu.Unlock()

	for _, d := range due {
		d.fire()
	}

	clear(dst)
	for _, v := range voices {
		clear(scratch)
		v.Render(scratch, start)
		vek32.Add_Inplace(dst, scratch)
	}
	if gain != 1 {
		vek32.MulNumber_Inplace(dst, gain)
	}
	if chain != nil {
		if reset {
			chain.Reset()
		}
		for i := 0; i+1 < len(dst); i += 2 {
			dst[i], dst[i+1] = chain.Process(dst[i], dst[i+1])
		}
	}
	for _, obs := range observers {
		obs(position)
	}
}

func (e *Engine) liveVoicesLocked() []Voice {
	n := 0
	for _, v := range e.voices {
		if !v.Disposed() {
			e.voices[n] = v
			n++
		}
	}
	clear(e.voices[n:])
	e.voices = e.voices[:n]
	out := make([]Voice, n)
	copy(out, e.voices)
	return out
}

// collectLocked gathers part events and loop ticks whose transport frame lies
// in [t0, t1). base is the engine frame that corresponds to t0.
func (e *Engine) collectLocked(t0, t1, base int64) []dueEvent {
	var due []dueEvent
	toEngine := func(f int64) float64 {
		return float64(base+(f-t0)) / float64(e.sampleRate)
	}
	for _, p := range e.parts {
		for p.cursor < len(p.events) {
			f := e.framesOf(p.events[p.cursor].Time)
			if f >= t1 {
				break
			}
			if f >= t0 {
				due = append(due, dueEvent{frame: f, at: toEngine(f), part: p, event: p.events[p.cursor]})
			}
			p.cursor++
		}
	}
	for _, l := range e.loops {
		if l.interval <= 0 {
			continue
		}
		for {
			f := e.framesOf(float64(l.tick) * l.interval)
			if f >= t1 {
				break
			}
			if f >= t0 {
				due = append(due, dueEvent{frame: f, at: toEngine(f), loop: l})
			}
			l.tick++
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].frame < due[j].frame })
	return due
}

func (e *Engine) framesOf(seconds float64) int64 {
	return int64(math.Round(seconds * float64(e.sampleRate)))
}

// realignLocked moves every cursor to the first event at or after the
// current transport position.
func (e *Engine) realignLocked() {
	pos := e.transport.position
	for _, p := range e.parts {
		p.cursor = sort.Search(len(p.events), func(i int) bool {
			return e.framesOf(p.events[i].Time) >= pos
		})
	}
	for _, l := range e.loops {
		l.tick = e.loopTickAt(l, pos)
	}
}

func (e *Engine) loopTickAt(l *Loop, pos int64) int64 {
	if l.interval <= 0 {
		return 0
	}
	k := int64(math.Floor(float64(pos) / (l.interval * float64(e.sampleRate))))
	for k > 0 && e.framesOf(float64(k-1)*l.interval) >= pos {
		k--
	}
	for e.framesOf(float64(k)*l.interval) < pos {
		k++
	}
	return k
}
