// Package metronome runs a click loop on the shared transport.
package metronome

import (
	"sync"

	"github.com/cbegin/hymnplayer-go/internal/engine"
	"github.com/cbegin/hymnplayer-go/internal/instrument"
)

// ClickDuration is a 32nd note at 120 BPM.
const ClickDuration = 0.0625

// BeatInterval is the length of one beat of a bpm tempo played at rate.
func BeatInterval(bpm, rate float64) float64 {
	if bpm <= 0 {
		bpm = 120
	}
	if rate <= 0 {
		rate = 1
	}
	return 60 / bpm / rate
}

type Factory func(c instrument.Click) (engine.Voice, error)

type Engine interface {
	Connect(v engine.Voice)
	Disconnect(v engine.Voice)
	ScheduleLoop(interval float64, cb func(at float64)) *engine.Loop
}

// Metronome owns at most one loop and one click voice.
type Metronome struct {
	mu       sync.Mutex
	eng      Engine
	factory  Factory
	sound    instrument.Click
	voice    engine.Voice
	loop     *engine.Loop
	interval float64
}

func New(eng Engine, factory Factory) *Metronome {
	return &Metronome{eng: eng, factory: factory, interval: BeatInterval(120, 1)}
}

func (m *Metronome) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loop != nil
}

func (m *Metronome) Sound() instrument.Click {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sound
}

func (m *Metronome) Interval() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Toggle starts the loop when on is true and fully disposes it otherwise.
// Turning on an already running metronome does nothing.
func (m *Metronome) Toggle(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !on {
		m.stopLocked()
		return nil
	}
	if m.loop != nil {
		return nil
	}
	if m.voice == nil {
		if err := m.buildLocked(m.sound); err != nil {
			return err
		}
	}
	m.startLocked()
	return nil
}

// SetSound swaps the click voice. The loop keeps running.
func (m *Metronome) SetSound(c instrument.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voice == nil {
		m.sound = c
		return nil
	}
	old := m.voice
	if err := m.buildLocked(c); err != nil {
		return err
	}
	m.retire(old)
	return nil
}

// SetInterval changes the beat length, restarting an active loop so it
// ticks on the new grid.
func (m *Metronome) SetInterval(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seconds <= 0 || seconds == m.interval {
		return
	}
	m.interval = seconds
	if m.loop != nil {
		m.loop.Dispose()
		m.startLocked()
	}
}

func (m *Metronome) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	if m.voice != nil {
		m.retire(m.voice)
		m.voice = nil
	}
}

func (m *Metronome) buildLocked(c instrument.Click) error {
	v, err := m.factory(c)
	if err != nil {
		return err
	}
	m.eng.Connect(v)
	m.voice, m.sound = v, c
	return nil
}

func (m *Metronome) retire(v engine.Voice) {
	v.ReleaseAll()
	v.Dispose()
	m.eng.Disconnect(v)
}

func (m *Metronome) startLocked() {
	m.loop = m.eng.ScheduleLoop(m.interval, m.tick)
}

func (m *Metronome) stopLocked() {
	if m.loop != nil {
		m.loop.Dispose()
		m.loop = nil
	}
}

func (m *Metronome) tick(at float64) {
	m.mu.Lock()
	v, key := m.voice, m.sound.Key()
	m.mu.Unlock()
	if v == nil {
		return
	}
	v.Trigger(key, ClickDuration, at, 1)
}

// ReleaseAll releases a sounding click.
func (m *Metronome) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voice != nil {
		m.voice.ReleaseAll()
	}
}
