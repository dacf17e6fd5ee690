// Package scheduler turns parsed tracks into engine parts at a playback rate.
package scheduler

import (
	"math"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/ftag"

	"github.com/cbegin/hymnplayer-go/internal/engine"
	"github.com/cbegin/hymnplayer-go/internal/midifile"
)

// MinNoteDuration is the shortest scheduled note, applied after scaling.
const MinNoteDuration = 0.1

// Lookup resolves a track index to its current voice, or nil.
type Lookup func(track int) engine.Voice

type Sequencer interface {
	ScheduleSequence(events []engine.Event, cb func(at float64, ev engine.Event)) *engine.Part
}

// Scheduler owns exactly one part per track. Parts look voices up by index
// when they fire, so voices can be swapped without rebuilding.
type Scheduler struct {
	mu     sync.Mutex
	eng    Sequencer
	lookup Lookup
	parts  []*engine.Part
	rate   float64
}

func New(eng Sequencer, lookup Lookup) *Scheduler {
	return &Scheduler{eng: eng, lookup: lookup, rate: 1}
}

// ScaledDuration is the wall-clock length of raw seconds at rate.
func ScaledDuration(raw, rate float64) float64 {
	return raw / rate
}

func ValidRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return fault.New("playback rate must be positive", ftag.With(ftag.InvalidArgument))
	}
	return nil
}

// Build disposes every existing part and installs one part per track with
// times divided by rate. An invalid rate is rejected before anything is torn
// down.
func (s *Scheduler) Build(tracks []midifile.Track, rate float64) error {
	if err := ValidRate(rate); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposeLocked()
	s.parts = make([]*engine.Part, len(tracks))
	for i, tr := range tracks {
		s.parts[i] = s.eng.ScheduleSequence(scale(tr.Notes, rate), s.trigger(i))
	}
	s.rate = rate
	return nil
}

func scale(notes []midifile.Note, rate float64) []engine.Event {
	events := make([]engine.Event, len(notes))
	for i, n := range notes {
		events[i] = engine.Event{
			Time:     n.Start / rate,
			Key:      n.Key,
			Duration: math.Max(n.Duration/rate, MinNoteDuration),
			Velocity: n.Velocity,
		}
	}
	return events
}

func (s *Scheduler) trigger(track int) func(float64, engine.Event) {
	return func(at float64, ev engine.Event) {
		v := s.lookup(track)
		if v == nil {
			return
		}
		v.Trigger(float64(ev.Key), ev.Duration, at, ev.Velocity)
	}
}

func (s *Scheduler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Parts returns the installed parts in track order.
func (s *Scheduler) Parts() []*engine.Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*engine.Part, len(s.parts))
	copy(out, s.parts)
	return out
}

func (s *Scheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposeLocked()
}

func (s *Scheduler) disposeLocked() {
	for _, p := range s.parts {
		p.Dispose()
	}
	s.parts = nil
}
