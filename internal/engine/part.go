package engine

import (
	"sort"
	"sync/atomic"
)

// Event is one note of a part, with times on the transport clock.
type Event struct {
	Time     float64
	Key      uint8
	Duration float64
	Velocity float64
}

// Part is a scheduled sequence of events starting at transport zero.
type Part struct {
	e        *Engine
	events   []Event
	cursor   int
	cb       func(at float64, ev Event)
	disposed atomic.Bool
}

// ScheduleSequence installs events (sorted by time, ties keep their order)
// and calls cb for each one as the transport reaches it.
func (e *Engine) ScheduleSequence(events []Event, cb func(at float64, ev Event)) *Part {
	evs := make([]Event, len(events))
	copy(evs, events)
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Time < evs[j].Time })
	p := &Part{e: e, events: evs, cb: cb}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parts = append(e.parts, p)
	pos := e.transport.position
	p.cursor = sort.Search(len(evs), func(i int) bool {
		return e.framesOf(evs[i].Time) >= pos
	})
	return p
}

// Events returns a copy of the scheduled events.
func (p *Part) Events() []Event {
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *Part) Disposed() bool {
	return p.disposed.Load()
}

// Dispose unschedules the part. Events already collected for the block
// being processed are dropped as well.
func (p *Part) Dispose() {
	if p.disposed.Swap(true) {
		return
	}
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.parts {
		if cur == p {
			e.parts = append(e.parts[:i], e.parts[i+1:]...)
			return
		}
	}
}

// Loop calls its callback every interval seconds of transport time,
// starting at transport zero.
type Loop struct {
	e        *Engine
	interval float64
	tick     int64
	cb       func(at float64)
	disposed atomic.Bool
}

// ScheduleLoop installs a repeating callback. A non-positive interval
// never fires.
func (e *Engine) ScheduleLoop(interval float64, cb func(at float64)) *Loop {
	l := &Loop{e: e, interval: interval, cb: cb}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loops = append(e.loops, l)
	if interval > 0 {
		l.tick = e.loopTickAt(l, e.transport.position)
	}
	return l
}

func (l *Loop) Interval() float64 {
	return l.interval
}

func (l *Loop) Disposed() bool {
	return l.disposed.Load()
}

func (l *Loop) Dispose() {
	if l.disposed.Swap(true) {
		return
	}
	e := l.e
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.loops {
		if cur == l {
			e.loops = append(e.loops[:i], e.loops[i+1:]...)
			return
		}
	}
}
