package engine

import (
	"time"
)

type TransportState int

const (
	Stopped TransportState = iota
	Started
	Paused
)

func (s TransportState) String() string {
	switch s {
	case Started:
		return "started"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

type transportState struct {
	state    TransportState
	position int64 // transport frames
	preroll  int64 // frames to wait before the clock advances
}

// Transport is a handle to the engine's shared clock. Only the transport
// controller should start, stop or seek it; everything else schedules
// against it.
type Transport struct {
	e *Engine
}

func (t *Transport) Start() {
	t.StartAfter(0)
}

// StartAfter starts the clock once delay worth of audio has been rendered.
// The position reported in the meantime stays where it was.
func (t *Transport) StartAfter(delay time.Duration) {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport.state == Started {
		return
	}
	e.transport.state = Started
	e.transport.preroll = int64(delay.Seconds() * float64(e.sampleRate))
}

func (t *Transport) Pause() {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport.state != Started {
		return
	}
	e.transport.state = Paused
	e.transport.preroll = 0
}

// Stop halts the clock and rewinds it to zero.
func (t *Transport) Stop() {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport = transportState{state: Stopped}
	e.realignLocked()
}

func (t *Transport) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport.position = e.framesOf(seconds)
	e.realignLocked()
}

// Seconds reads the clock position.
func (t *Transport) Seconds() float64 {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.transport.position) / float64(e.sampleRate)
}

func (t *Transport) State() TransportState {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.state
}
