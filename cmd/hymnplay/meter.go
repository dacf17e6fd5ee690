package main

import (
	"math"
	"sync"
)

const meterWindow = 2048

// levelMeter keeps the most recent mono samples handed to the sample tap.
type levelMeter struct {
	mu       sync.Mutex
	ring     []float32
	writePos int
}

func newLevelMeter() *levelMeter {
	return &levelMeter{ring: make([]float32, meterWindow)}
}

// Tap is called from the audio thread. Keep it minimal: just copy into ring.
func (m *levelMeter) Tap(samples []float32) {
	m.mu.Lock()
	for i := 0; i+1 < len(samples); i += 2 {
		m.ring[m.writePos] = (samples[i] + samples[i+1]) * 0.5
		m.writePos = (m.writePos + 1) % meterWindow
	}
	m.mu.Unlock()
}

// Level returns the RMS of the window in dBFS, floored at -60.
func (m *levelMeter) Level() float64 {
	m.mu.Lock()
	var sum float64
	for _, s := range m.ring {
		sum += float64(s) * float64(s)
	}
	m.mu.Unlock()
	rms := math.Sqrt(sum / meterWindow)
	if rms <= 0 {
		return -60
	}
	return math.Max(-60, 20*math.Log10(rms))
}

func (m *levelMeter) Reset() {
	m.mu.Lock()
	clear(m.ring)
	m.mu.Unlock()
}
