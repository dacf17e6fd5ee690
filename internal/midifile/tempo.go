package midifile

import (
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"
)

type tempoChange struct {
	tick    uint64
	bpm     float64
	seconds float64 // absolute time of tick
}

// tempoMap converts absolute ticks to seconds using every tempo event in
// the file, whichever track carries it.
type tempoMap struct {
	resolution float64
	changes    []tempoChange
	firstBPM   float64
}

func newTempoMap(tracks []smf.Track, resolution float64) *tempoMap {
	var changes []tempoChange
	for _, tr := range tracks {
		var tick uint64
		for _, ev := range tr {
			tick += uint64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
				changes = append(changes, tempoChange{tick: tick, bpm: bpm})
			}
		}
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].tick < changes[j].tick })
	firstBPM := float64(defaultBPM)
	if len(changes) > 0 {
		firstBPM = changes[0].bpm
	}
	if len(changes) == 0 || changes[0].tick != 0 {
		changes = append([]tempoChange{{bpm: defaultBPM}}, changes...)
	}
	for i := 1; i < len(changes); i++ {
		prev := changes[i-1]
		changes[i].seconds = prev.seconds + float64(changes[i].tick-prev.tick)*60/(prev.bpm*resolution)
	}
	return &tempoMap{resolution: resolution, changes: changes, firstBPM: firstBPM}
}

// first is the tempo in effect at the first tempo event, or the default
// when the file has none.
func (m *tempoMap) first() float64 {
	return m.firstBPM
}

func (m *tempoMap) seconds(tick uint64) float64 {
	i := sort.Search(len(m.changes), func(i int) bool { return m.changes[i].tick > tick }) - 1
	c := m.changes[i]
	return c.seconds + float64(tick-c.tick)*60/(c.bpm*m.resolution)
}
