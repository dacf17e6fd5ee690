package scheduler

import (
	"math"
	"testing"

	"github.com/cbegin/hymnplayer-go/internal/engine"
	"github.com/cbegin/hymnplayer-go/internal/midifile"
)

type trigger struct {
	key, duration, at float64
}

type spyVoice struct {
	triggers []trigger
	disposed bool
}

func (v *spyVoice) Trigger(key, duration, at, velocity float64) {
	v.triggers = append(v.triggers, trigger{key, duration, at})
}
func (v *spyVoice) ReleaseAll() {}
func (v *spyVoice) SetDetune(float64) {}
func (v *spyVoice) Detune() float64 { return 0 }
func (v *spyVoice) SetVolume(float64) {}
func (v *spyVoice) Volume() float64 { return 0 }
func (v *spyVoice) Dispose() { v.disposed = true }
func (v *spyVoice) Disposed() bool { return v.disposed }
func (v *spyVoice) Render([]float32, int64) {}

const testRate = 1000

func run(e *engine.Engine, seconds float64) {
	buf := make([]float32, 200)
	for n := int(math.Round(seconds * testRate)); n > 0; n -= 100 {
		e.Process(buf[:min(n, 100)*2])
	}
}

func tracks() []midifile.Track {
	return []midifile.Track{
		{Name: "S", Notes: []midifile.Note{{Key: 60, Start: 0, Duration: 1}, {Key: 62, Start: 1, Duration: 0.15}}},
		{Name: "A", Notes: []midifile.Note{{Key: 55, Start: 0.5, Duration: 0.5}}},
	}
}

func TestScaledDuration(t *testing.T) {
	for _, r := range []float64{0.5, 0.75, 1, 1.25, 1.5, 2, 3} {
		if got := ScaledDuration(10, r); math.Abs(got-10/r) > 1e-9 {
			t.Fatalf("ScaledDuration(10, %v) = %v", r, got)
		}
	}
}

func TestBuildScalesTimesAndFloorsDurations(t *testing.T) {
	e := engine.New(testRate)
	s := New(e, func(int) engine.Voice { return nil })
	if err := s.Build(tracks(), 2); err != nil {
		t.Fatal(err)
	}
	parts := s.Parts()
	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	evs := parts[0].Events()
	if evs[0].Time != 0 || evs[0].Duration != 0.5 {
		t.Fatalf("first event = %+v", evs[0])
	}
	if evs[1].Time != 0.5 || evs[1].Duration != MinNoteDuration {
		t.Fatalf("short note not floored: %+v", evs[1])
	}
	if s.Rate() != 2 {
		t.Fatalf("rate = %v", s.Rate())
	}
}

func TestRebuildReplacesParts(t *testing.T) {
	e := engine.New(testRate)
	s := New(e, func(int) engine.Voice { return nil })
	s.Build(tracks(), 1)
	old := s.Parts()
	s.Build(tracks(), 1.5)
	for i, p := range old {
		if !p.Disposed() {
			t.Fatalf("old part %d still live", i)
		}
	}
	if e.LiveParts() != 2 {
		t.Fatalf("live parts = %d, want 2", e.LiveParts())
	}
	s.Dispose()
	if e.LiveParts() != 0 {
		t.Fatalf("live parts after dispose = %d", e.LiveParts())
	}
}

func TestInvalidRateKeepsParts(t *testing.T) {
	e := engine.New(testRate)
	s := New(e, func(int) engine.Voice { return nil })
	s.Build(tracks(), 1)
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := s.Build(tracks(), r); err == nil {
			t.Fatalf("rate %v accepted", r)
		}
	}
	if e.LiveParts() != 2 || s.Rate() != 1 {
		t.Fatalf("invalid rate disturbed parts: live=%d rate=%v", e.LiveParts(), s.Rate())
	}
}

func TestPartsResolveVoicesAtFireTime(t *testing.T) {
	e := engine.New(testRate)
	voices := []*spyVoice{{}, {}}
	s := New(e, func(i int) engine.Voice { return voices[i] })
	s.Build(tracks(), 1)
	e.Transport().Start()
	run(e, 0.3)

	swapped := &spyVoice{}
	voices[1] = swapped // instrument change: same part, new voice
	run(e, 1)

	if len(voices[0].triggers) != 2 {
		t.Fatalf("track 0 triggers = %+v", voices[0].triggers)
	}
	if len(swapped.triggers) != 1 || swapped.triggers[0].key != 55 {
		t.Fatalf("swapped voice triggers = %+v", swapped.triggers)
	}
	if at := swapped.triggers[0].at; math.Abs(at-0.5) > 1e-9 {
		t.Fatalf("trigger time = %v, want 0.5", at)
	}
}

func TestMissingVoiceIsSkipped(t *testing.T) {
	e := engine.New(testRate)
	s := New(e, func(int) engine.Voice { return nil })
	s.Build(tracks(), 1)
	e.Transport().Start()
	run(e, 2) // must not panic
}
