package synth

import (
	"math"
	"testing"
)

type midiEvent struct {
	frame int64
	cmd   string
	key   int32
	vel   int32
}

// fakeSynth records MIDI messages against the frames it has rendered and
// outputs a constant level.
type fakeSynth struct {
	frame  int64
	events []midiEvent
	bends  []int32
	level  float32
}

func (f *fakeSynth) ProcessMidiMessage(ch, cmd, d1, d2 int32) {
	switch cmd {
	case 0xC0:
		f.events = append(f.events, midiEvent{frame: f.frame, cmd: "program", key: d1})
	case 0xE0:
		f.bends = append(f.bends, d2<<7|d1)
	}
}

func (f *fakeSynth) NoteOn(ch, key, vel int32) {
	f.events = append(f.events, midiEvent{frame: f.frame, cmd: "on", key: key, vel: vel})
}

func (f *fakeSynth) NoteOff(ch, key int32) {
	f.events = append(f.events, midiEvent{frame: f.frame, cmd: "off", key: key})
}

func (f *fakeSynth) Render(l, r []float32) {
	for i := range l {
		l[i], r[i] = f.level, f.level
	}
	f.frame += int64(len(l))
}

func (f *fakeSynth) notes() []midiEvent {
	var out []midiEvent
	for _, e := range f.events {
		if e.cmd != "program" {
			out = append(out, e)
		}
	}
	return out
}

func renderSampler(s *Sampler, start int64, frames int) []float32 {
	buf := make([]float32, frames*2)
	s.Render(buf, start)
	return buf
}

func TestSamplerSelectsProgram(t *testing.T) {
	f := &fakeSynth{}
	newSampler(1000, f, Params{Program: 19})
	if len(f.events) != 1 || f.events[0].cmd != "program" || f.events[0].key != 19 {
		t.Fatalf("events = %+v", f.events)
	}
}

func TestSamplerNotesLandOnExactFrames(t *testing.T) {
	f := &fakeSynth{}
	s := newSampler(1000, f, Params{})
	s.Trigger(60, 0.05, 0.1, 1)
	s.Trigger(64, 0.02, 0.12, 0)
	renderSampler(s, 0, 256)

	want := []midiEvent{
		{frame: 100, cmd: "on", key: 60, vel: 127},
		{frame: 120, cmd: "on", key: 64, vel: 1},
		{frame: 140, cmd: "off", key: 64},
		{frame: 150, cmd: "off", key: 60},
	}
	got := f.notes()
	if len(got) != len(want) {
		t.Fatalf("events = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if f.frame != 256 {
		t.Fatalf("rendered %d frames, want 256", f.frame)
	}
}

func TestSamplerNoteSpanningBlocks(t *testing.T) {
	f := &fakeSynth{}
	s := newSampler(1000, f, Params{})
	s.Trigger(60, 0.2, 0.05, 0.5)
	renderSampler(s, 0, 100)
	if s.Sounding() != 1 {
		t.Fatalf("sounding = %d, want 1", s.Sounding())
	}
	renderSampler(s, 100, 200)
	got := f.notes()
	if len(got) != 2 || got[1].cmd != "off" || got[1].frame != 250 {
		t.Fatalf("events = %+v", got)
	}
	if s.Sounding() != 0 {
		t.Fatalf("sounding = %d after note-off", s.Sounding())
	}
}

func TestSamplerDetuneSplitsKeyAndBend(t *testing.T) {
	f := &fakeSynth{}
	s := newSampler(1000, f, Params{})
	s.SetDetune(230)
	if len(f.bends) != 1 || f.bends[0] != 9421 {
		t.Fatalf("bends = %v, want [9421]", f.bends)
	}
	s.Trigger(60, 0.5, 0, 1)
	renderSampler(s, 0, 10)
	s.SetDetune(0)
	if f.bends[len(f.bends)-1] != bendCenter {
		t.Fatalf("bend not recentred: %v", f.bends)
	}
	renderSampler(s, 10, 600)
	got := f.notes()
	if len(got) != 2 || got[0].key != 62 || got[1].key != 62 {
		t.Fatalf("note-off must use the note-on key: %+v", got)
	}
	if s.Detune() != 0 {
		t.Fatalf("detune = %v", s.Detune())
	}
}

func TestSamplerClampsKeys(t *testing.T) {
	f := &fakeSynth{}
	s := newSampler(1000, f, Params{})
	s.SetDetune(2400)
	s.Trigger(120, 0.01, 0, 1)
	renderSampler(s, 0, 20)
	if got := f.notes(); len(got) == 0 || got[0].key != 127 {
		t.Fatalf("events = %+v", got)
	}
}

func TestSamplerReleaseAll(t *testing.T) {
	f := &fakeSynth{}
	s := newSampler(1000, f, Params{})
	s.Trigger(60, 1, 0, 1)
	s.Trigger(67, 1, 0.5, 1)
	renderSampler(s, 0, 100)
	s.ReleaseAll()
	if s.Sounding() != 0 {
		t.Fatalf("sounding = %d after ReleaseAll", s.Sounding())
	}
	renderSampler(s, 100, 900)
	got := f.notes()
	if len(got) != 2 || got[1].cmd != "off" || got[1].key != 60 {
		t.Fatalf("events = %+v", got)
	}
}

func TestSamplerVolume(t *testing.T) {
	f := &fakeSynth{level: 0.5}
	s := newSampler(1000, f, Params{})
	buf := make([]float32, 8)
	buf[0] = 0.25
	s.Render(buf, 0)
	if buf[0] != 0.75 || buf[1] != 0.5 {
		t.Fatalf("output not mixed into dst: %v", buf[:2])
	}
	s.SetVolume(math.Inf(-1))
	for _, v := range renderSampler(s, 4, 4) {
		if v != 0 {
			t.Fatalf("silenced sampler produced %v", v)
		}
	}
	if !math.IsInf(s.Volume(), -1) {
		t.Fatalf("volume = %v", s.Volume())
	}
}

func TestDisposedSamplerIsSilent(t *testing.T) {
	f := &fakeSynth{level: 1}
	s := newSampler(1000, f, Params{})
	s.Dispose()
	s.Trigger(60, 1, 0, 1)
	if s.Sounding() != 0 {
		t.Fatal("disposed sampler queued a note")
	}
	for _, v := range renderSampler(s, 0, 10) {
		if v != 0 {
			t.Fatal("disposed sampler produced output")
		}
	}
	if !s.Disposed() {
		t.Fatal("Disposed() = false")
	}
}
