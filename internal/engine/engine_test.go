package engine

import (
	"math"
	"testing"
	"time"

	"github.com/cbegin/hymnplayer-go/internal/effects"
)

type spyVoice struct {
	triggers []float64 // engine times
	keys     []float64
	releases int
	disposed bool
	level    float32
	detune   float64
	volume   float64
}

func (v *spyVoice) Trigger(key, duration, at, velocity float64) {
	v.triggers = append(v.triggers, at)
	v.keys = append(v.keys, key)
}
func (v *spyVoice) ReleaseAll() { v.releases++ }
func (v *spyVoice) SetDetune(c float64) { v.detune = c }
func (v *spyVoice) Detune() float64 { return v.detune }
func (v *spyVoice) SetVolume(db float64) { v.volume = db }
func (v *spyVoice) Volume() float64 { return v.volume }
func (v *spyVoice) Dispose() { v.disposed = true }
func (v *spyVoice) Disposed() bool { return v.disposed }
func (v *spyVoice) Render(dst []float32, start int64) {
	for i := range dst {
		dst[i] = v.level
	}
}

const testRate = 1000

func process(e *Engine, seconds float64) {
	block := make([]float32, 100*2)
	frames := int(math.Round(seconds * testRate))
	for frames > 0 {
		n := min(frames, 100)
		e.Process(block[:n*2])
		frames -= n
	}
}

func TestTransportAdvancesOnlyWhileStarted(t *testing.T) {
	e := New(testRate)
	tr := e.Transport()
	process(e, 0.5)
	if got := tr.Seconds(); got != 0 {
		t.Fatalf("stopped transport moved to %v", got)
	}
	tr.Start()
	process(e, 1)
	if got := tr.Seconds(); got != 1 {
		t.Fatalf("position = %v, want 1", got)
	}
	tr.Pause()
	process(e, 1)
	if got := tr.Seconds(); got != 1 {
		t.Fatalf("paused position = %v, want 1", got)
	}
	if tr.State() != Paused {
		t.Fatalf("state = %v, want paused", tr.State())
	}
	tr.Start()
	process(e, 0.5)
	if got := tr.Seconds(); got != 1.5 {
		t.Fatalf("resumed position = %v, want 1.5", got)
	}
	tr.Stop()
	if got := tr.Seconds(); got != 0 {
		t.Fatalf("stop should rewind, got %v", got)
	}
	if got := e.Now(); got != 3 {
		t.Fatalf("engine clock = %v, want 3", got)
	}
}

func TestStartAfterDelaysClock(t *testing.T) {
	e := New(testRate)
	tr := e.Transport()
	tr.StartAfter(10 * time.Millisecond)
	process(e, 0.005)
	if got := tr.Seconds(); got != 0 {
		t.Fatalf("clock moved during pre-roll: %v", got)
	}
	process(e, 0.105)
	if got := tr.Seconds(); math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("position = %v, want 0.1", got)
	}
}

func TestPartDispatchesInTimeOrderWithEngineTimes(t *testing.T) {
	e := New(testRate)
	var got []Event
	var ats []float64
	e.ScheduleSequence([]Event{
		{Time: 0.5, Key: 62},
		{Time: 0, Key: 60},
		{Time: 1.25, Key: 64},
	}, func(at float64, ev Event) {
		got = append(got, ev)
		ats = append(ats, at)
	})
	process(e, 0.3) // engine clock runs ahead of the transport
	e.Transport().Start()
	process(e, 1)
	if len(got) != 2 || got[0].Key != 60 || got[1].Key != 62 {
		t.Fatalf("unexpected dispatch %#v", got)
	}
	if math.Abs(ats[0]-0.3) > 1e-9 || math.Abs(ats[1]-0.8) > 1e-9 {
		t.Fatalf("engine times = %v, want [0.3 0.8]", ats)
	}
	process(e, 0.5)
	if len(got) != 3 || got[2].Key != 64 {
		t.Fatalf("third event missing: %#v", got)
	}
}

func TestDisposedPartNeverFires(t *testing.T) {
	e := New(testRate)
	fired := 0
	p := e.ScheduleSequence([]Event{{Time: 0.1}, {Time: 0.2}}, func(float64, Event) { fired++ })
	e.Transport().Start()
	process(e, 0.15)
	p.Dispose()
	process(e, 1)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if e.LiveParts() != 0 {
		t.Fatalf("live parts = %d", e.LiveParts())
	}
}

func TestPartDisposedInsideBlockDropsCollectedEvents(t *testing.T) {
	e := New(testRate)
	var second *Part
	fired := 0
	e.ScheduleSequence([]Event{{Time: 0.01}}, func(float64, Event) { second.Dispose() })
	second = e.ScheduleSequence([]Event{{Time: 0.02}}, func(float64, Event) { fired++ })
	e.Transport().Start()
	process(e, 0.1)
	if fired != 0 {
		t.Fatalf("disposed part fired %d times", fired)
	}
}

func TestStopAndSeekRealignParts(t *testing.T) {
	e := New(testRate)
	var keys []uint8
	e.ScheduleSequence([]Event{{Time: 0, Key: 1}, {Time: 0.5, Key: 2}, {Time: 1, Key: 3}}, func(_ float64, ev Event) {
		keys = append(keys, ev.Key)
	})
	tr := e.Transport()
	tr.Start()
	process(e, 0.6)
	tr.Stop()
	tr.Start()
	process(e, 0.1)
	tr.Seek(0.9)
	process(e, 0.2)
	want := []uint8{1, 2, 1, 3}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestLoopTicksOnTransportTime(t *testing.T) {
	e := New(testRate)
	var ticks []float64
	l := e.ScheduleLoop(0.25, func(at float64) { ticks = append(ticks, at) })
	tr := e.Transport()
	tr.Start()
	process(e, 1)
	if len(ticks) != 4 {
		t.Fatalf("ticks = %v, want 4", ticks)
	}
	tr.Seek(0.6)
	process(e, 0.2)
	if len(ticks) != 5 {
		t.Fatalf("tick after seek missing: %v", ticks)
	}
	l.Dispose()
	process(e, 1)
	if len(ticks) != 5 {
		t.Fatalf("disposed loop kept ticking: %v", ticks)
	}
	if e.LiveLoops() != 0 {
		t.Fatalf("live loops = %d", e.LiveLoops())
	}
}

func TestDisposedVoicesArePruned(t *testing.T) {
	e := New(testRate)
	a := &spyVoice{level: 0.25}
	b := &spyVoice{level: 0.5}
	e.Connect(a)
	e.Connect(b)
	e.Connect(a)
	buf := make([]float32, 20)
	e.Process(buf)
	if buf[0] != 0.75 {
		t.Fatalf("mix = %v, want 0.75", buf[0])
	}
	b.Dispose()
	e.Process(buf)
	if buf[0] != 0.25 {
		t.Fatalf("mix after dispose = %v, want 0.25", buf[0])
	}
	if e.LiveVoices() != 1 {
		t.Fatalf("live voices = %d", e.LiveVoices())
	}
}

func TestObserversSeeTransportWhileStarted(t *testing.T) {
	e := New(testRate)
	var seen []float64
	cancel := e.Observe(func(pos float64) { seen = append(seen, pos) })
	process(e, 0.2)
	if len(seen) != 0 {
		t.Fatalf("observer ran while stopped: %v", seen)
	}
	e.Transport().Start()
	process(e, 0.2)
	if len(seen) != 2 || seen[1] != 0.2 {
		t.Fatalf("observed = %v", seen)
	}
	cancel()
	process(e, 0.2)
	if len(seen) != 2 {
		t.Fatalf("cancelled observer still called: %v", seen)
	}
}

func TestDisconnectRemovesVoiceFromMix(t *testing.T) {
	e := New(testRate)
	a := &spyVoice{level: 0.25}
	b := &spyVoice{level: 0.5}
	e.Connect(a)
	e.Connect(b)
	e.Disconnect(a)
	buf := make([]float32, 20)
	e.Process(buf)
	if buf[0] != 0.5 || e.LiveVoices() != 1 {
		t.Fatalf("sample = %v live = %d", buf[0], e.LiveVoices())
	}
	e.Disconnect(a)
}

type spyEffect struct {
	resets int
	frames int
}

func (f *spyEffect) Process(l, r float32) (float32, float32) {
	f.frames++
	return l, r
}

func (f *spyEffect) Reset() { f.resets++ }

func TestResetEffectsRunsBeforeNextBlock(t *testing.T) {
	fx := &spyEffect{}
	e := New(testRate, WithEffects(effects.NewChain(fx)))
	process(e, 0.1)
	e.ResetEffects()
	if fx.resets != 0 {
		t.Fatal("reset ran outside the audio thread")
	}
	process(e, 0.1)
	if fx.resets != 1 {
		t.Fatalf("resets = %d, want 1", fx.resets)
	}
	process(e, 0.1)
	if fx.resets != 1 || fx.frames != 300 {
		t.Fatalf("resets = %d frames = %d", fx.resets, fx.frames)
	}
}

func TestMasterGainScalesMix(t *testing.T) {
	e := New(testRate, WithMasterGain(0.5))
	e.Connect(&spyVoice{level: 0.5})
	buf := make([]float32, 20)
	e.Process(buf)
	if buf[0] != 0.25 {
		t.Fatalf("sample = %v, want 0.25", buf[0])
	}
}
