package synth

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sinshu/go-meltysynth/meltysynth"
)

const (
	midiChannel    = 0
	bendCenter     = 8192
	bendRangeCents = 200 // General MIDI default of two semitones
)

// midiSynth is the part of a meltysynth.Synthesizer a Sampler drives.
type midiSynth interface {
	ProcessMidiMessage(channel, command, data1, data2 int32)
	NoteOn(channel, key, velocity int32)
	NoteOff(channel, key int32)
	Render(left, right []float32)
}

// Sampler is a voice that plays a SoundFont program through meltysynth.
// Whole semitones of detune shift the MIDI key at note-on; the remaining
// cents go to pitch bend, so held notes only follow the fractional part.
type Sampler struct {
	mu          sync.Mutex
	sampleRate  float64
	params      Params
	synth       midiSynth
	pending     []pendingNote
	held        []heldNote
	detune      float64
	volumeDB    float64
	gain        uint64 // float64 bits
	left, right []float32
	disposed    atomic.Bool
}

type heldNote struct {
	key int32
	off int64
}

// NewSampler builds a synthesizer over sf and selects params.Program on its
// only channel.
func NewSampler(sampleRate int, sf *meltysynth.SoundFont, params Params) (*Sampler, error) {
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	syn, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, err
	}
	return newSampler(sampleRate, syn, params), nil
}

func newSampler(sampleRate int, syn midiSynth, params Params) *Sampler {
	s := &Sampler{sampleRate: float64(sampleRate), params: params, synth: syn}
	syn.ProcessMidiMessage(midiChannel, 0xC0, int32(params.Program), 0)
	s.storeGain()
	return s
}

func (s *Sampler) Trigger(key, duration, at, velocity float64) {
	if s.disposed.Load() {
		return
	}
	on := int64(math.Round(at * s.sampleRate))
	length := max(int64(math.Round(duration*s.sampleRate)), 1)
	n := pendingNote{on: on, off: on + length, key: key, velocity: clamp(velocity, 0, 1)}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.pending), func(i int) bool { return s.pending[i].on > on })
	s.pending = append(s.pending, pendingNote{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = n
}

func (s *Sampler) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	for _, h := range s.held {
		s.synth.NoteOff(midiChannel, h.key)
	}
	s.held = s.held[:0]
}

func (s *Sampler) SetDetune(cents float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detune = cents
	_, frac := splitDetune(cents)
	bend := int32(math.Round(bendCenter + frac/bendRangeCents*bendCenter))
	bend = min(max(bend, 0), 16383)
	s.synth.ProcessMidiMessage(midiChannel, 0xE0, bend&0x7f, bend>>7)
}

func (s *Sampler) Detune() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detune
}

func (s *Sampler) SetVolume(db float64) {
	s.mu.Lock()
	s.volumeDB = db
	s.mu.Unlock()
	s.storeGain()
}

func (s *Sampler) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumeDB
}

func (s *Sampler) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.held = nil
}

func (s *Sampler) Disposed() bool {
	return s.disposed.Load()
}

// Sounding counts queued and held notes. Release tails are not counted.
func (s *Sampler) Sounding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) + len(s.held)
}

func (s *Sampler) storeGain() {
	s.mu.Lock()
	db := s.params.VolumeDB + s.volumeDB
	s.mu.Unlock()
	atomic.StoreUint64(&s.gain, math.Float64bits(dbToGain(db)))
}

// Render splits the block at every note boundary so events land on their
// exact frame, then mixes the synthesizer output into dst.
func (s *Sampler) Render(dst []float32, start int64) {
	if s.disposed.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := len(dst) / 2
	if cap(s.left) < frames {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
	}
	gain := float32(math.Float64frombits(atomic.LoadUint64(&s.gain)))
	end := start + int64(frames)
	for at := start; at < end; {
		s.dispatch(at)
		next := s.nextEvent(end)
		n := int(next - at)
		l, r := s.left[:n], s.right[:n]
		s.synth.Render(l, r)
		o := int(at-start) * 2
		for i := 0; i < n; i++ {
			dst[o+i*2] += l[i] * gain
			dst[o+i*2+1] += r[i] * gain
		}
		at = next
	}
}

// dispatch sends the note-offs and note-ons due at or before frame.
func (s *Sampler) dispatch(frame int64) {
	kept := s.held[:0]
	for _, h := range s.held {
		if h.off <= frame {
			s.synth.NoteOff(midiChannel, h.key)
			continue
		}
		kept = append(kept, h)
	}
	s.held = kept
	for len(s.pending) > 0 && s.pending[0].on <= frame {
		n := s.pending[0]
		s.pending = s.pending[1:]
		if n.off <= frame {
			continue
		}
		semis, _ := splitDetune(s.detune)
		key := int32(min(max(math.Round(n.key)+semis, 0), 127))
		s.synth.NoteOn(midiChannel, key, int32(math.Round(1+n.velocity*126)))
		s.held = append(s.held, heldNote{key: key, off: n.off})
	}
}

// nextEvent is the first frame after the current one that needs a MIDI
// message, capped at end.
func (s *Sampler) nextEvent(end int64) int64 {
	next := end
	if len(s.pending) > 0 {
		next = min(next, s.pending[0].on)
	}
	for _, h := range s.held {
		next = min(next, h.off)
	}
	return next
}

// splitDetune returns whole semitones and the leftover cents in [-50, 50].
func splitDetune(cents float64) (semis, frac float64) {
	semis = math.Round(cents / 100)
	return semis, cents - semis*100
}
