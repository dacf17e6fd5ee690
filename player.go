package hymnplayer

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	intaudio "github.com/cbegin/hymnplayer-go/internal/audio"
	"github.com/cbegin/hymnplayer-go/internal/effects"
	"github.com/cbegin/hymnplayer-go/internal/engine"
	"github.com/cbegin/hymnplayer-go/internal/instrument"
	"github.com/cbegin/hymnplayer-go/internal/metronome"
	"github.com/cbegin/hymnplayer-go/internal/midifile"
	"github.com/cbegin/hymnplayer-go/internal/pool"
	"github.com/cbegin/hymnplayer-go/internal/scheduler"
)

// replayDelay lets a stop settle before the clock restarts.
const replayDelay = 10 * time.Millisecond

type State int

const (
	Idle State = iota
	Loading
	Ready
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

type EventKind int

const (
	EventStateChanged EventKind = iota
	// EventTime carries the transport position, at most once per
	// time update interval.
	EventTime
	EventPlaybackEnded
	EventLoadFailed
	EventTracksChanged
)

// PlaybackEvent carries state changes and clock updates from Watch().
type PlaybackEvent struct {
	Kind  EventKind
	State State
	Time  float64
	Err   error
}

// TrackControl is the listener-facing view of one track.
type TrackControl struct {
	Name       string
	Muted      bool
	Volume     float64 // dB
	Instrument string
}

type TransportState struct {
	State       State
	Playing     bool
	CurrentTime float64
	Duration    float64
}

type PlaybackConfig struct {
	Instrument     instrument.Kind
	Transpose      int
	PlaybackRate   float64
	MetronomeOn    bool
	MetronomeSound instrument.Click
}

// Player loads a hymn, plays it through one voice per track and keeps the
// transport, mute, transpose, rate and metronome settings consistent.
type Player struct {
	mu         sync.Mutex
	log        *log.Logger
	sampleRate int
	eng        *engine.Engine
	transport  *engine.Transport
	source     intaudio.SampleSource
	out        intaudio.Output
	pool       *pool.Pool
	sched      *scheduler.Scheduler
	metro      *metronome.Metronome
	cancelObs  func()

	state      State
	song       *midifile.Song
	names      []string
	instrument instrument.Kind
	transpose  int
	rate       float64
	loadSeq    uint64
	timeEvery  float64
	lastTime   float64
	closed     bool
	done       chan struct{}

	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
}

// tappedSource feeds every rendered block to an optional tap.
type tappedSource struct {
	eng *engine.Engine
	tap func([]float32)
}

func (s *tappedSource) Process(dst []float32) {
	s.eng.Process(dst)
	if s.tap != nil {
		s.tap(dst)
	}
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, invalid("sample rate must be positive")
	}
	pc := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&pc)
	}
	cfg := pc.cfg
	cfg.SampleRate = sampleRate
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	presets := pc.presets
	if presets == nil {
		var err error
		if presets, err = cfg.presets(); err != nil {
			return nil, err
		}
	}
	if cfg.SoundFont != "" {
		var err error
		if presets, err = presets.WithSoundFont(cfg.SoundFont); err != nil {
			return nil, err
		}
	}
	voices := pc.voiceFactory
	if voices == nil {
		voices = func(k instrument.Kind) (engine.Voice, error) {
			return presets.NewVoice(k, sampleRate)
		}
	}
	clicks := pc.clickFactory
	if clicks == nil {
		clicks = func(c instrument.Click) (engine.Voice, error) {
			return presets.NewClick(c, sampleRate)
		}
	}

	eng := engine.New(sampleRate,
		engine.WithEffects(effects.NewMasterBus(sampleRate, float32(cfg.Reverb))),
		engine.WithMasterGain(cfg.MasterVolume))
	p := &Player{
		log:        pc.newLogger(),
		sampleRate: sampleRate,
		eng:        eng,
		transport:  eng.Transport(),
		source:     &tappedSource{eng: eng, tap: pc.sampleTap},
		instrument: cfg.Instrument,
		transpose:  cfg.Transpose,
		rate:       cfg.PlaybackRate,
		timeEvery:  cfg.TimeUpdateInterval.Seconds(),
	}
	p.pool = pool.New(eng, voices)
	p.pool.SetTranspose(cfg.Transpose)
	p.sched = scheduler.New(eng, p.pool.Voice)
	p.metro = metronome.New(eng, clicks)
	if err := p.metro.SetSound(cfg.Metronome.Sound); err != nil {
		return nil, err
	}
	if cfg.Metronome.Enabled {
		if err := p.metro.Toggle(true); err != nil {
			return nil, err
		}
	}
	p.cancelObs = eng.Observe(p.onBlock)

	if !pc.offline {
		out, err := intaudio.Open(sampleRate, p.source)
		if err != nil {
			return nil, err
		}
		p.out = out
		out.Play()
	}
	return p, nil
}

// Load fetches and installs src. A failed load leaves the previous song,
// voices and parts in place and returns a *LoadError.
func (p *Player) Load(ctx context.Context, src string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state == Playing || p.state == Paused {
		p.haltLocked()
		p.signalDoneLocked()
	}
	p.loadSeq++
	seq := p.loadSeq
	p.setStateLocked(Loading)
	p.mu.Unlock()

	p.log.Info("loading", "src", src)
	song, err := midifile.Load(ctx, src)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if seq != p.loadSeq {
		return ErrLoadSuperseded
	}
	if err != nil {
		return p.failLoadLocked(src, err)
	}
	if err := p.pool.Load(p.instrument, len(song.Tracks)); err != nil {
		return p.failLoadLocked(src, err)
	}
	if err := p.sched.Build(song.Tracks, p.rate); err != nil {
		return p.failLoadLocked(src, err)
	}
	p.song = song
	p.names = make([]string, len(song.Tracks))
	for i, tr := range song.Tracks {
		p.names[i] = midifile.DisplayName(i, tr.Name)
	}
	p.metro.SetInterval(metronome.BeatInterval(song.BPM, p.rate))
	p.eng.ResetEffects()
	p.lastTime = 0
	p.log.Info("loaded", "src", src, "tracks", len(song.Tracks), "duration", song.Duration, "bpm", song.BPM)
	p.setStateLocked(Ready)
	p.sendEvent(PlaybackEvent{Kind: EventTracksChanged, State: Ready})
	return nil
}

func (p *Player) failLoadLocked(src string, err error) error {
	lerr := &LoadError{Src: src, Err: err}
	p.log.Warn("load failed", "src", src, "err", err)
	if p.song != nil {
		p.setStateLocked(Ready)
	} else {
		p.setStateLocked(Idle)
	}
	p.sendEvent(PlaybackEvent{Kind: EventLoadFailed, State: p.state, Err: lerr})
	return lerr
}

// Play starts or resumes playback. It is a no-op while playing.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usableLocked("play"); err != nil {
		return err
	}
	if p.state == Playing {
		return nil
	}
	p.startLocked(0)
	return nil
}

// Pause holds the clock and releases every sounding note.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usableLocked("pause"); err != nil {
		return err
	}
	if p.state != Playing {
		return nil
	}
	p.transport.Pause()
	p.releaseAllLocked()
	p.setStateLocked(Paused)
	p.sendEvent(PlaybackEvent{Kind: EventTime, State: Paused, Time: p.transport.Seconds()})
	return nil
}

// Stop rewinds to zero and leaves the player Ready.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	switch p.state {
	case Idle:
		return nil
	case Loading:
		return p.misuseLocked("stop")
	}
	p.stopLocked()
	p.signalDoneLocked()
	return nil
}

// Replay is Stop followed by Play, with a short pre-roll before the clock
// starts.
func (p *Player) Replay() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usableLocked("replay"); err != nil {
		return err
	}
	p.stopLocked()
	p.startLocked(replayDelay)
	return nil
}

// Wait blocks until playback ends or is stopped. It returns immediately
// when nothing is playing.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Player) usableLocked(op string) error {
	if p.closed {
		return ErrClosed
	}
	if p.state == Idle || p.state == Loading {
		return p.misuseLocked(op)
	}
	return nil
}

func (p *Player) misuseLocked(op string) error {
	p.log.Warn("transport misuse", "op", op, "state", p.state)
	return &TransportMisuseError{Op: op, State: p.state}
}

func (p *Player) startLocked(delay time.Duration) {
	if p.done == nil {
		p.done = make(chan struct{})
	}
	p.transport.StartAfter(delay)
	p.setStateLocked(Playing)
}

// stopLocked rewinds the clock and moves to Ready.
func (p *Player) stopLocked() {
	p.haltLocked()
	p.lastTime = 0
	p.setStateLocked(Ready)
	p.sendEvent(PlaybackEvent{Kind: EventTime, State: Ready})
}

// haltLocked stops the clock, releasing notes if it was running.
func (p *Player) haltLocked() {
	wasPlaying := p.state == Playing
	p.transport.Stop()
	if wasPlaying {
		p.releaseAllLocked()
	}
}

func (p *Player) releaseAllLocked() {
	p.pool.ReleaseAll()
	p.metro.ReleaseAll()
}

func (p *Player) setStateLocked(s State) {
	if p.state == s {
		return
	}
	p.log.Debug("transport", "from", p.state, "to", s)
	p.state = s
	p.sendEvent(PlaybackEvent{Kind: EventStateChanged, State: s, Time: p.transport.Seconds()})
}

func (p *Player) signalDoneLocked() {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
}

// onBlock runs on the audio thread after every block rendered while the
// transport is started. The position the engine passes was sampled before
// the voices rendered; a seek, stop or rate change may have landed since, so
// the clock is read again under p.mu.
func (p *Player) onBlock(float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing || p.song == nil {
		return
	}
	pos := p.transport.Seconds()
	if dur := p.durationLocked(); pos >= dur {
		p.sendEvent(PlaybackEvent{Kind: EventTime, State: Playing, Time: dur})
		p.log.Debug("end of track", "duration", dur)
		p.stopLocked()
		p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded, State: Ready})
		p.signalDoneLocked()
		return
	}
	if pos < p.lastTime || pos-p.lastTime >= p.timeEvery {
		p.lastTime = pos
		p.sendEvent(PlaybackEvent{Kind: EventTime, State: Playing, Time: pos})
	}
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

// Watch returns a channel that receives playback events. The channel is
// buffered; events are dropped rather than blocking the audio thread when
// it is full. Only the most recent Watch() channel receives events.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 32)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// ToggleMute flips the mute state of track i and returns the new value.
func (p *Player) ToggleMute(i int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrClosed
	}
	muted, err := p.pool.ToggleMute(i)
	if err != nil {
		return false, err
	}
	p.sendEvent(PlaybackEvent{Kind: EventTracksChanged, State: p.state})
	return muted, nil
}

// SetTrackVolume sets the unmuted level of track i in dB.
func (p *Player) SetTrackVolume(i int, db float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.pool.SetVolume(i, db); err != nil {
		return err
	}
	p.sendEvent(PlaybackEvent{Kind: EventTracksChanged, State: p.state})
	return nil
}

// SetInstrument rebuilds every track voice as kind. Scheduled parts are
// untouched, so playback continues without dropping notes.
func (p *Player) SetInstrument(kind instrument.Kind) error {
	if !kind.Valid() {
		return invalid("unknown instrument")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if kind == p.instrument {
		return nil
	}
	if p.song != nil {
		if err := p.pool.SetInstrument(kind); err != nil {
			return err
		}
	}
	p.instrument = kind
	p.log.Debug("instrument", "kind", kind)
	p.sendEvent(PlaybackEvent{Kind: EventTracksChanged, State: p.state})
	return nil
}

// SetTranspose shifts every voice by semitones, now and for voices built
// later.
func (p *Player) SetTranspose(semitones int) error {
	if semitones < -maxTranspose || semitones > maxTranspose {
		return invalid("transpose out of range")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.transpose = semitones
	p.pool.SetTranspose(semitones)
	return nil
}

// SetPlaybackRate rebuilds the parts at rate from the loaded song. The
// position is rescaled so playback continues from the same musical point.
func (p *Player) SetPlaybackRate(rate float64) error {
	if err := validRate(rate); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if rate == p.rate {
		return nil
	}
	if p.song == nil {
		p.rate = rate
		return nil
	}
	wasPlaying := p.state == Playing
	if wasPlaying {
		p.transport.Pause()
		p.releaseAllLocked()
	}
	pos := p.transport.Seconds() * p.rate / rate
	if err := p.sched.Build(p.song.Tracks, rate); err != nil {
		if wasPlaying {
			p.transport.Start()
		}
		return err
	}
	p.transport.Seek(pos)
	p.rate = rate
	p.lastTime = pos
	p.metro.SetInterval(metronome.BeatInterval(p.song.BPM, rate))
	if wasPlaying {
		p.transport.Start()
	}
	p.log.Debug("playback rate", "rate", rate, "position", pos)
	p.sendEvent(PlaybackEvent{Kind: EventTime, State: p.state, Time: pos})
	return nil
}

func (p *Player) ToggleMetronome(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.metro.Toggle(on)
}

func (p *Player) SetMetronomeSound(c instrument.Click) error {
	if !c.Valid() {
		return invalid("unknown click sound")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.metro.SetSound(c)
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) Transport() TransportState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return TransportState{
		State:       p.state,
		Playing:     p.state == Playing,
		CurrentTime: p.transport.Seconds(),
		Duration:    p.durationLocked(),
	}
}

// CurrentTime reads the transport clock in seconds.
func (p *Player) CurrentTime() float64 {
	return p.transport.Seconds()
}

// Duration is the loaded song's length at the current playback rate.
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durationLocked()
}

func (p *Player) durationLocked() float64 {
	if p.song == nil {
		return 0
	}
	return scheduler.ScaledDuration(p.song.Duration, p.rate)
}

func (p *Player) Tracks() []TrackControl {
	p.mu.Lock()
	defer p.mu.Unlock()
	controls := p.pool.Controls()
	out := make([]TrackControl, len(controls))
	for i, c := range controls {
		name := midifile.DisplayName(i, "")
		if i < len(p.names) {
			name = p.names[i]
		}
		out[i] = TrackControl{
			Name:       name,
			Muted:      c.Muted,
			Volume:     c.Volume,
			Instrument: p.instrument.String(),
		}
	}
	return out
}

func (p *Player) Config() PlaybackConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlaybackConfig{
		Instrument:     p.instrument,
		Transpose:      p.transpose,
		PlaybackRate:   p.rate,
		MetronomeOn:    p.metro.On(),
		MetronomeSound: p.metro.Sound(),
	}
}

func (p *Player) SampleRate() int {
	return p.sampleRate
}

// Render drives the engine directly, for players built with
// WithOfflineRendering.
func (p *Player) Render(dst []float32) {
	p.source.Process(dst)
}

// Close tears everything down: stop the clock, release all notes, dispose
// the parts and the metronome loop, dispose the voices, then close the
// device.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.loadSeq++
	p.transport.Stop()
	p.releaseAllLocked()
	p.sched.Dispose()
	_ = p.metro.Toggle(false)
	p.pool.Dispose()
	p.metro.Dispose()
	p.cancelObs()
	p.setStateLocked(Idle)
	p.signalDoneLocked()
	out := p.out
	p.out = nil
	p.mu.Unlock()

	if out != nil {
		return out.Close()
	}
	return nil
}
