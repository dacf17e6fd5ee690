package hymnplayer

import (
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cbegin/hymnplayer-go/internal/instrument"
	"github.com/cbegin/hymnplayer-go/internal/metronome"
	"github.com/cbegin/hymnplayer-go/internal/pool"
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	cfg          Config
	logger       *log.Logger
	presets      *instrument.Presets
	offline      bool
	sampleTap    func([]float32)
	voiceFactory pool.Factory
	clickFactory metronome.Factory
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{cfg: DefaultConfig()}
}

// WithConfig replaces every setting with cfg. Options after it still apply.
func WithConfig(cfg Config) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg = cfg
	}
}

func WithInstrument(kind instrument.Kind) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.Instrument = kind
	}
}

// WithTranspose sets the initial transposition in semitones.
func WithTranspose(semitones int) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.Transpose = semitones
	}
}

func WithPlaybackRate(rate float64) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.PlaybackRate = rate
	}
}

func WithMetronome(on bool, sound instrument.Click) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.Metronome = MetronomeConfig{Enabled: on, Sound: sound}
	}
}

// WithReverb sets the master reverb wet level, 0 to disable.
func WithReverb(wet float64) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.Reverb = wet
	}
}

// WithMasterVolume scales the final mix; 1 is unity.
func WithMasterVolume(v float64) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.MasterVolume = v
	}
}

// WithSoundFont names an SF2 file for presets marked as sampled. Without one
// those presets fall back to their synthesized timbre.
func WithSoundFont(path string) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.SoundFont = path
	}
}

func WithLogger(logger *log.Logger) PlayerOption {
	return func(pc *playerConfig) {
		pc.logger = logger
	}
}

func WithPresets(p *instrument.Presets) PlayerOption {
	return func(pc *playerConfig) {
		pc.presets = p
	}
}

// WithOfflineRendering skips the audio device. The caller drives the clock
// with Render.
func WithOfflineRendering() PlayerOption {
	return func(pc *playerConfig) {
		pc.offline = true
	}
}

// WithTimeUpdateInterval bounds how often EventTime is sent, in transport
// time. Zero sends one per rendered block.
func WithTimeUpdateInterval(d time.Duration) PlayerOption {
	return func(pc *playerConfig) {
		pc.cfg.TimeUpdateInterval = d
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(pc *playerConfig) {
		pc.sampleTap = tap
	}
}

// withVoiceFactories replaces synth construction, for tests.
func withVoiceFactories(voices pool.Factory, clicks metronome.Factory) PlayerOption {
	return func(pc *playerConfig) {
		pc.voiceFactory = voices
		pc.clickFactory = clicks
	}
}

func (pc *playerConfig) newLogger() *log.Logger {
	if pc.logger != nil {
		return pc.logger
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "hymnplayer",
		ReportTimestamp: true,
	})
	if lvl, err := log.ParseLevel(pc.cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}
