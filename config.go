package hymnplayer

import (
	"math"
	"os"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/hymnplayer-go/internal/instrument"
)

// PlaybackRates lists the rates offered to listeners.
var PlaybackRates = []float64{0.5, 0.75, 1, 1.25, 1.5, 2, 3}

const (
	maxTranspose    = 24
	maxMasterVolume = 2
)

type MetronomeConfig struct {
	Enabled bool             `yaml:"enabled"`
	Sound   instrument.Click `yaml:"sound"`
}

// Config is the file form of the player settings. Zero fields are filled
// from DefaultConfig when loaded.
type Config struct {
	SampleRate         int             `yaml:"sample_rate"`
	Instrument         instrument.Kind `yaml:"instrument"`
	Transpose          int             `yaml:"transpose"`
	PlaybackRate       float64         `yaml:"playback_rate"`
	Metronome          MetronomeConfig `yaml:"metronome"`
	Reverb             float64         `yaml:"reverb"`
	MasterVolume       float64         `yaml:"master_volume"` // linear, 1 is unity
	SoundFont          string          `yaml:"soundfont"`     // optional SF2 for sampled presets
	LogLevel           string          `yaml:"log_level"`
	TimeUpdateInterval time.Duration   `yaml:"time_update_interval"`
	Presets            string          `yaml:"presets"` // optional presets overlay file
}

func DefaultConfig() Config {
	return Config{
		SampleRate:         48000,
		Instrument:         instrument.Organ,
		PlaybackRate:       1,
		Metronome:          MetronomeConfig{Sound: instrument.ClickSound},
		Reverb:             0.15,
		MasterVolume:       1,
		LogLevel:           "info",
		TimeUpdateInterval: 100 * time.Millisecond,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fault.Wrap(err, fmsg.With("read config"), ftag.With(ftag.NotFound))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fault.Wrap(err, fmsg.WithDesc("decode config", "The config file is not valid YAML."),
			ftag.With(ftag.InvalidArgument))
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return invalid("sample rate must be positive")
	}
	if !c.Instrument.Valid() {
		return invalid("unknown instrument")
	}
	if !c.Metronome.Sound.Valid() {
		return invalid("unknown click sound")
	}
	if err := validRate(c.PlaybackRate); err != nil {
		return err
	}
	if c.Transpose < -maxTranspose || c.Transpose > maxTranspose {
		return invalid("transpose out of range")
	}
	if c.Reverb < 0 || c.Reverb > 1 || math.IsNaN(c.Reverb) {
		return invalid("reverb must be between 0 and 1")
	}
	if c.MasterVolume < 0 || c.MasterVolume > maxMasterVolume || math.IsNaN(c.MasterVolume) {
		return invalid("master volume must be between 0 and 2")
	}
	if c.TimeUpdateInterval < 0 {
		return invalid("time update interval must not be negative")
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			return fault.Wrap(err, fmsg.With("log level"), ftag.With(ftag.InvalidArgument))
		}
	}
	return nil
}

func validRate(rate float64) error {
	for _, r := range PlaybackRates {
		if rate == r {
			return nil
		}
	}
	return invalid("unsupported playback rate")
}

func invalid(msg string) error {
	return fault.New(msg, ftag.With(ftag.InvalidArgument))
}

// presets resolves the preset set named by the config.
func (c Config) presets() (*instrument.Presets, error) {
	if c.Presets == "" {
		return instrument.Default(), nil
	}
	return instrument.LoadFile(c.Presets)
}
