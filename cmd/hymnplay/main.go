package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/cbegin/hymnplayer-go"
	"github.com/cbegin/hymnplayer-go/internal/instrument"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		instName   = flag.String("instrument", "", "instrument: piano|organ|choir")
		transpose  = flag.Int("transpose", 0, "transpose in semitones (-24..+24)")
		rate       = flag.Float64("rate", 0, "playback rate: 0.5|0.75|1|1.25|1.5|2|3")
		metronome  = flag.Bool("metronome", false, "start with the metronome on")
		clickName  = flag.String("click", "", "metronome sound: click|woodblock|beep")
		sampleRate = flag.Int("sample-rate", 0, "output sample rate")
		volume     = flag.Float64("volume", 1, "master volume (0..2)")
		soundFont  = flag.String("soundfont", "", "SF2 file for sampled instruments")
		wavPath    = flag.String("wav", "", "render to a WAV file instead of playing")
		seconds    = flag.Float64("seconds", 0, "with -wav, seconds to render (0 = whole song)")
		useTUI     = flag.Bool("tui", false, "interactive terminal UI")
		logLevel   = flag.String("log-level", "", "debug|info|warn|error")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.mid|url>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	src := flag.Arg(0)

	cfg := hymnplayer.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = hymnplayer.LoadConfig(*configPath); err != nil {
			log.Fatal("config", "err", err)
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyFlags(&cfg, set, flagValues{
		instrument: *instName,
		transpose:  *transpose,
		rate:       *rate,
		metronome:  *metronome,
		click:      *clickName,
		sampleRate: *sampleRate,
		volume:     *volume,
		soundFont:  *soundFont,
		logLevel:   *logLevel,
	}); err != nil {
		log.Fatal("flags", "err", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "hymnplay", ReportTimestamp: true})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *wavPath != "" {
		if err := renderWAV(ctx, src, *wavPath, *seconds, cfg, logger); err != nil {
			logger.Fatal("render", "err", err)
		}
		return
	}

	var meter *levelMeter
	opts := []hymnplayer.PlayerOption{hymnplayer.WithConfig(cfg), hymnplayer.WithLogger(logger)}
	if *useTUI {
		meter = newLevelMeter()
		opts = append(opts, hymnplayer.WithSampleTap(meter.Tap))
		// The TUI owns the terminal; keep log lines out of it.
		logger.SetLevel(log.ErrorLevel)
	}
	pl, err := hymnplayer.NewPlayer(cfg.SampleRate, opts...)
	if err != nil {
		logger.Fatal("player", "err", err)
	}
	defer pl.Close()

	if *useTUI {
		if err := runTUI(ctx, pl, src, meter); err != nil {
			logger.Error("tui", "err", err)
		}
		return
	}
	if err := play(ctx, pl, src, logger); err != nil {
		logger.Error("play", "err", err)
		pl.Close()
		os.Exit(1)
	}
}

type flagValues struct {
	instrument string
	transpose  int
	rate       float64
	metronome  bool
	click      string
	sampleRate int
	volume     float64
	soundFont  string
	logLevel   string
}

// applyFlags overrides config fields for the flags that were given.
func applyFlags(cfg *hymnplayer.Config, set map[string]bool, v flagValues) error {
	if set["instrument"] {
		k, err := instrument.ParseKind(v.instrument)
		if err != nil {
			return err
		}
		cfg.Instrument = k
	}
	if set["click"] {
		c, err := instrument.ParseClick(v.click)
		if err != nil {
			return err
		}
		cfg.Metronome.Sound = c
	}
	if set["transpose"] {
		cfg.Transpose = v.transpose
	}
	if set["rate"] {
		cfg.PlaybackRate = v.rate
	}
	if set["metronome"] {
		cfg.Metronome.Enabled = v.metronome
	}
	if set["sample-rate"] {
		cfg.SampleRate = v.sampleRate
	}
	if set["volume"] {
		cfg.MasterVolume = v.volume
	}
	if set["soundfont"] {
		cfg.SoundFont = v.soundFont
	}
	if set["log-level"] {
		cfg.LogLevel = strings.ToLower(v.logLevel)
	}
	return cfg.Validate()
}

// play loads src and prints transport events until the song ends or ctx is
// cancelled.
func play(ctx context.Context, pl *hymnplayer.Player, src string, logger *log.Logger) error {
	events := pl.Watch()
	if err := pl.Load(ctx, src); err != nil {
		return err
	}
	for i, tr := range pl.Tracks() {
		logger.Info("track", "n", i+1, "name", tr.Name, "instrument", tr.Instrument)
	}
	if err := pl.Play(); err != nil {
		return err
	}
	duration := pl.Duration()
	for {
		select {
		case <-ctx.Done():
			return pl.Stop()
		case ev := <-events:
			switch ev.Kind {
			case hymnplayer.EventTime:
				if ev.State == hymnplayer.Playing {
					fmt.Printf("\r%s / %s", clock(ev.Time), clock(duration))
				}
			case hymnplayer.EventStateChanged:
				logger.Debug("state", "state", ev.State)
			case hymnplayer.EventPlaybackEnded:
				fmt.Println()
				logger.Info("playback completed")
				return nil
			}
		}
	}
}

func renderWAV(ctx context.Context, src, path string, seconds float64, cfg hymnplayer.Config, logger *log.Logger) error {
	samples, sr, err := hymnplayer.RenderSong(ctx, src, seconds, hymnplayer.WithConfig(cfg), hymnplayer.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, hymnplayer.EncodeWAVFloat32LE(samples, sr, 2), 0o644); err != nil {
		return err
	}
	logger.Info("wrote", "path", path, "seconds", float64(len(samples)/2)/float64(sr))
	return nil
}

func clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
