// Package instrument builds track and metronome voices from named presets.
package instrument

import (
	_ "embed"
	"os"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"github.com/sinshu/go-meltysynth/meltysynth"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/hymnplayer-go/internal/engine"
	"github.com/cbegin/hymnplayer-go/internal/synth"
)

//go:embed presets.yaml
var defaultPresets []byte

// Kind is the instrument used for every track voice.
type Kind int

const (
	Piano Kind = iota
	Organ
	Choir
)

var kindNames = [...]string{"piano", "organ", "choir"}

var kindDetails = [...]string{"grand", "pipe", "synth"}

func Kinds() []Kind {
	return []Kind{Piano, Organ, Choir}
}

// Valid reports whether k is one of the declared instruments.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

func (k Kind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return kindNames[k]
}

// Label is the display name, e.g. "Organ (Pipe)".
func (k Kind) Label() string {
	if !k.Valid() {
		return "Unknown"
	}
	title := cases.Title(language.English)
	return title.String(kindNames[k]) + " (" + title.String(kindDetails[k]) + ")"
}

// Next cycles through the instruments in declaration order.
func (k Kind) Next() Kind {
	return (k + 1) % Kind(len(kindNames))
}

func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Kind(i), nil
		}
	}
	return 0, fault.New("unknown instrument "+s,
		fmsg.WithDesc("unknown instrument", "Choose piano, organ or choir."),
		ftag.With(ftag.InvalidArgument))
}

func (k Kind) MarshalYAML() (any, error) {
	return k.String(), nil
}

func (k *Kind) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := ParseKind(n.Value)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Click is the metronome sound.
type Click int

const (
	ClickSound Click = iota
	Woodblock
	Beep
)

var clickNames = [...]string{"click", "woodblock", "beep"}

func Clicks() []Click {
	return []Click{ClickSound, Woodblock, Beep}
}

func (c Click) Valid() bool {
	return c >= 0 && int(c) < len(clickNames)
}

func (c Click) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return clickNames[c]
}

func (c Click) Label() string {
	if c == Woodblock {
		return "Wood"
	}
	return cases.Title(language.English).String(c.String())
}

func (c Click) Next() Click {
	return (c + 1) % Click(len(clickNames))
}

// Key is the MIDI key the click is triggered with. Woodblock ignores it and
// sounds at its fixed frequency.
func (c Click) Key() float64 {
	switch c {
	case Beep:
		return 84 // C6
	default:
		return 72 // C5
	}
}

func ParseClick(s string) (Click, error) {
	for i, name := range clickNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Click(i), nil
		}
	}
	return 0, fault.New("unknown click sound "+s,
		fmsg.WithDesc("unknown click sound", "Choose click, woodblock or beep."),
		ftag.With(ftag.InvalidArgument))
}

func (c Click) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *Click) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := ParseClick(n.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Presets maps instrument and click names to synth parameters.
type Presets struct {
	Instruments map[string]synth.Params `yaml:"instruments"`
	Clicks      map[string]synth.Params `yaml:"clicks"`

	soundFont *meltysynth.SoundFont
}

// Default returns the built-in presets.
func Default() *Presets {
	p, err := Parse(defaultPresets)
	if err != nil {
		panic(err) // embedded file is validated by tests
	}
	return p
}

// Parse decodes a presets document.
func Parse(data []byte) (*Presets, error) {
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fault.Wrap(err, fmsg.With("decode presets"), ftag.With(ftag.InvalidArgument))
	}
	return &p, nil
}

// LoadFile reads a presets file and overlays it on the built-in presets.
// Entries in the file replace whole built-in entries of the same name.
func LoadFile(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("read presets "+path), ftag.With(ftag.NotFound))
	}
	user, err := Parse(data)
	if err != nil {
		return nil, err
	}
	base := Default()
	base.Overlay(user)
	return base, nil
}

// Overlay copies every entry of o into p.
func (p *Presets) Overlay(o *Presets) {
	if o == nil {
		return
	}
	if p.Instruments == nil {
		p.Instruments = make(map[string]synth.Params)
	}
	if p.Clicks == nil {
		p.Clicks = make(map[string]synth.Params)
	}
	for name, prm := range o.Instruments {
		p.Instruments[name] = prm
	}
	for name, prm := range o.Clicks {
		p.Clicks[name] = prm
	}
}

// WithSoundFont returns a copy of p whose sampled presets play from the SF2
// file at path.
func (p *Presets) WithSoundFont(path string) (*Presets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("open soundfont "+path), ftag.With(ftag.NotFound))
	}
	defer f.Close()
	sf, err := meltysynth.NewSoundFont(f)
	if err != nil {
		return nil, fault.Wrap(err,
			fmsg.WithDesc("decode soundfont "+path, "The file is not a valid SF2 SoundFont."),
			ftag.With(ftag.InvalidArgument))
	}
	cp := *p
	cp.soundFont = sf
	return &cp, nil
}

// NewVoice constructs a fresh voice for kind. Voices are never shared.
// Sampled presets use the FM settings when no SoundFont is loaded.
func (p *Presets) NewVoice(kind Kind, sampleRate int) (engine.Voice, error) {
	prm, ok := p.Instruments[kind.String()]
	if !ok {
		return nil, fault.New("no preset for instrument "+kind.String(), ftag.With(ftag.NotFound))
	}
	if prm.Sampled && p.soundFont != nil {
		v, err := synth.NewSampler(sampleRate, p.soundFont, prm)
		if err != nil {
			return nil, fault.Wrap(err, fmsg.With("sampler for "+kind.String()), ftag.With(ftag.Internal))
		}
		return v, nil
	}
	return synth.NewPoly(sampleRate, prm), nil
}

func (p *Presets) NewClick(c Click, sampleRate int) (*synth.Poly, error) {
	prm, ok := p.Clicks[c.String()]
	if !ok {
		return nil, fault.New("no preset for click "+c.String(), ftag.With(ftag.NotFound))
	}
	return synth.NewPoly(sampleRate, prm), nil
}
