package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/hymnplayer-go"
)

const (
	barWidth   = 40
	meterWidth = 20
	refresh    = 50 * time.Millisecond
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type loadedMsg struct{ err error }

type eventMsg hymnplayer.PlaybackEvent

type tickMsg time.Time

type model struct {
	ctx    context.Context
	pl     *hymnplayer.Player
	src    string
	events <-chan hymnplayer.PlaybackEvent
	meter  *levelMeter

	state    hymnplayer.State
	now      float64
	duration float64
	tracks   []hymnplayer.TrackControl
	cfg      hymnplayer.PlaybackConfig
	err      error
}

func runTUI(ctx context.Context, pl *hymnplayer.Player, src string, meter *levelMeter) error {
	m := model{ctx: ctx, pl: pl, src: src, events: pl.Watch(), meter: meter, state: pl.State(), cfg: pl.Config()}
	prog := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		prog.Quit()
	}()
	_, err := prog.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.waitEvent(), tick())
}

func (m model) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.pl.Load(m.ctx, m.src)}
	}
}

func (m model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		m.err = msg.err
		m.refresh()
		if msg.err == nil {
			m.err = m.pl.Play()
		}
		return m, nil
	case eventMsg:
		switch msg.Kind {
		case hymnplayer.EventTime:
			m.now = msg.Time
		case hymnplayer.EventLoadFailed:
			m.err = msg.Err
		}
		m.refresh()
		return m, m.waitEvent()
	case tickMsg:
		return m, tick()
	case tea.KeyMsg:
		return m.key(msg.String())
	}
	return m, nil
}

func (m model) key(k string) (tea.Model, tea.Cmd) {
	var err error
	switch k {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ":
		if m.state == hymnplayer.Playing {
			err = m.pl.Pause()
		} else {
			err = m.pl.Play()
		}
	case "s":
		err = m.pl.Stop()
	case "r":
		err = m.pl.Replay()
	case "i":
		err = m.pl.SetInstrument(m.cfg.Instrument.Next())
	case "+", "=":
		err = m.pl.SetTranspose(m.cfg.Transpose + 1)
	case "-", "_":
		err = m.pl.SetTranspose(m.cfg.Transpose - 1)
	case "[":
		err = m.pl.SetPlaybackRate(stepRate(m.cfg.PlaybackRate, -1))
	case "]":
		err = m.pl.SetPlaybackRate(stepRate(m.cfg.PlaybackRate, 1))
	case "m":
		err = m.pl.ToggleMetronome(!m.cfg.MetronomeOn)
	case "c":
		err = m.pl.SetMetronomeSound(m.cfg.MetronomeSound.Next())
	default:
		if len(k) == 1 && k[0] >= '1' && k[0] <= '9' {
			_, err = m.pl.ToggleMute(int(k[0] - '1'))
		} else {
			return m, nil
		}
	}
	m.err = err
	m.refresh()
	return m, nil
}

// stepRate moves dir steps through the offered playback rates, stopping at
// either end.
func stepRate(cur float64, dir int) float64 {
	rates := hymnplayer.PlaybackRates
	i := 0
	for j, r := range rates {
		if r == cur {
			i = j
		}
	}
	i = min(max(i+dir, 0), len(rates)-1)
	return rates[i]
}

func (m *model) refresh() {
	ts := m.pl.Transport()
	m.state = ts.State
	m.duration = ts.Duration
	if ts.State != hymnplayer.Playing {
		m.now = ts.CurrentTime
	}
	m.tracks = m.pl.Tracks()
	m.cfg = m.pl.Config()
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("♪ " + filepath.Base(m.src)))
	b.WriteString("  " + labelStyle.Render(m.state.String()) + "\n\n")

	b.WriteString(progress(m.now, m.duration) + "\n")
	if m.meter != nil {
		b.WriteString(labelStyle.Render("level ") + meterBar(m.meter.Level()) + "\n")
	}
	b.WriteString("\n")

	for i, tr := range m.tracks {
		line := fmt.Sprintf("%d %-8s", i+1, tr.Name)
		if tr.Muted {
			b.WriteString(mutedStyle.Render(line) + labelStyle.Render(" muted") + "\n")
		} else {
			b.WriteString(activeStyle.Render(line) + "\n")
		}
	}
	b.WriteString("\n")

	click := "off"
	if m.cfg.MetronomeOn {
		click = m.cfg.MetronomeSound.Label()
	}
	settings := fmt.Sprintf("%s %s   %s %+d   %s %gx   %s %s",
		labelStyle.Render("instrument"), m.cfg.Instrument.Label(),
		labelStyle.Render("transpose"), m.cfg.Transpose,
		labelStyle.Render("rate"), m.cfg.PlaybackRate,
		labelStyle.Render("metronome"), click)
	b.WriteString(settings + "\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("space play/pause · s stop · r replay · 1-9 mute · i instrument · +/- transpose · [/] rate · m metronome · c click · q quit"))
	return boxStyle.Render(b.String()) + "\n"
}

func progress(now, duration float64) string {
	filled := 0
	if duration > 0 {
		filled = int(float64(barWidth) * min(max(now/duration, 0), 1))
	}
	bar := activeStyle.Render(strings.Repeat("█", filled)) + labelStyle.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %s / %s", bar, clock(now), clock(duration))
}

func meterBar(db float64) string {
	n := int(float64(meterWidth) * (db + 60) / 60)
	n = min(max(n, 0), meterWidth)
	return activeStyle.Render(strings.Repeat("▮", n)) + labelStyle.Render(strings.Repeat("▯", meterWidth-n))
}
