// Package midifile loads Standard MIDI Files into seconds-based note lists.
package midifile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const defaultBPM = 120

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note is one parsed note. Times are seconds at playback rate 1.
type Note struct {
	Key      uint8
	Start    float64
	Duration float64
	Velocity float64 // 0..1
}

// Pitch returns the scientific pitch name, "C4" for key 60.
func (n Note) Pitch() string {
	return fmt.Sprintf("%s%d", pitchNames[n.Key%12], int(n.Key)/12-1)
}

func (n Note) End() float64 {
	return n.Start + n.Duration
}

type Track struct {
	Name  string
	Notes []Note
}

var partNames = [...]string{"Soprano", "Alto", "Tenor", "Bass"}

// DisplayName labels track i for the UI. The first four tracks are the
// hymn's SATB parts regardless of what the file calls them.
func DisplayName(i int, fileName string) string {
	if i >= 0 && i < len(partNames) {
		return partNames[i]
	}
	if strings.TrimSpace(fileName) != "" {
		return fileName
	}
	return fmt.Sprintf("Track %d", i+1)
}

type Song struct {
	Duration float64 // end of the latest note
	BPM      float64 // first tempo in the file
	Tracks   []Track
}

// FetchError reports a source that could not be read.
type FetchError struct {
	Src string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Src, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a source that was read but is not a usable MIDI file.
type ParseError struct {
	Src string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Src, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads src, which is an http(s) URL, a file URL or a local path.
func Load(ctx context.Context, src string) (*Song, error) {
	data, err := fetch(ctx, src)
	if err != nil {
		return nil, &FetchError{Src: src, Err: err}
	}
	song, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Src: src, Err: err}
	}
	return song, nil
}

func fetch(ctx context.Context, src string) ([]byte, error) {
	u, err := url.Parse(src)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return fetchHTTP(ctx, src)
		case "file":
			src = u.Path
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(err, ftag.With(ftag.Cancelled))
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("read midi file"), ftag.With(ftag.NotFound))
	}
	return data, nil
}

func fetchHTTP(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fault.Wrap(err, ftag.With(ftag.InvalidArgument))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("request midi file"))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tag := ftag.Internal
		if resp.StatusCode == http.StatusNotFound {
			tag = ftag.NotFound
		}
		return nil, fault.New(fmt.Sprintf("unexpected status %s", resp.Status), ftag.With(tag))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("read response body"))
	}
	return data, nil
}

// Parse decodes an SMF stream. Only metric (ticks per quarter) time formats
// are supported. Tracks without notes are dropped.
func Parse(r io.Reader) (*Song, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("read smf"), ftag.With(ftag.InvalidArgument))
	}
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || ticks.Resolution() == 0 {
		return nil, fault.New("unsupported time format", ftag.With(ftag.InvalidArgument))
	}
	tm := newTempoMap(s.Tracks, float64(ticks.Resolution()))

	song := &Song{BPM: tm.first()}
	for _, tr := range s.Tracks {
		track := parseTrack(tr, tm)
		if len(track.Notes) == 0 {
			continue
		}
		for _, n := range track.Notes {
			song.Duration = max(song.Duration, n.End())
		}
		song.Tracks = append(song.Tracks, track)
	}
	return song, nil
}

type openNote struct {
	tick     uint64
	velocity uint8
}

func parseTrack(tr smf.Track, tm *tempoMap) Track {
	var out Track
	open := make(map[[2]uint8]openNote)
	var tick uint64
	closeNote := func(id [2]uint8, at uint64) {
		on, ok := open[id]
		if !ok {
			return
		}
		delete(open, id)
		start := tm.seconds(on.tick)
		out.Notes = append(out.Notes, Note{
			Key:      id[1],
			Start:    start,
			Duration: tm.seconds(at) - start,
			Velocity: float64(on.velocity) / 127,
		})
	}
	for _, ev := range tr {
		tick += uint64(ev.Delta)
		var name string
		if ev.Message.GetMetaTrackName(&name) && out.Name == "" {
			out.Name = strings.TrimSpace(name)
			continue
		}
		var ch, key, vel uint8
		msg := midi.Message(ev.Message)
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			id := [2]uint8{ch, key}
			closeNote(id, tick)
			open[id] = openNote{tick: tick, velocity: vel}
		case msg.GetNoteEnd(&ch, &key):
			closeNote([2]uint8{ch, key}, tick)
		}
	}
	ids := make([][2]uint8, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i][0] < ids[j][0] || ids[i][0] == ids[j][0] && ids[i][1] < ids[j][1]
	})
	for _, id := range ids {
		closeNote(id, tick)
	}
	sort.SliceStable(out.Notes, func(i, j int) bool { return out.Notes[i].Start < out.Notes[j].Start })
	return out
}
