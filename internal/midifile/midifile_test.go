package midifile

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const resolution = 480

type step struct {
	delta uint32
	msg   []byte
}

func on(delta uint32, key, vel uint8) step { return step{delta, midi.NoteOn(0, key, vel)} }
func off(delta uint32, key uint8) step    { return step{delta, midi.NoteOff(0, key)} }

func buildSMF(t *testing.T, tempo []step, tracks ...[]step) []byte {
	t.Helper()
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(resolution)
	all := append([][]step{tempo}, tracks...)
	for _, steps := range all {
		var tr smf.Track
		for _, s := range steps {
			tr.Add(s.delta, s.msg)
		}
		tr.Close(0)
		if err := sm.Add(tr); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func tempo120() []step {
	return []step{{0, smf.MetaTempo(120)}}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestParseConvertsTicksToSeconds(t *testing.T) {
	data := buildSMF(t, tempo120(), []step{
		{0, smf.MetaTrackSequenceName("Melody")},
		on(0, 60, 100),
		off(480, 60),
		on(480, 64, 127),
		off(240, 64),
	})
	song, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(song.Tracks) != 1 {
		t.Fatalf("tracks = %d, want 1 (tempo track dropped)", len(song.Tracks))
	}
	tr := song.Tracks[0]
	if tr.Name != "Melody" {
		t.Fatalf("name = %q", tr.Name)
	}
	if len(tr.Notes) != 2 {
		t.Fatalf("notes = %+v", tr.Notes)
	}
	first, second := tr.Notes[0], tr.Notes[1]
	if first.Key != 60 || !near(first.Start, 0) || !near(first.Duration, 0.5) || !near(first.Velocity, 100.0/127) {
		t.Fatalf("first note = %+v", first)
	}
	if second.Key != 64 || !near(second.Start, 1) || !near(second.Duration, 0.25) || second.Velocity != 1 {
		t.Fatalf("second note = %+v", second)
	}
	if !near(song.Duration, 1.25) || song.BPM != 120 {
		t.Fatalf("duration=%v bpm=%v", song.Duration, song.BPM)
	}
}

func TestParseFollowsTempoChanges(t *testing.T) {
	data := buildSMF(t,
		[]step{{0, smf.MetaTempo(120)}, {960, smf.MetaTempo(60)}},
		[]step{on(1440, 67, 90), off(480, 67)},
	)
	song, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	n := song.Tracks[0].Notes[0]
	if !near(n.Start, 2) || !near(n.Duration, 1) {
		t.Fatalf("note = %+v, want start 2 duration 1", n)
	}
}

func TestParseDefaultsTo120BPM(t *testing.T) {
	data := buildSMF(t, nil, []step{on(0, 60, 64), off(960, 60)})
	song, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if song.BPM != 120 || !near(song.Duration, 1) {
		t.Fatalf("bpm=%v duration=%v", song.BPM, song.Duration)
	}
}

func TestZeroVelocityNoteOnEndsNote(t *testing.T) {
	data := buildSMF(t, tempo120(), []step{on(0, 62, 80), on(240, 62, 0)})
	song, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	notes := song.Tracks[0].Notes
	if len(notes) != 1 || !near(notes[0].Duration, 0.25) {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestRetriggerAndDanglingNotes(t *testing.T) {
	data := buildSMF(t, tempo120(), []step{
		on(0, 60, 80),
		on(480, 60, 80), // closes the first
		on(0, 72, 80),
		off(480, 72),
		// key 60 is never released; it ends with the track
	})
	song, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	notes := song.Tracks[0].Notes
	if len(notes) != 3 {
		t.Fatalf("notes = %+v", notes)
	}
	if !near(notes[0].Duration, 0.5) {
		t.Fatalf("retriggered note = %+v", notes[0])
	}
	for _, n := range notes[1:] {
		if !near(n.Start, 0.5) || !near(n.Duration, 0.5) {
			t.Fatalf("note = %+v", n)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(bytes.NewReader([]byte("not a midi file"))); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPitchNames(t *testing.T) {
	for key, want := range map[uint8]string{60: "C4", 63: "D#4", 69: "A4", 21: "A0", 0: "C-1", 127: "G9"} {
		if got := (Note{Key: key}).Pitch(); got != want {
			t.Fatalf("Pitch(%d) = %q, want %q", key, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	for _, tc := range []struct {
		i    int
		file string
		want string
	}{
		{0, "Piano RH", "Soprano"},
		{3, "", "Bass"},
		{4, "Descant", "Descant"},
		{5, "  ", "Track 6"},
	} {
		if got := DisplayName(tc.i, tc.file); got != tc.want {
			t.Fatalf("DisplayName(%d, %q) = %q, want %q", tc.i, tc.file, got, tc.want)
		}
	}
}

func TestLoadFromHTTP(t *testing.T) {
	data := buildSMF(t, tempo120(), []step{on(0, 60, 100), off(480, 60)})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hymn.mid":
			w.Write(data)
		case "/broken.mid":
			w.Write([]byte("garbage"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	song, err := Load(context.Background(), srv.URL+"/hymn.mid")
	if err != nil {
		t.Fatal(err)
	}
	if len(song.Tracks) != 1 {
		t.Fatalf("tracks = %d", len(song.Tracks))
	}

	_, err = Load(context.Background(), srv.URL+"/missing.mid")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("want FetchError, got %v", err)
	}

	_, err = Load(context.Background(), srv.URL+"/broken.mid")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("want ParseError, got %v", err)
	}
}

func TestLoadHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, filepath.Join(t.TempDir(), "x.mid"))
	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want cancelled FetchError, got %v", err)
	}
}

func TestLoadFromPathAndFileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hymn.mid")
	if err := os.WriteFile(path, buildSMF(t, tempo120(), []step{on(0, 60, 100), off(480, 60)}), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, src := range []string{path, "file://" + path} {
		song, err := Load(context.Background(), src)
		if err != nil {
			t.Fatalf("%s: %v", src, err)
		}
		if !near(song.Duration, 0.5) {
			t.Fatalf("%s: duration = %v", src, song.Duration)
		}
	}
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.mid"))
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("want FetchError, got %v", err)
	}
}
