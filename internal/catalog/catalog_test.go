package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotSaveLoad_roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movies.json")

	s := &Snapshot{
		Kind:       KindMovie,
		Scope:      "home",
		FetchedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Categories: []Category{{ID: "1", Name: "Action"}},
		Movies: []Movie{{
			StreamID: 100, Name: "Test Movie", CategoryID: "1", Extension: "mp4", ExternalID: "123",
			Details: Details{Plot: "Boom", Year: "2020"},
		}},
	}
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Kind != KindMovie || got.Scope != "home" || !got.FetchedAt.Equal(s.FetchedAt) {
		t.Errorf("header: %+v", got)
	}
	if len(got.Movies) != 1 || got.Movies[0].StreamID != 100 || got.Movies[0].Plot != "Boom" || got.Movies[0].ExternalID != "123" {
		t.Errorf("movies: %+v", got.Movies)
	}
	if len(got.Categories) != 1 || got.Categories[0].Name != "Action" {
		t.Errorf("categories: %+v", got.Categories)
	}
}

func TestSnapshotSave_atomicAndPrivate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "series.json")

	s := &Snapshot{Kind: KindSeries}
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Overwrite; the second save must replace, not append.
	s.Series = []Series{{SeriesID: 7, Name: "Show"}}
	if err := s.Save(path); err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "series.json" {
			t.Errorf("unexpected file left in dir: %s", e.Name())
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("file mode = %o, want 0600", mode)
	}
	got, err := LoadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Series) != 1 || got.Series[0].SeriesID != 7 {
		t.Errorf("series: %+v", got.Series)
	}
}

func TestLoadSnapshot_missingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSnapshot(filepath.Join(dir, "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(bad); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"movie": KindMovie, "movies": KindMovie, "vod": KindMovie,
		"series": KindSeries, "shows": KindSeries, "live": KindLive,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseKind("radio"); err == nil {
		t.Error("ParseKind(radio): expected error")
	}
	if KindMovie.Plural() != "movies" || KindSeries.Plural() != "series" {
		t.Error("Plural")
	}
	if KindLive.Valid() {
		t.Error("live must not be a reconciled kind")
	}
}

func TestDetailsMerge(t *testing.T) {
	a := Details{Plot: "from list", Rating: ""}
	b := Details{Plot: "from detail", Rating: "7.5", Cover: "http://img/c.jpg"}
	got := a.Merge(b)
	if got.Plot != "from list" || got.Rating != "7.5" || got.Cover != "http://img/c.jpg" {
		t.Errorf("Merge = %+v", got)
	}
}

func decodeFields(t *testing.T, raw string) Fields {
	t.Helper()
	var f Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFields_looseTypes(t *testing.T) {
	f := decodeFields(t, `{"stream_id":"100","num":12,"rating":8.25,"tmdb":null,"flag":true,"neg":"-3","float_id":"42.0","bad":"abc"}`)

	if n, ok := f.Int("stream_id"); !ok || n != 100 {
		t.Errorf("Int(stream_id) = %d, %v", n, ok)
	}
	if n, ok := f.Int("num"); !ok || n != 12 {
		t.Errorf("Int(num) = %d, %v", n, ok)
	}
	if n, ok := f.Int("float_id"); !ok || n != 42 {
		t.Errorf("Int(float_id) = %d, %v", n, ok)
	}
	if _, ok := f.Int("bad", "missing", "tmdb"); ok {
		t.Error("Int(bad) should not parse")
	}
	if s := f.String("rating"); s != "8.25" {
		t.Errorf("String(rating) = %q", s)
	}
	if s := f.String("tmdb"); s != "" {
		t.Errorf("String(null) = %q", s)
	}
	if s := f.String("missing", "num"); s != "12" {
		t.Errorf("String fallback = %q", s)
	}
}

func TestMovieFromFields(t *testing.T) {
	f := decodeFields(t, `{"stream_id":100,"name":"Test Movie","category_id":1,"container_extension":"mp4","tmdb":"123","plot":"p","backdrop_path":["http://img/b.jpg"]}`)
	m, ok := MovieFromFields(f)
	if !ok {
		t.Fatal("expected ok")
	}
	if m.StreamID != 100 || m.Name != "Test Movie" || m.CategoryID != "1" || m.Extension != "mp4" || m.ExternalID != "123" {
		t.Errorf("movie = %+v", m)
	}
	if m.Plot != "p" || m.Backdrop != "http://img/b.jpg" {
		t.Errorf("details = %+v", m.Details)
	}

	if _, ok := MovieFromFields(decodeFields(t, `{"name":"no id"}`)); ok {
		t.Error("row without stream_id must be dropped")
	}
	if _, ok := MovieFromFields(decodeFields(t, `{"stream_id":"x1"}`)); ok {
		t.Error("row with unparseable stream_id must be dropped")
	}
}

func TestEpisodeFromFields(t *testing.T) {
	e, ok := EpisodeFromFields(decodeFields(t, `{"id":"555","episode_num":"1","title":"Pilot","container_extension":"mkv"}`), 1)
	if !ok || e.ID != 555 || e.Number != 1 || e.Season != 1 || e.Title != "Pilot" || e.Extension != "mkv" {
		t.Errorf("episode = %+v ok=%v", e, ok)
	}
	if _, ok := EpisodeFromFields(decodeFields(t, `{"id":"555"}`), 1); ok {
		t.Error("episode without number must be dropped")
	}
	if n, ok := ParseSeasonKey("2"); !ok || n != 2 {
		t.Errorf("ParseSeasonKey(2) = %d, %v", n, ok)
	}
	for _, bad := range []string{"-1", "S1", ""} {
		if _, ok := ParseSeasonKey(bad); ok {
			t.Errorf("ParseSeasonKey(%q) should fail", bad)
		}
	}
}
