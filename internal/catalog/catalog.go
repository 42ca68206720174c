package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Kind is the item taxonomy. Reconciliation only knows movies and series;
// playlists additionally tag live channels before refining them.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
	KindLive   Kind = "live"
)

// Valid reports whether k is one of the reconciled kinds.
func (k Kind) Valid() bool { return k == KindMovie || k == KindSeries }

// Plural is the directory / setting flavour of the kind ("movies", "series").
func (k Kind) Plural() string {
	if k == KindMovie {
		return "movies"
	}
	return string(k)
}

// ParseKind accepts "movie", "movies", "series", "live".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "movie", "movies", "vod":
		return KindMovie, nil
	case "series", "show", "shows":
		return KindSeries, nil
	case "live":
		return KindLive, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// Category is a provider category (id → display name).
type Category struct {
	ID   string `json:"category_id"`
	Name string `json:"category_name"`
}

// Details holds the optional rich metadata a provider may return for a movie
// or show. Every field is the raw provider string; typed parsing happens in
// the nfo formatter and never fails.
type Details struct {
	Plot        string `json:"plot,omitempty"`
	Description string `json:"description,omitempty"`
	Year        string `json:"year,omitempty"`
	ReleaseDate string `json:"releasedate,omitempty"`
	Rating      string `json:"rating,omitempty"`
	Rating5     string `json:"rating_5based,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Cast        string `json:"cast,omitempty"`
	Director    string `json:"director,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Trailer     string `json:"youtube_trailer,omitempty"`
	Cover       string `json:"cover_big,omitempty"`
	Backdrop    string `json:"backdrop_path_original,omitempty"`
}

// Merge fills empty fields of d from o.
func (d Details) Merge(o Details) Details {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return Details{
		Plot:        pick(d.Plot, o.Plot),
		Description: pick(d.Description, o.Description),
		Year:        pick(d.Year, o.Year),
		ReleaseDate: pick(d.ReleaseDate, o.ReleaseDate),
		Rating:      pick(d.Rating, o.Rating),
		Rating5:     pick(d.Rating5, o.Rating5),
		Genre:       pick(d.Genre, o.Genre),
		Cast:        pick(d.Cast, o.Cast),
		Director:    pick(d.Director, o.Director),
		Duration:    pick(d.Duration, o.Duration),
		Trailer:     pick(d.Trailer, o.Trailer),
		Cover:       pick(d.Cover, o.Cover),
		Backdrop:    pick(d.Backdrop, o.Backdrop),
	}
}

// Movie is one playable VOD item as returned by get_vod_streams.
type Movie struct {
	StreamID   int    `json:"stream_id"` // stable provider identity
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
	Extension  string `json:"container_extension"`
	ExternalID string `json:"tmdb,omitempty"` // third-party metadata id (TMDB)
	Details
}

// Series is a show stub as returned by get_series. Episodes are fetched
// separately via get_series_info.
type Series struct {
	SeriesID   int    `json:"series_id"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
	ExternalID string `json:"tmdb,omitempty"`
	Details
}

// SeriesInfo is the per-series detail payload.
type SeriesInfo struct {
	Details Details  `json:"info"`
	Seasons []Season `json:"seasons"`
}

// Season holds episodes for one season.
type Season struct {
	Number   int       `json:"number"`
	Episodes []Episode `json:"episodes"`
}

// Episode is a single episode; ID is its own stream id.
type Episode struct {
	ID        int    `json:"id"`
	Season    int    `json:"season"`
	Number    int    `json:"episode_num"`
	Title     string `json:"title"`
	Extension string `json:"container_extension"`
}

// Snapshot is a remote catalog capture for one kind, written for inspection
// when a sync is run with a dump path.
type Snapshot struct {
	Kind       Kind       `json:"kind"`
	Scope      string     `json:"scope,omitempty"`
	FetchedAt  time.Time  `json:"fetched_at"`
	Categories []Category `json:"categories"`
	Movies     []Movie    `json:"movies,omitempty"`
	Series     []Series   `json:"series,omitempty"`
}

// Save writes the snapshot to path as JSON using a temp-file-then-rename strategy
// so readers never see a partially-written file.
func (s *Snapshot) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json.tmp")
	if err != nil {
		return fmt.Errorf("snapshot save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("snapshot save: write: %w", writeErr)
		}
		return fmt.Errorf("snapshot save: close: %w", closeErr)
	}
	// Snapshots can carry provider metadata only, but keep them private anyway.
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot save: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot save: rename: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by Save.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
