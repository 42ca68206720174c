// Package nfo renders Kodi/Jellyfin-style .nfo metadata documents from
// provider records.
//
// A record with a usable TMDB id gets a minimal document naming only that id
// and the media server scrapes the rest. Anything else gets a full document
// assembled from whatever the provider sent. Formatting never fails; fields
// that do not parse are left out.
package nfo

import (
	"encoding/xml"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/snapetech/iptvstrm/internal/catalog"
)

const header = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const outlineRunes = 200

const trailerPlugin = "plugin://plugin.video.youtube/?action=play_video&videoid="

type UniqueID struct {
	Type    string `xml:"type,attr"`
	Default bool   `xml:"default,attr"`
	Value   string `xml:",chardata"`
}

type Actor struct {
	Name string `xml:"name"`
}

type Fanart struct {
	Thumb string `xml:"thumb"`
}

// MovieNFO is the <movie> root.
type MovieNFO struct {
	XMLName  xml.Name  `xml:"movie"`
	TMDBID   string    `xml:"tmdbid,omitempty"`
	UniqueID *UniqueID `xml:"uniqueid,omitempty"`
	Title    string    `xml:"title,omitempty"`
	Plot     string    `xml:"plot,omitempty"`
	Outline  string    `xml:"outline,omitempty"`
	Year     string    `xml:"year,omitempty"`
	Rating   string    `xml:"rating,omitempty"`
	Genres   []string  `xml:"genre"`
	Director string    `xml:"director,omitempty"`
	Actors   []Actor   `xml:"actor"`
	Runtime  int       `xml:"runtime,omitempty"`
	Trailer  string    `xml:"trailer,omitempty"`
	Thumb    string    `xml:"thumb,omitempty"`
	Fanart   *Fanart   `xml:"fanart,omitempty"`
}

// ShowNFO is the <tvshow> root written as tvshow.nfo.
type ShowNFO struct {
	XMLName   xml.Name  `xml:"tvshow"`
	TMDBID    string    `xml:"tmdbid,omitempty"`
	UniqueID  *UniqueID `xml:"uniqueid,omitempty"`
	Title     string    `xml:"title,omitempty"`
	Plot      string    `xml:"plot,omitempty"`
	Year      string    `xml:"year,omitempty"`
	Premiered string    `xml:"premiered,omitempty"`
	Rating    string    `xml:"rating,omitempty"`
	Genres    []string  `xml:"genre"`
	Director  string    `xml:"director,omitempty"`
	Actors    []Actor   `xml:"actor"`
	Thumb     string    `xml:"thumb,omitempty"`
	Fanart    *Fanart   `xml:"fanart,omitempty"`
}

// Document is a rendered-on-demand metadata document.
type Document struct {
	root    any
	minimal bool
}

// Minimal reports whether the document carries only the external id.
func (d Document) Minimal() bool { return d.minimal }

// Bytes renders the document. encoding/xml escapes & < > " ' in all text.
func (d Document) Bytes() []byte {
	body, err := xml.MarshalIndent(d.root, "", "  ")
	if err != nil {
		// Only plain string/int fields are marshalled; this cannot happen.
		return []byte(header)
	}
	out := make([]byte, 0, len(header)+len(body)+1)
	out = append(out, header...)
	out = append(out, body...)
	return append(out, '\n')
}

// ValidExternalID reports whether id is a usable TMDB id: non-empty, not a
// textual null and a positive integer.
func ValidExternalID(id string) bool {
	id = strings.TrimSpace(id)
	switch strings.ToLower(id) {
	case "", "null", "none", "0":
		return false
	}
	n, err := strconv.ParseInt(id, 10, 64)
	return err == nil && n > 0
}

func uniqueID(id string) *UniqueID {
	return &UniqueID{Type: "tmdb", Default: true, Value: id}
}

// FormatMovie builds the .nfo for a movie.
func FormatMovie(m catalog.Movie) Document {
	if ValidExternalID(m.ExternalID) {
		id := strings.TrimSpace(m.ExternalID)
		return Document{root: &MovieNFO{TMDBID: id, UniqueID: uniqueID(id)}, minimal: true}
	}
	d := m.Details
	plot := firstNonEmpty(d.Plot, d.Description)
	doc := &MovieNFO{
		Title:    titleOrUnknown(m.Name),
		Plot:     plot,
		Outline:  truncateRunes(plot, outlineRunes),
		Year:     Year(d.Year, d.ReleaseDate),
		Rating:   Rating(d.Rating, d.Rating5),
		Genres:   SplitList(d.Genre),
		Director: strings.TrimSpace(d.Director),
		Actors:   actors(d.Cast),
		Runtime:  RuntimeMinutes(d.Duration),
		Trailer:  TrailerURI(d.Trailer),
	}
	if art := firstNonEmpty(d.Cover, d.Backdrop); art != "" {
		doc.Thumb = art
		doc.Fanart = &Fanart{Thumb: art}
	}
	return Document{root: doc}
}

// FormatShow builds tvshow.nfo for a series.
func FormatShow(s catalog.Series) Document {
	if ValidExternalID(s.ExternalID) {
		id := strings.TrimSpace(s.ExternalID)
		return Document{root: &ShowNFO{TMDBID: id, UniqueID: uniqueID(id)}, minimal: true}
	}
	d := s.Details
	year := Year(d.Year, d.ReleaseDate)
	doc := &ShowNFO{
		Title:     titleOrUnknown(s.Name),
		Plot:      firstNonEmpty(d.Plot, d.Description),
		Year:      year,
		Premiered: year,
		Rating:    Rating(d.Rating, d.Rating5),
		Genres:    SplitList(d.Genre),
		Director:  strings.TrimSpace(d.Director),
		Actors:    actors(d.Cast),
	}
	if art := firstNonEmpty(d.Cover, d.Backdrop); art != "" {
		doc.Thumb = art
		doc.Fanart = &Fanart{Thumb: art}
	}
	return Document{root: doc}
}

// Year returns the first four characters of the first non-empty candidate,
// or "" when they are not all digits.
func Year(candidates ...string) string {
	s := firstNonEmpty(candidates...)
	if len(s) < 4 {
		return ""
	}
	y := s[:4]
	if _, err := strconv.Atoi(y); err != nil {
		return ""
	}
	return y
}

// Rating prefers the 10-point rating and falls back to doubling the 5-point
// one. Unparseable values are dropped.
func Rating(tenPoint, fivePoint string) string {
	if v, ok := parseFloat(tenPoint); ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if v, ok := parseFloat(fivePoint); ok {
		return strconv.FormatFloat(v*2, 'f', -1, 64)
	}
	return ""
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1e6 {
		return 0, false
	}
	return v, true
}

// RuntimeMinutes accepts "HH:MM:SS", "HH:MM" or an integer minute count.
func RuntimeMinutes(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return 0
		}
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || h < 0 || m < 0 {
			return 0
		}
		return h*60 + m
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// TrailerURI wraps a YouTube video id (or watch URL) in the Kodi plugin URI.
func TrailerURI(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		if v := u.Query().Get("v"); v != "" {
			s = v
		} else if strings.HasSuffix(u.Host, "youtu.be") {
			s = strings.Trim(u.Path, "/")
		} else {
			return ""
		}
	}
	if s == "" {
		return ""
	}
	return trailerPlugin + s
}

// SplitList splits a comma separated provider list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func actors(cast string) []Actor {
	names := SplitList(cast)
	if len(names) == 0 {
		return nil
	}
	out := make([]Actor, len(names))
	for i, n := range names {
		out[i] = Actor{Name: n}
	}
	return out
}

func titleOrUnknown(name string) string {
	if t := strings.TrimSpace(name); t != "" {
		return t
	}
	return "Unknown"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
