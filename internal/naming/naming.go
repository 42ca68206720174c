// Package naming turns provider titles into filesystem-safe path segments and
// owns the on-disk layout of pointer and metadata files.
package naming

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxSegment is the longest segment, in bytes, Sanitize will return. With
// ".strm" or ".nfo" appended a name stays under the common 255-byte limit.
const MaxSegment = 200

const (
	UnknownTitle  = "Unknown"
	Uncategorized = "Uncategorized"
)

const (
	PointerExt  = ".strm"
	MetadataExt = ".nfo"
	ShowNFO     = "tvshow.nfo"
)

// Sanitize maps an arbitrary title or category name to a single path segment.
// Each of \ / : * ? " < > | and every control character becomes "_", and the
// result is cut to MaxSegment bytes on a rune boundary. Input that is already
// safe comes back unchanged.
func Sanitize(name string) string {
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "_")
	}
	name = norm.NFC.String(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isReserved(r) || unicode.IsControl(r) {
			r = '_'
		}
		b.WriteRune(r)
	}
	out := truncate(b.String(), MaxSegment)
	if out != "" && strings.Trim(out, ".") == "" {
		// "." and ".." would escape the parent directory.
		return strings.Repeat("_", len(out))
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isReserved(r rune) bool {
	switch r {
	case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}

// SanitizeStrict keeps only letters, digits, space, '-' and '_'. Playlist
// titles go through this variant because their metadata is free-form.
func SanitizeStrict(name string) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Title returns the sanitized title, or "Unknown" when nothing is left.
func Title(name string) string {
	if s := Sanitize(name); strings.TrimSpace(s) != "" {
		return s
	}
	return UnknownTitle
}

// Category returns the sanitized category name, or "Uncategorized".
func Category(name string) string {
	if s := Sanitize(name); strings.TrimSpace(s) != "" {
		return s
	}
	return Uncategorized
}

// MovieFiles are the two files a movie owns on disk.
type MovieFiles struct {
	Dir      string // category directory
	Pointer  string // {dir}/{title}.strm
	Metadata string // {dir}/{title}.nfo
}

// CategoryDir is {root}/{category}.
func CategoryDir(root, category string) string {
	return filepath.Join(root, Category(category))
}

// MoviePaths lays a movie out as {root}/{category}/{title}.strm + .nfo.
func MoviePaths(root, category, title string) MovieFiles {
	dir := CategoryDir(root, category)
	base := filepath.Join(dir, Title(title))
	return MovieFiles{Dir: dir, Pointer: base + PointerExt, Metadata: base + MetadataExt}
}

// SeriesDir is {root}/{category}/{title}; the show's tvshow.nfo and season
// directories live below it.
func SeriesDir(root, category, title string) string {
	return filepath.Join(CategoryDir(root, category), Title(title))
}

// ShowMetadataPath is the tvshow.nfo inside a series directory.
func ShowMetadataPath(seriesDir string) string {
	return filepath.Join(seriesDir, ShowNFO)
}

// SeasonDirName is "Season N" (not zero padded).
func SeasonDirName(n int) string {
	return fmt.Sprintf("Season %d", n)
}

// EpisodeFileName is S{ss}E{ee}[ - {title}].strm. The title is shortened so
// the whole name, extension included, fits in MaxSegment bytes.
func EpisodeFileName(season, episode int, title string) string {
	name := fmt.Sprintf("S%02dE%02d", season, episode)
	if t := Sanitize(strings.TrimSpace(title)); t != "" {
		name += " - " + t
	}
	return truncate(name, MaxSegment-len(PointerExt)) + PointerExt
}

// EpisodePath joins a series directory with the season dir and episode file.
func EpisodePath(seriesDir string, season, episode int, title string) string {
	return filepath.Join(seriesDir, SeasonDirName(season), EpisodeFileName(season, episode, title))
}

// PlaylistPath is {base}/{group}/{title}.strm for playlist-sourced entries,
// using the strict sanitizer for both segments.
func PlaylistPath(base, group, title string) string {
	g := truncate(SanitizeStrict(group), MaxSegment)
	if g == "" {
		g = Uncategorized
	}
	t := truncate(SanitizeStrict(title), MaxSegment-len(PointerExt))
	if t == "" {
		t = UnknownTitle
	}
	return filepath.Join(base, g, t+PointerExt)
}
