package catalog

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Fields is one loosely-typed provider record (a decoded JSON object).
// Providers send the same field as a number, a string, null or not at all
// depending on panel version; the accessors below absorb all of that and
// never fail.
type Fields map[string]any

// String returns the first non-empty value among keys, formatted as text.
func (f Fields) String(keys ...string) string {
	for _, k := range keys {
		if s := scalarString(f[k]); s != "" {
			return s
		}
	}
	return ""
}

// Int returns the first value among keys that parses as an integer.
func (f Fields) Int(keys ...string) (int, bool) {
	for _, k := range keys {
		s := scalarString(f[k])
		if s == "" {
			continue
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if x, err := strconv.ParseFloat(s, 64); err == nil && x == float64(int(x)) {
			return int(x), true
		}
	}
	return 0, false
}

// List returns the value at key as a slice of string values. Providers send
// backdrop_path both as a string and as a list; both are accepted.
func (f Fields) List(key string) []string {
	switch x := f[key].(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, v := range x {
			if s := scalarString(v); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := scalarString(x); s != "" {
			return []string{s}
		}
	}
	return nil
}

// Object returns the nested object at key, or nil.
func (f Fields) Object(key string) Fields {
	if m, ok := f[key].(map[string]any); ok {
		return Fields(m)
	}
	return nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "1"
		}
		return ""
	}
	return ""
}

// DetailsFromFields extracts the optional metadata block.
func DetailsFromFields(f Fields) Details {
	d := Details{
		Plot:        f.String("plot"),
		Description: f.String("description"),
		Year:        f.String("year"),
		ReleaseDate: f.String("releasedate", "releaseDate", "release_date"),
		Rating:      f.String("rating"),
		Rating5:     f.String("rating_5based"),
		Genre:       f.String("genre"),
		Cast:        f.String("cast", "actors"),
		Director:    f.String("director"),
		Duration:    f.String("duration"),
		Trailer:     f.String("youtube_trailer"),
		Cover:       f.String("cover_big", "cover", "movie_image"),
	}
	if bd := f.List("backdrop_path_original"); len(bd) > 0 {
		d.Backdrop = bd[0]
	} else if bd := f.List("backdrop_path"); len(bd) > 0 {
		d.Backdrop = bd[0]
	}
	return d
}

// MovieFromFields maps a get_vod_streams row. ok is false when the row has no
// usable stream id; such rows can never be cached and are dropped.
func MovieFromFields(f Fields) (Movie, bool) {
	id, ok := f.Int("stream_id")
	if !ok || id <= 0 {
		return Movie{}, false
	}
	return Movie{
		StreamID:   id,
		Name:       f.String("name"),
		CategoryID: f.String("category_id"),
		Extension:  f.String("container_extension"),
		ExternalID: f.String("tmdb", "tmdb_id"),
		Details:    DetailsFromFields(f),
	}, true
}

// SeriesFromFields maps a get_series row.
func SeriesFromFields(f Fields) (Series, bool) {
	id, ok := f.Int("series_id", "id")
	if !ok || id <= 0 {
		return Series{}, false
	}
	return Series{
		SeriesID:   id,
		Name:       f.String("name", "title"),
		CategoryID: f.String("category_id"),
		ExternalID: f.String("tmdb", "tmdb_id"),
		Details:    DetailsFromFields(f),
	}, true
}

// CategoryFromFields maps a get_*_categories row.
func CategoryFromFields(f Fields) (Category, bool) {
	id := f.String("category_id")
	if id == "" {
		return Category{}, false
	}
	return Category{ID: id, Name: f.String("category_name")}, true
}

// EpisodeFromFields maps one episode of get_series_info. season is the
// season number taken from the enclosing season key.
func EpisodeFromFields(f Fields, season int) (Episode, bool) {
	id, ok := f.Int("id", "stream_id")
	if !ok || id <= 0 {
		return Episode{}, false
	}
	num, ok := f.Int("episode_num")
	if !ok || num < 0 {
		return Episode{}, false
	}
	return Episode{
		ID:        id,
		Season:    season,
		Number:    num,
		Title:     f.String("title"),
		Extension: f.String("container_extension"),
	}, true
}

// ParseSeasonKey parses a provider season key. Season numbers must be
// non-negative integers; anything else is rejected.
func ParseSeasonKey(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
