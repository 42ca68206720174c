package nfo

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/iptvstrm/internal/catalog"
)

func TestValidExternalID(t *testing.T) {
	for _, id := range []string{"123", " 42 ", "9999999"} {
		assert.True(t, ValidExternalID(id), id)
	}
	for _, id := range []string{"", "  ", "0", "null", "NULL", "None", "-5", "tt0133093", "12.5"} {
		assert.False(t, ValidExternalID(id), id)
	}
}

func TestFormatMovie_minimalWhenExternalIDValid(t *testing.T) {
	doc := FormatMovie(catalog.Movie{
		StreamID: 100, Name: "Test Movie", ExternalID: "123",
		Details: catalog.Details{Plot: "should not appear", Genre: "Action"},
	})
	require.True(t, doc.Minimal())

	out := string(doc.Bytes())
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, "<tmdbid>123</tmdbid>")
	assert.Contains(t, out, `<uniqueid type="tmdb" default="true">123</uniqueid>`)
	assert.NotContains(t, out, "<title>")
	assert.NotContains(t, out, "should not appear")
	assert.NotContains(t, out, "<genre>")
}

func TestFormatMovie_fullWhenExternalIDInvalid(t *testing.T) {
	for _, id := range []string{"", "0", "null"} {
		doc := FormatMovie(catalog.Movie{
			Name: "Fallback", ExternalID: id,
			Details: catalog.Details{Plot: "A plot"},
		})
		assert.False(t, doc.Minimal(), "id %q", id)
		out := string(doc.Bytes())
		assert.Contains(t, out, "<title>Fallback</title>", "id %q", id)
		assert.Contains(t, out, "<plot>A plot</plot>", "id %q", id)
		assert.NotContains(t, out, "<tmdbid>", "id %q", id)
	}
}

func TestFormatMovie_allFields(t *testing.T) {
	doc := FormatMovie(catalog.Movie{
		Name: "Tom & Jerry <Uncut>",
		Details: catalog.Details{
			Description: strings.Repeat("x", 250),
			ReleaseDate: "1999-03-31",
			Rating5:     "3.75",
			Genre:       "Action, Sci-Fi,,",
			Director:    "Lana Wachowski",
			Cast:        "Keanu Reeves, , Carrie-Anne Moss",
			Duration:    "02:16:00",
			Trailer:     "vKQi3bBA1y8",
			Backdrop:    "http://img/b.jpg?a=1&b=2",
		},
	})
	var got MovieNFO
	require.NoError(t, xml.Unmarshal(doc.Bytes(), &got))

	assert.Equal(t, "Tom & Jerry <Uncut>", got.Title)
	assert.Len(t, got.Plot, 250)
	assert.Len(t, got.Outline, 200)
	assert.Equal(t, "1999", got.Year)
	assert.Equal(t, "7.5", got.Rating)
	assert.Equal(t, []string{"Action", "Sci-Fi"}, got.Genres)
	assert.Equal(t, "Lana Wachowski", got.Director)
	assert.Equal(t, []Actor{{Name: "Keanu Reeves"}, {Name: "Carrie-Anne Moss"}}, got.Actors)
	assert.Equal(t, 136, got.Runtime)
	assert.Equal(t, "plugin://plugin.video.youtube/?action=play_video&videoid=vKQi3bBA1y8", got.Trailer)
	assert.Equal(t, "http://img/b.jpg?a=1&b=2", got.Thumb)
	require.NotNil(t, got.Fanart)
	assert.Equal(t, "http://img/b.jpg?a=1&b=2", got.Fanart.Thumb)

	raw := string(doc.Bytes())
	assert.Contains(t, raw, "Tom &amp; Jerry &lt;Uncut&gt;")
	assert.Contains(t, raw, "action=play_video&amp;videoid=")
}

func TestFormatMovie_escapesQuotes(t *testing.T) {
	raw := string(FormatMovie(catalog.Movie{Name: `He said "hi" it's`}).Bytes())
	assert.NotContains(t, raw, `"hi"`)
	assert.NotContains(t, raw, `it's`)
	assert.Contains(t, raw, "&#34;hi&#34;")
	assert.Contains(t, raw, "it&#39;s")
}

func TestFormatMovie_badFieldsOmitted(t *testing.T) {
	doc := FormatMovie(catalog.Movie{
		Name: "",
		Details: catalog.Details{
			Year: "N/A", Rating: "great", Rating5: "n/a", Duration: "about two hours", Trailer: "https://vimeo.com/123",
		},
	})
	raw := string(doc.Bytes())
	assert.Contains(t, raw, "<title>Unknown</title>")
	for _, tag := range []string{"<year>", "<rating>", "<runtime>", "<trailer>", "<thumb>", "<fanart>", "<genre>", "<actor>"} {
		assert.NotContains(t, raw, tag)
	}
}

func TestFormatShow(t *testing.T) {
	minimal := FormatShow(catalog.Series{Name: "Show", ExternalID: "1399"})
	assert.True(t, minimal.Minimal())
	assert.Contains(t, string(minimal.Bytes()), "<tvshow>")
	assert.Contains(t, string(minimal.Bytes()), "<tmdbid>1399</tmdbid>")

	full := FormatShow(catalog.Series{
		Name: "Show",
		Details: catalog.Details{
			Plot: "p", Year: "2011-04-17", Rating: "9", Genre: "Drama", Cast: "A, B", Cover: "http://img/c.jpg",
			Duration: "60", Trailer: "abc",
		},
	})
	var got ShowNFO
	require.NoError(t, xml.Unmarshal(full.Bytes(), &got))
	assert.Equal(t, "Show", got.Title)
	assert.Equal(t, "2011", got.Year)
	assert.Equal(t, "2011", got.Premiered)
	assert.Equal(t, "9", got.Rating)
	assert.Equal(t, []string{"Drama"}, got.Genres)
	assert.Len(t, got.Actors, 2)
	assert.Equal(t, "http://img/c.jpg", got.Thumb)

	raw := string(full.Bytes())
	assert.NotContains(t, raw, "<outline>")
	assert.NotContains(t, raw, "<runtime>")
	assert.NotContains(t, raw, "<trailer>")
}

func TestRuntimeMinutes(t *testing.T) {
	cases := map[string]int{
		"01:45:00": 105,
		"1:30":     90,
		"95":       95,
		"":         0,
		"abc":      0,
		"1:2:3:4":  0,
		"-10":      0,
	}
	for in, want := range cases {
		assert.Equal(t, want, RuntimeMinutes(in), in)
	}
}

func TestRating(t *testing.T) {
	assert.Equal(t, "8.1", Rating("8.1", "4"))
	assert.Equal(t, "8", Rating("", "4"))
	assert.Equal(t, "8", Rating("bad", "4"))
	assert.Equal(t, "", Rating("", ""))
	assert.Equal(t, "", Rating("NaN", "x"))
}

func TestTrailerURI(t *testing.T) {
	assert.Equal(t, trailerPlugin+"abc", TrailerURI("abc"))
	assert.Equal(t, trailerPlugin+"xyz", TrailerURI("https://www.youtube.com/watch?v=xyz"))
	assert.Equal(t, trailerPlugin+"q1", TrailerURI("https://youtu.be/q1"))
	assert.Equal(t, "", TrailerURI("  "))
}
