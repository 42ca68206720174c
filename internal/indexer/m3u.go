package indexer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
	"golang.org/x/net/html/charset"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/httpclient"
)

// maxLineSize caps one line; longer lines are dropped with their entry.
const maxLineSize = 1 << 20

// PlaylistEntry is one #EXTINF + URL pair.
type PlaylistEntry struct {
	Title      string       `json:"title"`
	URL        string       `json:"url"`
	GroupTitle string       `json:"group_title,omitempty"`
	Logo       string       `json:"logo,omitempty"`
	TVGID      string       `json:"tvg_id,omitempty"`
	TVGName    string       `json:"tvg_name,omitempty"`
	Kind       catalog.Kind `json:"kind"`
}

var attrRe = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

// ParsePlaylist parses an extended M3U stream. Lines may end in \n, \r\n or
// \r. An #EXTINF line opens an entry and the next non-blank, non-comment line
// is its URL; an #EXTINF with no URL before the next #EXTINF or EOF is
// dropped, as is an entry with a line over maxLineSize. Order is preserved
// and nothing is deduplicated. Only read errors are returned.
func ParsePlaylist(r io.Reader) ([]PlaylistEntry, error) {
	lines := &lineSplitter{max: maxLineSize}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize+1)
	sc.Split(lines.split)

	var entries []PlaylistEntry
	var pending *PlaylistEntry
	for sc.Scan() {
		if lines.dropped {
			pending = nil
			continue
		}
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		if hasPrefixFold(line, "#EXTINF") {
			e := parseExtinf(line)
			pending = &e
			continue
		}
		if strings.HasPrefix(line, "#") {
			// #EXTM3U, #EXTGRP, #EXTVLCOPT and friends.
			continue
		}
		if pending == nil {
			continue
		}
		pending.URL = line
		pending.Kind = kindFromURL(line)
		entries = append(entries, *pending)
		pending = nil
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("m3u: %w", err)
	}
	return entries, nil
}

// ParsePlaylistString parses an in-memory playlist.
func ParsePlaylistString(s string) []PlaylistEntry {
	// A strings.Reader never fails.
	entries, _ := ParsePlaylist(strings.NewReader(s))
	return entries
}

func parseExtinf(line string) PlaylistEntry {
	head, title := splitExtinfTitle(line)
	attrs := make(map[string]string, 4)
	for _, m := range attrRe.FindAllStringSubmatch(head, -1) {
		key := strings.ToLower(m[1])
		if _, dup := attrs[key]; !dup {
			attrs[key] = strings.TrimSpace(m[2])
		}
	}
	e := PlaylistEntry{
		Title:      title,
		GroupTitle: attrs["group-title"],
		Logo:       attrs["tvg-logo"],
		TVGID:      attrs["tvg-id"],
		TVGName:    attrs["tvg-name"],
		Kind:       catalog.KindLive,
	}
	if e.Logo == "" {
		e.Logo = attrs["logo"]
	}
	if e.Title == "" {
		e.Title = e.TVGName
	}
	return e
}

// splitExtinfTitle splits at the last comma that is not inside a quoted
// attribute value, so group-title="Movies, 2024" does not eat the title.
func splitExtinfTitle(line string) (head, title string) {
	inQuote := false
	last := -1
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				last = i
			}
		}
	}
	if last < 0 {
		return line, ""
	}
	return line[:last], strings.TrimSpace(line[last+1:])
}

// kindFromURL refines the default live tag from the URL path shape.
func kindFromURL(u string) catalog.Kind {
	switch {
	case strings.Contains(u, "/series/"):
		return catalog.KindSeries
	case strings.Contains(u, "/movie/"):
		return catalog.KindMovie
	}
	return catalog.KindLive
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// lineSplitter is bufio.ScanLines that also accepts a bare \r and skips
// lines longer than max instead of failing the scan. A skipped line comes
// back as an empty token with dropped set.
type lineSplitter struct {
	max      int
	skipping bool
	dropped  bool
}

func (l *lineSplitter) split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	i := bytes.IndexAny(data, "\r\n")
	if i < 0 {
		switch {
		case len(data) >= l.max:
			l.skipping = true
			return len(data), nil, nil
		case atEOF:
			return len(data), l.token(data), nil
		}
		return 0, nil, nil
	}
	advance = i + 1
	if data[i] == '\r' {
		switch {
		case i+1 < len(data):
			if data[i+1] == '\n' {
				advance = i + 2
			}
		case !atEOF && i < l.max:
			// \r is the last byte read so far; wait to see if \n follows.
			return 0, nil, nil
		}
	}
	if i > l.max {
		l.skipping = true
	}
	return advance, l.token(data[:i]), nil
}

func (l *lineSplitter) token(line []byte) []byte {
	l.dropped, l.skipping = l.skipping, false
	if l.dropped {
		return []byte{}
	}
	return line
}

// DecodePlaylist converts body to UTF-8. Valid UTF-8 passes through; anything
// else is decoded using the charset from contentType or a sniff of the body.
func DecodePlaylist(body []byte, contentType string) []byte {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if utf8.Valid(body) {
		return body
	}
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}

// FetchPlaylist downloads and parses a playlist URL.
func FetchPlaylist(ctx context.Context, hc *httpclient.Client, playlistURL string) ([]PlaylistEntry, error) {
	if hc == nil {
		hc = httpclient.New(httpclient.Options{})
	}
	resp, err := hc.Fetch(ctx, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	return ParsePlaylist(bytes.NewReader(DecodePlaylist(resp.Body, resp.ContentType)))
}

// ReadPlaylistFile parses a playlist stored on fs.
func ReadPlaylistFile(fs afero.Fs, path string) ([]PlaylistEntry, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return ParsePlaylist(bytes.NewReader(DecodePlaylist(b, "")))
}
