package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/httpclient"
	"github.com/snapetech/iptvstrm/internal/metrics"
)

// ErrAuthFailed is returned by Authenticate when the panel rejects the account.
var ErrAuthFailed = errors.New("provider rejected credentials")

// DefaultMovieExt is used in stream URLs when the provider gives no container.
const DefaultMovieExt = "mp4"

// Client talks to an Xtream Codes style player_api.php.
type Client struct {
	BaseURL string
	User    string
	Pass    string
	HTTP    *httpclient.Client
	Metrics *metrics.Metrics
}

// NewClient returns a Client for baseURL (scheme://host[:port], any trailing
// slash or /player_api.php removed).
func NewClient(baseURL, user, pass string, hc *httpclient.Client) *Client {
	if hc == nil {
		hc = httpclient.New(httpclient.Options{})
	}
	return &Client{BaseURL: NormalizeBaseURL(baseURL), User: user, Pass: pass, HTTP: hc}
}

// NormalizeBaseURL trims whitespace, trailing slashes and a pasted
// /player_api.php or /get.php suffix.
func NormalizeBaseURL(s string) string {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{"/player_api.php", "/get.php"} {
		if i := strings.Index(s, suffix); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimRight(s, "/")
}

func (c *Client) apiURL(action string, extra url.Values) string {
	// Encode to prevent query injection from special chars in user/pass.
	q := url.Values{}
	q.Set("username", c.User)
	q.Set("password", c.Pass)
	if action != "" {
		q.Set("action", action)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.BaseURL + "/player_api.php?" + q.Encode()
}

func (c *Client) get(ctx context.Context, action string, extra url.Values) (body []byte, err error) {
	start := time.Now()
	defer func() {
		label := action
		if label == "" {
			label = "auth"
		}
		c.Metrics.ObserveGateway(label, start, err)
	}()
	body, err = c.HTTP.Get(ctx, c.apiURL(action, extra))
	if err != nil {
		if action == "" {
			return nil, fmt.Errorf("player_api auth: %w", err)
		}
		return nil, fmt.Errorf("player_api %s: %w", action, err)
	}
	return body, nil
}

// AccountInfo is the subset of user_info worth logging.
type AccountInfo struct {
	Username       string
	Status         string
	ExpiresAt      time.Time // zero when unlimited
	MaxConnections int
	ActiveCons     int
}

// Authenticate calls player_api.php without an action and checks user_info.
func (c *Client) Authenticate(ctx context.Context) (*AccountInfo, error) {
	body, err := c.get(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	var root catalog.Fields
	if err := decodeJSON(body, &root); err != nil {
		return nil, fmt.Errorf("player_api auth: %w", err)
	}
	ui := root.Object("user_info")
	if ui == nil {
		return nil, fmt.Errorf("player_api auth: %w: no user_info in response", ErrAuthFailed)
	}
	if auth, ok := ui.Int("auth"); ok && auth == 0 {
		return nil, ErrAuthFailed
	}
	info := &AccountInfo{Username: ui.String("username"), Status: ui.String("status")}
	if exp, ok := ui.Int("exp_date"); ok && exp > 0 {
		info.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	info.MaxConnections, _ = ui.Int("max_connections")
	info.ActiveCons, _ = ui.Int("active_cons")
	if s := strings.ToLower(info.Status); s != "" && s != "active" {
		return info, fmt.Errorf("%w: account status %q", ErrAuthFailed, info.Status)
	}
	return info, nil
}

// ListCategories returns get_vod_categories or get_series_categories.
func (c *Client) ListCategories(ctx context.Context, kind catalog.Kind) ([]catalog.Category, error) {
	action := "get_vod_categories"
	if kind == catalog.KindSeries {
		action = "get_series_categories"
	}
	body, err := c.get(ctx, action, nil)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("player_api %s: %w", action, err)
	}
	out := make([]catalog.Category, 0, len(rows))
	for _, r := range rows {
		if cat, ok := catalog.CategoryFromFields(r); ok {
			out = append(out, cat)
		}
	}
	return out, nil
}

// ListMovies returns get_vod_streams. Some panels answer the unfiltered call
// with an empty list; those are walked category by category instead. Any
// failure aborts: a partial listing would look like deletions.
func (c *Client) ListMovies(ctx context.Context) ([]catalog.Movie, error) {
	rows, err := c.listRows(ctx, "get_vod_streams", nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		cats, err := c.ListCategories(ctx, catalog.KindMovie)
		if err != nil {
			return nil, err
		}
		for _, cat := range cats {
			part, err := c.listRows(ctx, "get_vod_streams", url.Values{"category_id": {cat.ID}})
			if err != nil {
				return nil, err
			}
			for _, r := range part {
				if _, ok := r["category_id"]; !ok {
					r["category_id"] = cat.ID
				}
			}
			rows = append(rows, part...)
		}
	}
	seen := make(map[int]bool, len(rows))
	out := make([]catalog.Movie, 0, len(rows))
	for _, r := range rows {
		m, ok := catalog.MovieFromFields(r)
		if !ok || seen[m.StreamID] {
			continue
		}
		seen[m.StreamID] = true
		out = append(out, m)
	}
	return out, nil
}

// ListSeries returns get_series stubs. Both array and id-keyed object
// payloads are accepted.
func (c *Client) ListSeries(ctx context.Context) ([]catalog.Series, error) {
	rows, err := c.listRows(ctx, "get_series", nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(rows))
	out := make([]catalog.Series, 0, len(rows))
	for _, r := range rows {
		s, ok := catalog.SeriesFromFields(r)
		if !ok || seen[s.SeriesID] {
			continue
		}
		seen[s.SeriesID] = true
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) listRows(ctx context.Context, action string, extra url.Values) ([]catalog.Fields, error) {
	body, err := c.get(ctx, action, extra)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("player_api %s: %w", action, err)
	}
	return rows, nil
}

// SeriesInfo returns get_series_info for one series: the info block and its
// seasons. Seasons whose key is not a non-negative integer and episodes
// without an id or number are dropped.
func (c *Client) SeriesInfo(ctx context.Context, seriesID int) (catalog.SeriesInfo, error) {
	action := "get_series_info"
	body, err := c.get(ctx, action, url.Values{"series_id": {strconv.Itoa(seriesID)}})
	if err != nil {
		return catalog.SeriesInfo{}, err
	}
	var root catalog.Fields
	if err := decodeJSON(body, &root); err != nil {
		return catalog.SeriesInfo{}, fmt.Errorf("player_api %s %d: %w", action, seriesID, err)
	}
	if root == nil {
		return catalog.SeriesInfo{}, fmt.Errorf("player_api %s %d: empty response", action, seriesID)
	}
	info := catalog.SeriesInfo{}
	if f := root.Object("info"); f != nil {
		info.Details = catalog.DetailsFromFields(f)
	}
	info.Seasons = parseEpisodes(root["episodes"])
	return info, nil
}

func parseEpisodes(v any) []catalog.Season {
	bySeason := make(map[int][]catalog.Episode)
	add := func(season int, raw any) {
		f, ok := raw.(map[string]any)
		if !ok {
			return
		}
		if ep, ok := catalog.EpisodeFromFields(catalog.Fields(f), season); ok {
			bySeason[season] = append(bySeason[season], ep)
		}
	}
	switch x := v.(type) {
	case map[string]any:
		for key, eps := range x {
			season, ok := catalog.ParseSeasonKey(key)
			if !ok {
				continue
			}
			list, _ := eps.([]any)
			for _, raw := range list {
				add(season, raw)
			}
		}
	case []any:
		// Some panels send a list of season lists, others a flat episode
		// list; either way each episode carries its own season field.
		for i, elem := range x {
			switch e := elem.(type) {
			case []any:
				for _, raw := range e {
					add(episodeSeason(raw, i+1), raw)
				}
			case map[string]any:
				add(episodeSeason(e, 1), e)
			}
		}
	}

	seasons := make([]catalog.Season, 0, len(bySeason))
	for n, eps := range bySeason {
		sort.SliceStable(eps, func(i, j int) bool { return eps[i].Number < eps[j].Number })
		seasons = append(seasons, catalog.Season{Number: n, Episodes: eps})
	}
	sort.Slice(seasons, func(i, j int) bool { return seasons[i].Number < seasons[j].Number })
	return seasons
}

func episodeSeason(raw any, fallback int) int {
	if f, ok := raw.(map[string]any); ok {
		if n, ok := catalog.Fields(f).Int("season"); ok && n >= 0 {
			return n
		}
	}
	return fallback
}

// StreamURL builds {base}/{movie|series}/{user}/{pass}/{id}.{ext}. For
// series the id is the episode's own stream id.
func (c *Client) StreamURL(kind catalog.Kind, id int, ext string) string {
	seg := "movie"
	if kind == catalog.KindSeries {
		seg = "series"
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" || len(ext) > 5 {
		ext = DefaultMovieExt
	}
	return fmt.Sprintf("%s/%s/%s/%s/%d.%s", c.BaseURL, seg, url.PathEscape(c.User), url.PathEscape(c.Pass), id, url.PathEscape(ext))
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// decodeRows accepts a JSON array of objects, an object keyed by id, or null.
func decodeRows(body []byte) ([]catalog.Fields, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var raw any
	if err := decodeJSON(trimmed, &raw); err != nil {
		return nil, err
	}
	switch x := raw.(type) {
	case []any:
		out := make([]catalog.Fields, 0, len(x))
		for _, v := range x {
			if m, ok := v.(map[string]any); ok {
				out = append(out, catalog.Fields(m))
			}
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]catalog.Fields, 0, len(x))
		for _, k := range keys {
			if m, ok := x[k].(map[string]any); ok {
				out = append(out, catalog.Fields(m))
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected JSON %T", raw)
}
