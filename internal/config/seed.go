package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/schedule"
	"github.com/snapetech/iptvstrm/internal/store"
)

// Seed is the declarative state a TOML seed file describes. Applying it
// upserts into the store; rows the file does not mention are left alone.
type Seed struct {
	Settings      map[string]string  `toml:"settings"`
	Subscriptions []SeedSubscription `toml:"subscriptions"`
	Playlists     []SeedPlaylist     `toml:"playlists"`
	Categories    []SeedCategories   `toml:"categories"`
	Schedules     []SeedSchedule     `toml:"schedules"`
}

type SeedSubscription struct {
	Name        string `toml:"name"`
	ProviderURL string `toml:"provider_url"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	MoviesDir   string `toml:"movies_dir"`
	SeriesDir   string `toml:"series_dir"`
	Active      *bool  `toml:"active"`
}

type SeedPlaylist struct {
	Name      string      `toml:"name"`
	URL       string      `toml:"url"`
	File      string      `toml:"file"`
	OutputDir string      `toml:"output_dir"`
	MoviesDir string      `toml:"movies_dir"`
	SeriesDir string      `toml:"series_dir"`
	Active    *bool       `toml:"active"`
	Groups    []SeedGroup `toml:"groups"`
}

type SeedGroup struct {
	Title string `toml:"title"`
	Kind  string `toml:"kind"`
}

type SeedCategories struct {
	Scope string   `toml:"scope"`
	Kind  string   `toml:"kind"`
	IDs   []string `toml:"ids"`
}

type SeedSchedule struct {
	Scope     string `toml:"scope"`
	Kind      string `toml:"kind"`
	Enabled   bool   `toml:"enabled"`
	Frequency string `toml:"frequency"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} with environment variable values so
// secrets can stay out of the seed file.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		if value, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return value
		}
		return match
	})
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	return ParseSeed(string(data))
}

// ParseSeed parses seed TOML and validates kinds and frequencies.
func ParseSeed(content string) (*Seed, error) {
	var s Seed
	md, err := toml.Decode(substituteEnvVars(content), &s)
	if err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing seed: unknown key %s", undecoded[0])
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Seed) validate() error {
	var errs []error
	for _, p := range s.Playlists {
		if (p.URL == "") == (p.File == "") {
			errs = append(errs, fmt.Errorf("playlist %q: exactly one of url or file is required", p.Name))
		}
		for _, g := range p.Groups {
			if k, err := catalog.ParseKind(g.Kind); err != nil || !k.Valid() {
				errs = append(errs, fmt.Errorf("playlist %q group %q: kind must be movie or series", p.Name, g.Title))
			}
		}
	}
	for _, c := range s.Categories {
		if k, err := catalog.ParseKind(c.Kind); err != nil || !k.Valid() {
			errs = append(errs, fmt.Errorf("categories %q: kind must be movie or series", c.Scope))
		}
	}
	for _, sc := range s.Schedules {
		if k, err := catalog.ParseKind(sc.Kind); err != nil || !k.Valid() {
			errs = append(errs, fmt.Errorf("schedule %q: kind must be movie or series", sc.Scope))
		}
		if _, err := schedule.ParseFrequency(sc.Frequency); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q/%s: %w", sc.Scope, sc.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Apply writes the seed into st.
func (s *Seed) Apply(ctx context.Context, st *store.Store) error {
	for k, v := range s.Settings {
		if err := st.SetSetting(ctx, k, v); err != nil {
			return err
		}
	}
	for _, sub := range s.Subscriptions {
		err := st.PutSubscription(ctx, store.Subscription{
			Name:        sub.Name,
			ProviderURL: sub.ProviderURL,
			User:        sub.Username,
			Pass:        sub.Password,
			MoviesDir:   sub.MoviesDir,
			SeriesDir:   sub.SeriesDir,
			Active:      boolOr(sub.Active, true),
		})
		if err != nil {
			return err
		}
	}
	for _, p := range s.Playlists {
		if err := applyPlaylist(ctx, st, p); err != nil {
			return err
		}
	}
	for _, c := range s.Categories {
		kind, _ := catalog.ParseKind(c.Kind)
		if err := st.SetSelectedCategories(ctx, c.Scope, kind, c.IDs); err != nil {
			return err
		}
	}
	for _, sc := range s.Schedules {
		kind, _ := catalog.ParseKind(sc.Kind)
		row := store.Schedule{Scope: sc.Scope, Kind: kind, Enabled: sc.Enabled, Frequency: sc.Frequency}
		if prev, err := st.Schedule(ctx, sc.Scope, kind); err == nil {
			row.LastRun, row.NextRun = prev.LastRun, prev.NextRun
			if prev.Frequency != sc.Frequency && !prev.LastRun.IsZero() {
				f, _ := schedule.ParseFrequency(sc.Frequency)
				row.NextRun = f.Next(prev.LastRun)
			}
		} else if !store.IsNotFound(err) {
			return err
		}
		if err := st.PutSchedule(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func applyPlaylist(ctx context.Context, st *store.Store, p SeedPlaylist) error {
	src := store.PlaylistSource{
		Name:      p.Name,
		Type:      store.SourceURL,
		URL:       p.URL,
		FilePath:  p.File,
		OutputDir: p.OutputDir,
		MoviesDir: p.MoviesDir,
		SeriesDir: p.SeriesDir,
		Active:    boolOr(p.Active, true),
	}
	if p.File != "" {
		src.Type = store.SourceFile
	}
	prev, err := st.PlaylistSourceByName(ctx, p.Name)
	switch {
	case err == nil:
		src.ID = prev.ID
		if err := st.UpdatePlaylistSource(ctx, src); err != nil {
			return err
		}
	case store.IsNotFound(err):
		if src.ID, err = st.CreatePlaylistSource(ctx, src); err != nil {
			return err
		}
	default:
		return err
	}
	if p.Groups == nil {
		return nil
	}
	sel := make([]store.GroupSelection, 0, len(p.Groups))
	for _, g := range p.Groups {
		kind, _ := catalog.ParseKind(g.Kind)
		sel = append(sel, store.GroupSelection{SourceID: src.ID, GroupTitle: g.Title, Kind: kind})
	}
	return st.SetGroupSelections(ctx, src.ID, sel)
}
