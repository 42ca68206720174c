// Package health reports whether the engine can do its job: the state
// database answers and the output roots exist and accept writes.
package health

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Pinger is satisfied by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is the outcome of one probe.
type Check struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Report aggregates checks for /healthz.
type Report struct {
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checked_at"`
	Checks    []Check   `json:"checks"`
}

// CheckDB pings the database with a short deadline.
func CheckDB(ctx context.Context, db Pinger) error {
	if db == nil {
		return errors.New("no database configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// CheckDir verifies path is an existing directory on fs and that a probe
// file can be created and removed inside it.
func CheckDir(fs afero.Fs, path string) error {
	if path == "" {
		return errors.New("no directory configured")
	}
	info, err := fs.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", path)
	}
	probe := filepath.Join(path, ".iptvstrm-probe-"+uuid.NewString())
	if err := afero.WriteFile(fs, probe, nil, 0o644); err != nil {
		return fmt.Errorf("%s: not writable: %w", path, err)
	}
	if err := fs.Remove(probe); err != nil {
		return fmt.Errorf("%s: removing probe: %w", path, err)
	}
	return nil
}

// Run executes the database check and one directory check per entry in
// dirs (name → path). Checks are reported in a stable order: database
// first, then dirs sorted by name.
func Run(ctx context.Context, db Pinger, fs afero.Fs, dirs map[string]string) Report {
	r := Report{OK: true, CheckedAt: time.Now().UTC()}
	add := func(name string, err error) {
		c := Check{Name: name, OK: err == nil}
		if err != nil {
			c.Error = err.Error()
			r.OK = false
		}
		r.Checks = append(r.Checks, c)
	}
	add("database", CheckDB(ctx, db))
	for _, name := range slices.Sorted(maps.Keys(dirs)) {
		add(name, CheckDir(fs, dirs[name]))
	}
	return r
}
