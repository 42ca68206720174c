package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/snapetech/iptvstrm/internal/catalog"
)

// Stored setting keys. Values override the environment and are themselves
// overridden by per-subscription fields.
const (
	SettingProviderURL = "PROVIDER_URL"
	SettingUser        = "PROVIDER_USER"
	SettingPass        = "PROVIDER_PASS"
	SettingOutputDir   = "OUTPUT_DIR"
	SettingMoviesDir   = "MOVIES_DIR"
	SettingSeriesDir   = "SERIES_DIR"
)

// Settings returns every stored key/value pair.
func (o ops) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Setting returns one stored value, or ErrNotFound.
func (o ops) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := o.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if IsNotFound(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores key=value. An empty value deletes the key so the
// environment default applies again.
func (o ops) SetSetting(ctx context.Context, key, value string) error {
	if value == "" {
		return o.DeleteSetting(ctx, key)
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key.
func (o ops) DeleteSetting(ctx context.Context, key string) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// SelectedCategories returns the selected category ids for scope/kind in
// ascending order. An empty result means no filter.
func (o ops) SelectedCategories(ctx context.Context, scope string, kind catalog.Kind) ([]string, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT category_id FROM selected_categories
		WHERE scope = ? AND kind = ? ORDER BY category_id`, scope, string(kind))
	if err != nil {
		return nil, fmt.Errorf("load selected categories: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan selected category: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetSelectedCategories replaces the selection for scope/kind.
func (s *Store) SetSelectedCategories(ctx context.Context, scope string, kind catalog.Kind, ids []string) error {
	uniq := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			uniq[id] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	return s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM selected_categories WHERE scope = ? AND kind = ?`, scope, string(kind)); err != nil {
			return fmt.Errorf("clear selected categories: %w", err)
		}
		for _, id := range sorted {
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO selected_categories (scope, kind, category_id) VALUES (?, ?, ?)`,
				scope, string(kind), id); err != nil {
				return fmt.Errorf("insert selected category %s: %w", id, err)
			}
		}
		return nil
	})
}
