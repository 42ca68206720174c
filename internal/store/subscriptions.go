package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subscription is one provider account. Its Name is the scope under which
// its cache rows, sync state and category selections are kept.
type Subscription struct {
	Name        string    `json:"name"`
	ProviderURL string    `json:"provider_url"`
	User        string    `json:"username"`
	Pass        string    `json:"-"`
	MoviesDir   string    `json:"movies_dir,omitempty"`
	SeriesDir   string    `json:"series_dir,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s Subscription) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("subscription: name is required")
	}
	if s.ProviderURL == "" || s.User == "" || s.Pass == "" {
		return fmt.Errorf("subscription %s: provider url, username and password are required", s.Name)
	}
	return nil
}

const subscriptionCols = `name, provider_url, username, password, movies_dir, series_dir, active, created_at`

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var s Subscription
	var active int
	var created int64
	if err := row.Scan(&s.Name, &s.ProviderURL, &s.User, &s.Pass, &s.MoviesDir, &s.SeriesDir, &active, &created); err != nil {
		return Subscription{}, err
	}
	s.Active = active != 0
	s.CreatedAt = time.Unix(created, 0).UTC()
	return s, nil
}

// PutSubscription creates or updates a subscription by name.
func (o ops) PutSubscription(ctx context.Context, s Subscription) error {
	if err := s.validate(); err != nil {
		return err
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			provider_url=excluded.provider_url,
			username=excluded.username,
			password=excluded.password,
			movies_dir=excluded.movies_dir,
			series_dir=excluded.series_dir,
			active=excluded.active`,
		s.Name, s.ProviderURL, s.User, s.Pass, s.MoviesDir, s.SeriesDir, boolInt(s.Active), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put subscription %s: %w", s.Name, err)
	}
	return nil
}

// Subscription returns the subscription called name, or ErrNotFound.
func (o ops) Subscription(ctx context.Context, name string) (Subscription, error) {
	s, err := scanSubscription(o.q.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE name = ?`, name))
	if IsNotFound(err) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("load subscription %s: %w", name, err)
	}
	return s, nil
}

// Subscriptions lists subscriptions by name; activeOnly filters inactive ones.
func (o ops) Subscriptions(ctx context.Context, activeOnly bool) ([]Subscription, error) {
	q := `SELECT ` + subscriptionCols + ` FROM subscriptions`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	rows, err := o.q.QueryContext(ctx, q+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSubscription removes a subscription. Its cache rows stay until the
// scope is reset.
func (o ops) DeleteSubscription(ctx context.Context, name string) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM subscriptions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
