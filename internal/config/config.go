package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/iptvstrm/internal/store"
)

// Config holds process settings. Provider and directory values here are the
// environment layer of Settings; stored settings and subscriptions override
// them per run.
type Config struct {
	Defaults Settings

	DBPath   string // e.g. /var/lib/iptvstrm/state.db
	SeedFile string // optional TOML seed applied at startup

	// Logging: stdout always, plus a rotated file when LogFile is set.
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Provider HTTP client.
	HTTPTimeout       time.Duration
	HTTPRetries       uint
	RequestsPerSecond float64
	RequestBurst      int
	HostConcurrency   int

	// Reconciliation.
	DetailConcurrency int // parallel get_series_info calls per run
	Workers           int // concurrent background jobs

	ScheduleInterval time.Duration
	ListenAddr       string // status server (/healthz, /metrics, /status)
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load() to use a .env file.
// If the provider user or password is empty, Load tries STRM_SUBSCRIPTION_FILE with "Username:" / "Password:" lines.
func Load() *Config {
	c := &Config{
		Defaults: Settings{
			ProviderURL: os.Getenv("STRM_PROVIDER_URL"),
			User:        os.Getenv("STRM_PROVIDER_USER"),
			Pass:        os.Getenv("STRM_PROVIDER_PASS"),
			OutputDir:   getEnv("STRM_OUTPUT_DIR", "/output"),
			MoviesDir:   os.Getenv("STRM_MOVIES_DIR"),
			SeriesDir:   os.Getenv("STRM_SERIES_DIR"),
		},
		DBPath:            getEnv("STRM_DB", "./iptvstrm.db"),
		SeedFile:          os.Getenv("STRM_SEED_FILE"),
		LogFile:           os.Getenv("STRM_LOG_FILE"),
		LogMaxSizeMB:      getEnvInt("STRM_LOG_MAX_SIZE_MB", 10),
		LogMaxBackups:     getEnvInt("STRM_LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays:     getEnvInt("STRM_LOG_MAX_AGE_DAYS", 28),
		HTTPTimeout:       getEnvDuration("STRM_HTTP_TIMEOUT", 60*time.Second),
		HTTPRetries:       uint(getEnvInt("STRM_HTTP_RETRIES", 4)),
		RequestsPerSecond: getEnvFloat("STRM_HTTP_RPS", 0),
		RequestBurst:      getEnvInt("STRM_HTTP_BURST", 1),
		HostConcurrency:   getEnvInt("STRM_HTTP_HOST_CONCURRENCY", 4),
		DetailConcurrency: getEnvInt("STRM_DETAIL_CONCURRENCY", 4),
		Workers:           getEnvInt("STRM_WORKERS", 2),
		ScheduleInterval:  getEnvDuration("STRM_SCHEDULE_INTERVAL", time.Minute),
		ListenAddr:        getEnv("STRM_LISTEN", ":8080"),
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = 4
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HostConcurrency <= 0 {
		c.HostConcurrency = 4
	}
	if c.HTTPRetries == 0 {
		c.HTTPRetries = 1
	}
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = time.Minute
	}
	if c.Defaults.User == "" || c.Defaults.Pass == "" {
		if user, pass, err := readSubscriptionFile(os.Getenv("STRM_SUBSCRIPTION_FILE")); err == nil {
			if c.Defaults.User == "" {
				c.Defaults.User = user
			}
			if c.Defaults.Pass == "" {
				c.Defaults.Pass = pass
			}
		}
	}
	return c
}

// Settings are the provider credentials and output directories a sync run
// uses. Each source (subscription, stored settings, environment) yields one
// layer; Resolve merges them.
type Settings struct {
	ProviderURL string
	User        string
	Pass        string
	OutputDir   string
	MoviesDir   string
	SeriesDir   string
}

// FromStored maps the stored settings table onto a Settings layer.
func FromStored(kv map[string]string) Settings {
	return Settings{
		ProviderURL: kv[store.SettingProviderURL],
		User:        kv[store.SettingUser],
		Pass:        kv[store.SettingPass],
		OutputDir:   kv[store.SettingOutputDir],
		MoviesDir:   kv[store.SettingMoviesDir],
		SeriesDir:   kv[store.SettingSeriesDir],
	}
}

// FromSubscription maps a subscription onto a Settings layer.
func FromSubscription(s store.Subscription) Settings {
	return Settings{
		ProviderURL: s.ProviderURL,
		User:        s.User,
		Pass:        s.Pass,
		MoviesDir:   s.MoviesDir,
		SeriesDir:   s.SeriesDir,
	}
}

// Resolve merges layers field by field; the first non-empty value wins, so
// pass the most specific layer first.
func Resolve(layers ...Settings) Settings {
	var out Settings
	pick := func(dst *string, v string) {
		if *dst == "" {
			*dst = strings.TrimSpace(v)
		}
	}
	for _, l := range layers {
		pick(&out.ProviderURL, l.ProviderURL)
		pick(&out.User, l.User)
		pick(&out.Pass, l.Pass)
		pick(&out.OutputDir, l.OutputDir)
		pick(&out.MoviesDir, l.MoviesDir)
		pick(&out.SeriesDir, l.SeriesDir)
	}
	return out
}

// HasCredentials reports whether URL, user and password are all set.
func (s Settings) HasCredentials() bool {
	return s.ProviderURL != "" && s.User != "" && s.Pass != ""
}

// MoviesRoot is MoviesDir, or {OutputDir}/movies.
func (s Settings) MoviesRoot() string {
	if s.MoviesDir != "" {
		return s.MoviesDir
	}
	if s.OutputDir == "" {
		return ""
	}
	return filepath.Join(s.OutputDir, "movies")
}

// SeriesRoot is SeriesDir, or {OutputDir}/series.
func (s Settings) SeriesRoot() string {
	if s.SeriesDir != "" {
		return s.SeriesDir
	}
	if s.OutputDir == "" {
		return ""
	}
	return filepath.Join(s.OutputDir, "series")
}

// readSubscriptionFile reads "Username: x" and "Password: x" from path.
func readSubscriptionFile(path string) (user, pass string, err error) {
	if path == "" {
		return "", "", os.ErrNotExist
	}
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Username:") {
			user = strings.TrimSpace(strings.TrimPrefix(line, "Username:"))
		} else if strings.HasPrefix(line, "Password:") {
			pass = strings.TrimSpace(strings.TrimPrefix(line, "Password:"))
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("subscription file: missing Username or Password")
	}
	return user, pass, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f < 0 {
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
