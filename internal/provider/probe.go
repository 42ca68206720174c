// Package provider checks that configured catalog sources are reachable
// before a sync is attempted: Xtream accounts via player_api.php and
// playlist sources by URL or file.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/snapetech/iptvstrm/internal/indexer"
	"github.com/snapetech/iptvstrm/internal/safeurl"
)

// Result is the outcome of probing one source.
type Result struct {
	Name       string `json:"name"`
	Target     string `json:"target"` // redacted URL or file path
	Status     Status `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Detail     string `json:"detail,omitempty"`
}

type Status string

const (
	StatusOK         Status = "ok"
	StatusAuthFailed Status = "auth_failed"
	StatusCloudflare Status = "cloudflare"
	StatusBadStatus  Status = "bad_status"
	StatusNotM3U     Status = "not_m3u"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// ProbeAccount authenticates against the panel behind c.
func ProbeAccount(ctx context.Context, name string, c *indexer.Client) Result {
	start := time.Now()
	r := Result{Name: name, Target: safeurl.Redact(c.BaseURL)}
	info, err := c.Authenticate(ctx)
	r.LatencyMs = time.Since(start).Milliseconds()
	switch {
	case err == nil:
		r.Status = StatusOK
		r.Detail = fmt.Sprintf("status=%s max_connections=%d", info.Status, info.MaxConnections)
		if !info.ExpiresAt.IsZero() {
			r.Detail += " expires=" + info.ExpiresAt.Format(time.DateOnly)
		}
	case errors.Is(err, indexer.ErrAuthFailed):
		r.Status = StatusAuthFailed
	default:
		r.Status = classifyErr(err)
		r.Detail = err.Error()
	}
	return r
}

// ProbePlaylist checks a playlist source. URLs are fetched and the first
// bytes must look like M3U; file paths must exist on fs and be readable.
func ProbePlaylist(ctx context.Context, name, location string, isFile bool, fs afero.Fs, client *http.Client) Result {
	if isFile {
		return probeFile(name, location, fs)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	r := Result{Name: name, Target: safeurl.Redact(location)}
	if !safeurl.IsHTTPOrHTTPS(location) {
		r.Status = StatusError
		r.Detail = "playlist url must be http or https"
		return r
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		r.Status = StatusError
		return r
	}
	req.Header.Set("User-Agent", "iptvstrm/1.0")
	resp, err := client.Do(req)
	r.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		r.Status = classifyErr(err)
		return r
	}
	defer resp.Body.Close()
	preview := make([]byte, 512)
	n, _ := io.ReadFull(resp.Body, preview)
	previewStr := strings.ToLower(string(preview[:n]))
	r.StatusCode = resp.StatusCode

	// Only call it Cloudflare when the server header or challenge page says so.
	server := strings.ToLower(strings.TrimSpace(resp.Header.Get("Server")))
	isCFServer := server == "cloudflare"
	bodyHasCFChallenge := strings.Contains(previewStr, "checking your browser") ||
		strings.Contains(previewStr, "cf-bypass") ||
		strings.Contains(previewStr, "ray id")
	switch resp.StatusCode {
	case 403, 503, 520, 521, 524:
		if bodyHasCFChallenge || isCFServer {
			r.Status = StatusCloudflare
			return r
		}
	}
	if isCFServer && resp.StatusCode != http.StatusOK {
		r.Status = StatusCloudflare
		return r
	}
	if resp.StatusCode != http.StatusOK {
		r.Status = StatusBadStatus
		return r
	}
	if !looksLikeM3U(previewStr) {
		r.Status = StatusNotM3U
		return r
	}
	r.Status = StatusOK
	return r
}

func probeFile(name, path string, fs afero.Fs) Result {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	r := Result{Name: name, Target: path}
	start := time.Now()
	f, err := fs.Open(path)
	if err != nil {
		r.Status = StatusError
		r.Detail = err.Error()
		return r
	}
	defer f.Close()
	preview := make([]byte, 512)
	n, _ := io.ReadFull(f, preview)
	r.LatencyMs = time.Since(start).Milliseconds()
	if !looksLikeM3U(strings.ToLower(string(preview[:n]))) {
		r.Status = StatusNotM3U
		return r
	}
	r.Status = StatusOK
	return r
}

func looksLikeM3U(lowerPreview string) bool {
	s := strings.TrimPrefix(strings.TrimSpace(lowerPreview), "\ufeff")
	return strings.HasPrefix(s, "#extm3u") || strings.Contains(s, "#extinf")
}

func classifyErr(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return StatusTimeout
	}
	return StatusError
}

// Sort orders results OK first (fastest first), then the rest by name.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		okI := results[i].Status == StatusOK
		okJ := results[j].Status == StatusOK
		if okI != okJ {
			return okI
		}
		if okI {
			return results[i].LatencyMs < results[j].LatencyMs
		}
		return results[i].Name < results[j].Name
	})
}

// AllOK reports whether every result is OK.
func AllOK(results []Result) bool {
	for _, r := range results {
		if r.Status != StatusOK {
			return false
		}
	}
	return true
}
