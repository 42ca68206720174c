package httpclient

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

// HostSemaphore caps in-flight requests per provider host. Clients that share
// one (the process default is GlobalHostSem) share the cap, so the series
// detail fan-out and a playlist download never exceed it on one panel.
type HostSemaphore struct {
	limit int

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// GlobalHostSem is used by clients without their own semaphore.
var GlobalHostSem = NewHostSemaphore(4)

// NewHostSemaphore allows limit concurrent requests per host (min 1).
func NewHostSemaphore(limit int) *HostSemaphore {
	return &HostSemaphore{limit: max(limit, 1), slots: make(map[string]chan struct{})}
}

// AcquireContext takes a slot for the host of rawURL and returns its
// release func. It fails with ctx's error if ctx ends first.
func (h *HostSemaphore) AcquireContext(ctx context.Context, rawURL string) (func(), error) {
	slot := h.slot(hostKey(rawURL))
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HostSemaphore) slot(key string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.slots[key]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.slots[key] = s
	}
	return s
}

// hostKey is scheme://host[:port], lowercased; unparseable input is its own key.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
