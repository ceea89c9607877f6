package collyfetcher

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const robotsCacheTTL = 1 * time.Hour

type robotsEntry struct {
	status    int
	body      []byte
	fetchedAt time.Time
}

// RobotsCacheTransport caches robots.txt responses per host so Colly's robots
// check does not refetch the file before every page on the same site.
type RobotsCacheTransport struct {
	base http.RoundTripper
	ttl  time.Duration

	mu    sync.Mutex
	hosts map[string]robotsEntry
}

// NewRobotsCacheTransport wraps base with the cache.
func NewRobotsCacheTransport(base http.RoundTripper) *RobotsCacheTransport {
	return &RobotsCacheTransport{
		base:  base,
		ttl:   robotsCacheTTL,
		hosts: make(map[string]robotsEntry),
	}
}

func (t *RobotsCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("base roundtrip: %w", err)
		}
		return resp, nil
	}

	host := req.URL.Host
	t.mu.Lock()
	entry, ok := t.hosts[host]
	t.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < t.ttl {
		return cachedResponse(req, entry), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("robots roundtrip: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close robots body: %w", closeErr)
	}

	entry = robotsEntry{status: resp.StatusCode, body: body, fetchedAt: time.Now()}
	t.mu.Lock()
	t.hosts[host] = entry
	t.mu.Unlock()
	return cachedResponse(req, entry), nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func cachedResponse(req *http.Request, entry robotsEntry) *http.Response {
	return &http.Response{
		StatusCode:    entry.status,
		Status:        http.StatusText(entry.status),
		Body:          io.NopCloser(bytes.NewReader(entry.body)),
		ContentLength: int64(len(entry.body)),
		Header:        make(http.Header),
		Request:       req,
	}
}
