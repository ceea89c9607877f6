// Package collyfetcher implements pipeline.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	// DefaultTimeout applies when the request carries no timeout of its own.
	DefaultTimeout time.Duration
}

// Fetcher implements pipeline.Fetcher using the Colly collector. Status codes
// and page bodies that look like blocking responses are reported as detection
// signals on the response rather than as errors, so callers can feed them into
// sensitivity escalation.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport and a robots.txt cache.
func New(cfg Config) *Fetcher {
	// colly v2.1.0's Async option sets Async=true regardless of its
	// argument; rely on the synchronous default instead.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = !cfg.RespectRobots

	transport := NewRobotsCacheTransport(newHTTPTransport())
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	var (
		result   pipeline.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return pipeline.FetchResponse{}, err
	}
	if result.StatusCode == 0 && fetchErr != nil {
		if isTimeout(fetchErr) {
			return pipeline.FetchResponse{
				URL:       request.URL,
				Duration:  time.Since(start),
				Detection: pipeline.DetectionTimeout,
			}, nil
		}
		return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
	}
	result.Detection = classifyResponse(result.StatusCode, result.Body)
	return result, nil
}

func (f *Fetcher) buildCollector(
	request pipeline.FetchRequest,
	start time.Time,
	result *pipeline.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	record := func(r *colly.Response) {
		*result = pipeline.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	}
	collector.OnResponse(record)
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses here; keep the response so the
		// status can be classified instead of surfaced as an error.
		if r != nil && r.StatusCode > 0 {
			record(r)
			return
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		// Visit also returns HTTP status errors; those were captured by
		// OnError with their response and are classified by the caller.
		if err != nil && *fetchErr == nil {
			*fetchErr = err
		}
		return nil
	}
}

var captchaMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("are you a robot"),
	[]byte("unusual traffic"),
	[]byte("challenge-platform"),
	[]byte("cf-chl"),
}

// classifyResponse maps blocking status codes and challenge-page bodies to a
// detection signal. Ordinary failures (404, 500) carry no signal.
func classifyResponse(status int, body []byte) pipeline.DetectionType {
	switch status {
	case http.StatusForbidden:
		return pipeline.DetectionForbidden
	case http.StatusTooManyRequests:
		return pipeline.DetectionRateLimited
	}
	if len(body) > 0 {
		probe := bytes.ToLower(body)
		if len(probe) > 64*1024 {
			probe = probe[:64*1024]
		}
		for _, marker := range captchaMarkers {
			if bytes.Contains(probe, marker) {
				return pipeline.DetectionCaptcha
			}
		}
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
