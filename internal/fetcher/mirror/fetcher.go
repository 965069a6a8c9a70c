// Package mirror implements the watch.Fetcher contract over a list of
// interchangeable read-only mirrors, using a Colly collector for the
// HTTP work. Per-mirror retries absorb transient blips; cross-mirror
// fallback absorbs a mirror being fully down or rate-limiting.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/metrics"
	"github.com/quillfeed/quillwatch/internal/watch"
)

// backoffStep is the linear backoff unit between attempts on the same
// mirror.
const backoffStep = 250 * time.Millisecond

// challengeMarkers are substrings identifying an access-challenge page
// served instead of real content. Such a body is a soft failure.
var challengeMarkers = []string{
	"Making sure you're not a bot",
	"Just a moment...",
	"Verifying your request",
}

var (
	errBodyTooSmall = errors.New("response body implausibly small")
	errChallenge    = errors.New("access challenge page served")
)

// Config controls fetcher behavior.
type Config struct {
	Mirrors          []string
	Timeout          time.Duration
	RetriesPerMirror int
	UserAgent        string
	MinBodyBytes     int
}

// Fetcher tries mirrors in order until one yields a plausible document.
type Fetcher struct {
	cfg           Config
	mirrors       []string
	baseCollector *colly.Collector
	logger        *zap.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

// New builds a Fetcher. The mirror list is normalized (trimmed,
// trailing slashes stripped); an empty list is a configuration error.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	mirrors := make([]string, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		m = strings.TrimRight(strings.TrimSpace(m), "/")
		if m != "" {
			mirrors = append(mirrors, m)
		}
	}
	if len(mirrors) == 0 {
		return nil, watch.ErrNoMirrors
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.MinBodyBytes <= 0 {
		cfg.MinBodyBytes = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true

	return &Fetcher{
		cfg:           cfg,
		mirrors:       mirrors,
		baseCollector: c,
		logger:        logger,
		sleep:         sleepCtx,
	}, nil
}

// Fetch resolves pathOrURL against each mirror in order and attempts
// up to RetriesPerMirror+1 requests per mirror with linearly growing
// backoff. The first plausible document wins; later mirrors are never
// tried after a success.
func (f *Fetcher) Fetch(ctx context.Context, pathOrURL string) (watch.Document, error) {
	targets := f.targets(pathOrURL)
	attemptsPerMirror := f.cfg.RetriesPerMirror + 1

	var lastErr error
	totalAttempts := 0
	for _, t := range targets {
		for attempt := 1; attempt <= attemptsPerMirror; attempt++ {
			if attempt > 1 {
				if err := f.sleep(ctx, backoffStep*time.Duration(attempt-1)); err != nil {
					return watch.Document{}, fmt.Errorf("fetch canceled during backoff: %w", err)
				}
			}
			totalAttempts++
			doc, err := f.attempt(ctx, t)
			if err == nil {
				metrics.RecordFetchAttempt(t.mirror, "ok")
				metrics.RecordPageFetched(t.mirror)
				return doc, nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return watch.Document{}, fmt.Errorf("fetch canceled: %w", err)
			}
			metrics.RecordFetchAttempt(t.mirror, "fail")
			lastErr = err
			f.logger.Debug("fetch attempt failed",
				zap.String("mirror", t.mirror),
				zap.String("url", t.url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		f.logger.Warn("mirror exhausted, falling back",
			zap.String("mirror", t.mirror),
			zap.Error(lastErr),
		)
	}

	return watch.Document{}, &watch.ExhaustedError{
		Mirrors:  len(targets),
		Attempts: totalAttempts,
		Last:     lastErr,
	}
}

type target struct {
	mirror string
	url    string
}

// targets expands a relative path across every mirror. An absolute URL
// is attempted as-is, with its scheme+host treated as the mirror.
func (f *Fetcher) targets(pathOrURL string) []target {
	if u, err := url.Parse(pathOrURL); err == nil && u.IsAbs() {
		return []target{{mirror: u.Scheme + "://" + u.Host, url: pathOrURL}}
	}
	path := pathOrURL
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	out := make([]target, 0, len(f.mirrors))
	for _, m := range f.mirrors {
		out = append(out, target{mirror: m, url: m + path})
	}
	return out
}

// attempt performs one GET and applies the plausibility checks.
func (f *Fetcher) attempt(ctx context.Context, t target) (watch.Document, error) {
	body, finalURL, err := f.get(ctx, t.url)
	if err != nil {
		return watch.Document{}, err
	}
	if len(body) < f.cfg.MinBodyBytes {
		return watch.Document{}, fmt.Errorf("%w: %d bytes", errBodyTooSmall, len(body))
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, []byte(marker)) {
			return watch.Document{}, fmt.Errorf("%w: %q", errChallenge, marker)
		}
	}
	return watch.Document{
		Body:       body,
		MirrorUsed: t.mirror,
		FinalURL:   finalURL,
	}, nil
}

// get executes a single HTTP GET through a cloned collector.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, "", fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return nil, "", fmt.Errorf("request %s: %w", rawURL, fetchErr)
		}
		return body, finalURL, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
