// Package headless contains a fetcher that renders mirror pages in a
// headless browser. Some mirrors sit behind JavaScript interstitials
// that the plain HTTP fetcher reports as challenge pages; rendering is
// the slow path around them.
package headless

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	Mirrors           []string
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements watch.Fetcher using chromedp. Each mirror gets a
// single rendered attempt; the browser's own retries on subresources
// make per-mirror retry loops redundant here.
type Fetcher struct {
	cfg         Config
	mirrors     []string
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
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
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		mirrors:     mirrors,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders pathOrURL against each mirror in order and returns the
// first fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, pathOrURL string) (watch.Document, error) {
	targets := f.targets(pathOrURL)

	var lastErr error
	for _, t := range targets {
		html, err := f.render(ctx, t.url)
		if err != nil {
			lastErr = err
			f.logger.Warn("headless render failed, falling back",
				zap.String("mirror", t.mirror),
				zap.Error(err),
			)
			continue
		}
		return watch.Document{
			Body:       []byte(html),
			MirrorUsed: t.mirror,
			FinalURL:   t.url,
		}, nil
	}
	return watch.Document{}, &watch.ExhaustedError{
		Mirrors:  len(targets),
		Attempts: len(targets),
		Last:     lastErr,
	}
}

type target struct {
	mirror string
	url    string
}

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

func (f *Fetcher) render(ctx context.Context, rawURL string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Honor the caller's cancellation as well as the nav timeout.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	actions := []chromedp.Action{}
	if f.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	var html string
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}
