// Package enrich resolves account metadata through the same mirrors
// used for search. Enrichment is best effort: its failure degrades an
// alert payload, never suppresses the alert.
package enrich

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/extract"
	"github.com/quillfeed/quillwatch/internal/watch"
)

// Profile page selectors for the mirror markup.
const (
	cardSelector   = ".profile-card"
	statSelector   = ".profile-statlist li"
	headerSelector = ".profile-stat-header"
	numSelector    = ".profile-stat-num"
)

// MirrorLookup implements watch.Lookup by scraping profile pages.
type MirrorLookup struct {
	fetcher watch.Fetcher
	logger  *zap.Logger
}

// NewMirrorLookup creates a lookup backed by the given fetcher.
func NewMirrorLookup(fetcher watch.Fetcher, logger *zap.Logger) *MirrorLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorLookup{fetcher: fetcher, logger: logger}
}

// Profile fetches and parses the account page for handle.
func (l *MirrorLookup) Profile(ctx context.Context, handle string) (watch.AuthorProfile, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return watch.AuthorProfile{}, fmt.Errorf("handle is required")
	}

	doc, err := l.fetcher.Fetch(ctx, "/"+url.PathEscape(handle))
	if err != nil {
		return watch.AuthorProfile{}, fmt.Errorf("fetch profile %s: %w", handle, err)
	}

	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return watch.AuthorProfile{}, fmt.Errorf("parse profile %s: %w", handle, err)
	}
	card := root.Find(cardSelector).First()
	if card.Length() == 0 {
		return watch.AuthorProfile{}, fmt.Errorf("profile %s not present in document", handle)
	}

	profile := watch.AuthorProfile{Handle: handle}
	card.Find(statSelector).Each(func(_ int, item *goquery.Selection) {
		header := strings.ToLower(strings.TrimSpace(item.Find(headerSelector).Text()))
		value, ok := parseStat(item.Find(numSelector).Text())
		if !ok {
			return
		}
		switch header {
		case "followers":
			profile.Followers = value
		case "following":
			profile.Following = value
		}
	})
	return profile, nil
}

// parseStat tolerates thousands separators and the mirror's K/M
// abbreviations.
func parseStat(raw string) (int, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, false
	}
	multiplier := 1.0
	switch {
	case strings.HasSuffix(cleaned, "K"):
		multiplier = 1_000
		cleaned = strings.TrimSuffix(cleaned, "K")
	case strings.HasSuffix(cleaned, "M"):
		multiplier = 1_000_000
		cleaned = strings.TrimSuffix(cleaned, "M")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(f * multiplier), true
}

// followPageCap bounds the walk through a following list. Accounts
// following tens of thousands of others would otherwise turn one
// relationship check into an unbounded crawl.
const followPageCap = 5

// Follows walks handle's following list looking for target. Paginated
// the same way search timelines are; the walk stops at the page cap
// and reports not-following rather than erroring.
func (l *MirrorLookup) Follows(ctx context.Context, handle, target string) (bool, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	target = strings.TrimPrefix(strings.TrimSpace(target), "@")
	if handle == "" || target == "" {
		return false, fmt.Errorf("handle and target are required")
	}

	next := "/" + url.PathEscape(handle) + "/following"
	for page := 0; page < followPageCap; page++ {
		doc, err := l.fetcher.Fetch(ctx, next)
		if err != nil {
			return false, fmt.Errorf("fetch following list %s page %d: %w", handle, page+1, err)
		}
		root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
		if err != nil {
			return false, fmt.Errorf("parse following list %s: %w", handle, err)
		}

		found := false
		root.Find(".timeline-item .username").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(s.Text()), "@"), target) {
				found = true
				return false
			}
			return true
		})
		if found {
			return true, nil
		}

		cursor, ok := extract.Continuation(doc.Body)
		if !ok {
			return false, nil
		}
		next = continuationPath(handle, cursor)
	}
	l.logger.Debug("following walk hit page cap",
		zap.String("handle", handle),
		zap.String("target", target),
	)
	return false, nil
}

// continuationPath rebases a "?cursor=..." continuation onto the
// following list path.
func continuationPath(handle, cursor string) string {
	if strings.HasPrefix(cursor, "?") {
		return "/" + url.PathEscape(handle) + "/following" + cursor
	}
	return cursor
}

// Noop implements watch.Lookup without doing any work. Used when
// enrichment is disabled.
type Noop struct{}

// Profile always reports that enrichment is unavailable.
func (Noop) Profile(_ context.Context, handle string) (watch.AuthorProfile, error) {
	return watch.AuthorProfile{}, fmt.Errorf("enrichment disabled for %s", handle)
}

// Follows always reports that enrichment is unavailable.
func (Noop) Follows(_ context.Context, handle, _ string) (bool, error) {
	return false, fmt.Errorf("enrichment disabled for %s", handle)
}
