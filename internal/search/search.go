// Package search drives the fetch/extract loop across result pages.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/extract"
	"github.com/quillfeed/quillwatch/internal/metrics"
	"github.com/quillfeed/quillwatch/internal/watch"
)

// maxPages is a runaway-loop guard against a source that always claims
// more results exist (including continuations that point back at a
// page already fetched).
const maxPages = 10

// searchPathPrefix constructs the first-page search path.
const searchPathPrefix = "/search?f=tweets&q="

// Aggregator collects deduplicated post records across pages.
type Aggregator struct {
	fetcher       watch.Fetcher
	archive       watch.Archive
	clock         watch.Clock
	logger        *zap.Logger
	archivePrefix string
}

// New constructs an Aggregator. archive may be nil to disable raw-page
// snapshots.
func New(fetcher watch.Fetcher, archive watch.Archive, clock watch.Clock, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		fetcher:       fetcher,
		archive:       archive,
		clock:         clock,
		logger:        logger,
		archivePrefix: "pages",
	}
}

// Run fetches pages for query until limit records are collected, no
// continuation exists, or the page ceiling is reached. A fetch failure
// mid-loop returns the partial accumulator with an error description;
// it never discards prior successful work.
func (a *Aggregator) Run(ctx context.Context, query string, limit int) watch.SearchRunResult {
	result := watch.SearchRunResult{
		Query:     query,
		FetchedAt: a.clock.Now(),
	}
	if limit <= 0 {
		return result
	}

	seen := make(map[string]struct{})
	path := searchPathPrefix + url.QueryEscape(query)

	for page := 1; page <= maxPages; page++ {
		doc, err := a.fetcher.Fetch(ctx, path)
		if err != nil {
			result.ErrorText = fmt.Sprintf("page %d fetch failed after %d records collected: %v",
				page, len(result.Posts), err)
			metrics.RecordSearchRun("partial")
			a.logger.Warn("search run ended early",
				zap.String("query", query),
				zap.Int("page", page),
				zap.Int("collected", len(result.Posts)),
				zap.Error(err),
			)
			return result
		}
		result.MirrorUsed = doc.MirrorUsed
		a.snapshot(ctx, query, page, doc)

		posts := extract.Posts(doc)
		metrics.RecordPostsExtracted(len(posts))
		for _, p := range posts {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			result.Posts = append(result.Posts, p)
			if len(result.Posts) >= limit {
				metrics.RecordSearchRun("ok")
				return result
			}
		}

		next, ok := extract.Continuation(doc.Body)
		if !ok {
			break
		}
		path = continuationPath(next)
	}

	metrics.RecordSearchRun("ok")
	return result
}

// continuationPath resolves the opaque locator from the document into
// a fetchable path.
func continuationPath(next string) string {
	if strings.HasPrefix(next, "?") {
		return "/search" + next
	}
	if strings.HasPrefix(next, "/") {
		return next
	}
	return "/" + next
}

// snapshot archives the raw page body, best effort.
func (a *Aggregator) snapshot(ctx context.Context, query string, page int, doc watch.Document) {
	if a.archive == nil {
		return
	}
	key := fmt.Sprintf("%s/%s/%d-page%02d.html",
		a.archivePrefix, sanitizeQuery(query), a.clock.Now().Unix(), page)
	if _, err := a.archive.Put(ctx, key, "text/html; charset=utf-8", doc.Body); err != nil {
		a.logger.Warn("page snapshot failed",
			zap.String("query", query),
			zap.Int("page", page),
			zap.Error(err),
		)
	}
}

func sanitizeQuery(query string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, query)
	if mapped == "" {
		return "query"
	}
	return mapped
}
