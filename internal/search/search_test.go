package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/watch"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	pages   map[string]watch.Document
	fetched []string
	failOn  string
}

func (f *fakeFetcher) Fetch(_ context.Context, path string) (watch.Document, error) {
	f.fetched = append(f.fetched, path)
	if f.failOn != "" && path == f.failOn {
		return watch.Document{}, errors.New("mirror down")
	}
	doc, ok := f.pages[path]
	if !ok {
		return watch.Document{}, fmt.Errorf("unexpected path %q", path)
	}
	return doc, nil
}

func makePage(ids []string, cursor string) watch.Document {
	var b strings.Builder
	b.WriteString(`<html><body><div class="timeline">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<div class="timeline-item">`+
			`<a class="tweet-link" href="/someone/status/%s#m"></a>`+
			`<div class="username">@someone</div>`+
			`<div class="tweet-content">post body for %s</div>`+
			`<div class="tweet-stats"><span class="tweet-stat">`+
			`<div class="icon-container"><span class="icon-heart"></span> 10</div>`+
			`</span></div></div>`, id, id)
	}
	if cursor != "" {
		fmt.Fprintf(&b, `<div class="show-more"><a href="?cursor=%s">Load more</a></div>`, cursor)
	}
	b.WriteString(`</div></body></html>`)
	return watch.Document{Body: []byte(b.String()), MirrorUsed: "https://mirror.test"}
}

func newAggregator(f *fakeFetcher) *Aggregator {
	return New(f, nil, fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
}

func TestRunCollectsAcrossPagesWithDedup(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]watch.Document{
		"/search?f=tweets&q=foo": makePage([]string{"1", "2"}, "P2"),
		"/search?cursor=P2":      makePage([]string{"2", "3"}, ""),
	}}

	result := newAggregator(f).Run(context.Background(), "foo", 10)
	require.Empty(t, result.ErrorText)
	require.Equal(t, "https://mirror.test", result.MirrorUsed)

	var ids []string
	for _, p := range result.Posts {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"1", "2", "3"}, ids, "duplicate across pages appears exactly once")
}

func TestRunStopsAtLimitWithoutFetchingNextPage(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]watch.Document{
		"/search?f=tweets&q=foo": makePage([]string{"1", "2"}, "P2"),
		"/search?cursor=P2":      makePage([]string{"2", "4"}, "P3"),
	}}

	result := newAggregator(f).Run(context.Background(), "foo", 3)
	require.Empty(t, result.ErrorText)
	require.Len(t, result.Posts, 3)
	require.Len(t, f.fetched, 2, "third page must never be fetched once the limit is met")
}

func TestRunHonorsPageCeilingOnContinuationLoop(t *testing.T) {
	t.Parallel()

	// The continuation points back at itself forever.
	f := &fakeFetcher{pages: map[string]watch.Document{
		"/search?f=tweets&q=loop": makePage([]string{"a"}, "SAME"),
		"/search?cursor=SAME":     makePage([]string{"a"}, "SAME"),
	}}

	result := newAggregator(f).Run(context.Background(), "loop", 100)
	require.Empty(t, result.ErrorText)
	require.Len(t, result.Posts, 1)
	require.Len(t, f.fetched, maxPages, "loop must stop at the page ceiling")
}

func TestRunKeepsPartialResultsOnMidLoopFailure(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		pages: map[string]watch.Document{
			"/search?f=tweets&q=foo": makePage([]string{"1", "2"}, "P2"),
		},
		failOn: "/search?cursor=P2",
	}

	result := newAggregator(f).Run(context.Background(), "foo", 10)
	require.Len(t, result.Posts, 2, "partial work must be preserved")
	require.Contains(t, result.ErrorText, "2 records collected")
	require.Contains(t, result.ErrorText, "mirror down")
}

func TestRunStopsWhenNoContinuation(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]watch.Document{
		"/search?f=tweets&q=foo": makePage([]string{"1"}, ""),
	}}

	result := newAggregator(f).Run(context.Background(), "foo", 10)
	require.Empty(t, result.ErrorText)
	require.Len(t, result.Posts, 1)
	require.Len(t, f.fetched, 1)
}

func TestRunEncodesQuery(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]watch.Document{
		"/search?f=tweets&q=foo+bar%22baz%22": makePage([]string{"1"}, ""),
	}}

	result := newAggregator(f).Run(context.Background(), `foo bar"baz"`, 10)
	require.Empty(t, result.ErrorText)
	require.Len(t, result.Posts, 1)
}
