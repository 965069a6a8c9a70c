package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/watch"
)

const profilePage = `<html><body>
<div class="profile-card">
  <div class="profile-card-fullname">Alice Example</div>
  <div class="profile-card-username">@alice</div>
  <ul class="profile-statlist">
    <li><span class="profile-stat-header">Tweets</span><span class="profile-stat-num">4,210</span></li>
    <li><span class="profile-stat-header">Following</span><span class="profile-stat-num">350</span></li>
    <li><span class="profile-stat-header">Followers</span><span class="profile-stat-num">12.5K</span></li>
    <li><span class="profile-stat-header">Likes</span><span class="profile-stat-num">9,001</span></li>
  </ul>
</div>
</body></html>`

type stubFetcher struct {
	doc  watch.Document
	err  error
	path string
}

func (f *stubFetcher) Fetch(_ context.Context, path string) (watch.Document, error) {
	f.path = path
	return f.doc, f.err
}

func TestProfileParsesStats(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{doc: watch.Document{Body: []byte(profilePage)}}
	l := NewMirrorLookup(f, zap.NewNop())

	p, err := l.Profile(context.Background(), "@alice")
	require.NoError(t, err)
	require.Equal(t, "/alice", f.path)
	require.Equal(t, "alice", p.Handle)
	require.Equal(t, 12500, p.Followers)
	require.Equal(t, 350, p.Following)
}

func TestProfileFetchErrorPropagates(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{err: errors.New("mirror down")}
	l := NewMirrorLookup(f, zap.NewNop())

	_, err := l.Profile(context.Background(), "alice")
	require.ErrorContains(t, err, "mirror down")
}

func TestProfileMissingCard(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{doc: watch.Document{Body: []byte("<html><body>nothing here</body></html>")}}
	l := NewMirrorLookup(f, zap.NewNop())

	_, err := l.Profile(context.Background(), "alice")
	require.ErrorContains(t, err, "not present")
}

func TestParseStat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"4,210", 4210, true},
		{"12.5K", 12500, true},
		{"2M", 2000000, true},
		{"", 0, false},
		{"lots", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseStat(tc.in)
		require.Equal(t, tc.ok, ok, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func followPage(handles []string, cursor string) string {
	var b []byte
	b = append(b, "<html><body><div class=\"timeline\">"...)
	for _, h := range handles {
		b = append(b, `<div class="timeline-item"><a class="username">@`...)
		b = append(b, h...)
		b = append(b, `</a></div>`...)
	}
	if cursor != "" {
		b = append(b, `<div class="show-more"><a href="`...)
		b = append(b, cursor...)
		b = append(b, `">Load more</a></div>`...)
	}
	b = append(b, "</div></body></html>"...)
	return string(b)
}

type pagedFetcher struct {
	pages   map[string]string
	fetched []string
}

func (f *pagedFetcher) Fetch(_ context.Context, path string) (watch.Document, error) {
	f.fetched = append(f.fetched, path)
	body, ok := f.pages[path]
	if !ok {
		return watch.Document{}, errors.New("no fixture for " + path)
	}
	return watch.Document{Body: []byte(body)}, nil
}

func TestFollowsFindsTargetOnLaterPage(t *testing.T) {
	t.Parallel()

	f := &pagedFetcher{pages: map[string]string{
		"/alice/following":           followPage([]string{"carol", "dave"}, "?cursor=p2"),
		"/alice/following?cursor=p2": followPage([]string{"bob"}, ""),
	}}
	l := NewMirrorLookup(f, zap.NewNop())

	ok, err := l.Follows(context.Background(), "alice", "@bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, f.fetched, 2)
}

func TestFollowsNotFoundWhenListEnds(t *testing.T) {
	t.Parallel()

	f := &pagedFetcher{pages: map[string]string{
		"/alice/following": followPage([]string{"carol"}, ""),
	}}
	l := NewMirrorLookup(f, zap.NewNop())

	ok, err := l.Follows(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFollowsStopsAtPageCap(t *testing.T) {
	t.Parallel()

	// A list whose continuation always points back at itself must
	// terminate at the cap and report not-following.
	f := &pagedFetcher{pages: map[string]string{
		"/alice/following":           followPage([]string{"carol"}, "?cursor=px"),
		"/alice/following?cursor=px": followPage([]string{"carol"}, "?cursor=px"),
	}}
	l := NewMirrorLookup(f, zap.NewNop())

	ok, err := l.Follows(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, f.fetched, followPageCap)
}

func TestFollowsFetchErrorPropagates(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{err: errors.New("mirror down")}
	l := NewMirrorLookup(f, zap.NewNop())

	_, err := l.Follows(context.Background(), "alice", "bob")
	require.ErrorContains(t, err, "mirror down")
}
