package vip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	notifymem "github.com/quillfeed/quillwatch/internal/notify/memory"
	"github.com/quillfeed/quillwatch/internal/watch"
)

var pollTime = time.Date(2025, time.March, 12, 6, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "vip-alert-1", nil }

type mapLookup struct {
	profiles map[string]watch.AuthorProfile
	errs     map[string]error
}

func (m *mapLookup) Profile(_ context.Context, handle string) (watch.AuthorProfile, error) {
	if err := m.errs[handle]; err != nil {
		return watch.AuthorProfile{}, err
	}
	return m.profiles[handle], nil
}

func newJob(t *testing.T, lookup watch.Lookup, sink watch.Sink, handles []string) (*Job, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vip.json")
	return New(lookup, nil, sink, fixedClock{pollTime}, staticIDs{}, handles, nil, path, zap.NewNop()), path
}

func TestFirstRunEstablishesBaselineQuietly(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{profiles: map[string]watch.AuthorProfile{
		"alice": {Handle: "alice", Followers: 100, Following: 50},
	}}
	sink := notifymem.New()
	job, path := newJob(t, lookup, sink, []string{"alice"})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Alerts)
	require.Empty(t, sink.Alerts())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"followers": 100`)
}

func TestAlertsOnCountChange(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{profiles: map[string]watch.AuthorProfile{
		"alice": {Handle: "alice", Followers: 100, Following: 50},
	}}
	sink := notifymem.New()
	job, _ := newJob(t, lookup, sink, []string{"alice"})

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	lookup.profiles["alice"] = watch.AuthorProfile{Handle: "alice", Followers: 130, Following: 50}
	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Alerts)

	alerts := sink.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, watch.ReasonVIPChange, alerts[0].Reason)
	require.NotNil(t, alerts[0].VIP)
	require.Equal(t, 100, alerts[0].VIP.PrevFollowers)
	require.Equal(t, 130, alerts[0].VIP.Followers)
}

func TestUnchangedCountsStayQuiet(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{profiles: map[string]watch.AuthorProfile{
		"alice": {Handle: "alice", Followers: 100, Following: 50},
	}}
	sink := notifymem.New()
	job, _ := newJob(t, lookup, sink, []string{"alice"})

	for i := 0; i < 2; i++ {
		_, err := job.Run(context.Background())
		require.NoError(t, err)
	}
	require.Empty(t, sink.Alerts())
}

func TestLookupFailureLeavesBaselineIntact(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{
		profiles: map[string]watch.AuthorProfile{
			"alice": {Handle: "alice", Followers: 100, Following: 50},
			"bob":   {Handle: "bob", Followers: 7, Following: 7},
		},
	}
	sink := notifymem.New()
	job, _ := newJob(t, lookup, sink, []string{"alice", "bob"})

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	// Alice's mirror breaks for one poll; Bob still gets checked.
	lookup.errs = map[string]error{"alice": errors.New("profile page gone")}
	lookup.profiles["bob"] = watch.AuthorProfile{Handle: "bob", Followers: 8, Following: 7}
	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Alerts)

	// When Alice comes back unchanged, the preserved baseline means
	// no spurious alert.
	lookup.errs = nil
	summary, err = job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Alerts)
}

func TestCorruptSnapshotIsFreshStart(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{profiles: map[string]watch.AuthorProfile{
		"alice": {Handle: "alice", Followers: 3, Following: 3},
	}}
	sink := notifymem.New()
	job, path := newJob(t, lookup, sink, []string{"alice"})
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Alerts)
	require.Empty(t, sink.Alerts())
}

type mapRelLookup struct {
	follows map[string]bool
	errs    map[string]error
}

func (m *mapRelLookup) Follows(_ context.Context, handle, target string) (bool, error) {
	key := handle + "->" + target
	if err := m.errs[key]; err != nil {
		return false, err
	}
	return m.follows[key], nil
}

func TestPairAlertsOnFollowFlip(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{profiles: map[string]watch.AuthorProfile{}}
	rel := &mapRelLookup{follows: map[string]bool{"alice->bob": true}}
	sink := notifymem.New()
	path := filepath.Join(t.TempDir(), "vip.json")
	pairs := []Pair{{Source: "alice", Target: "bob"}}
	job := New(lookup, rel, sink, fixedClock{pollTime}, staticIDs{}, nil, pairs, path, zap.NewNop())

	// First run records the baseline without alerting.
	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Alerts)

	// Alice unfollows Bob.
	rel.follows["alice->bob"] = false
	summary, err = job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Alerts)

	alerts := sink.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, watch.ReasonVIPChange, alerts[0].Reason)
	require.NotNil(t, alerts[0].VIP)
	require.Equal(t, "bob", alerts[0].VIP.Target)
	require.NotNil(t, alerts[0].VIP.PrevFollows)
	require.True(t, *alerts[0].VIP.PrevFollows)
	require.False(t, *alerts[0].VIP.Follows)
}

func TestPairLookupFailurePreservesBaseline(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{profiles: map[string]watch.AuthorProfile{}}
	rel := &mapRelLookup{follows: map[string]bool{"alice->bob": true}}
	sink := notifymem.New()
	path := filepath.Join(t.TempDir(), "vip.json")
	pairs := []Pair{{Source: "alice", Target: "bob"}}
	job := New(lookup, rel, sink, fixedClock{pollTime}, staticIDs{}, nil, pairs, path, zap.NewNop())

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	rel.errs = map[string]error{"alice->bob": errors.New("mirror down")}
	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)

	rel.errs = nil
	summary, err = job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Alerts)
}

func TestRemovedHandlesDropFromSnapshot(t *testing.T) {
	t.Parallel()

	lookup := &mapLookup{profiles: map[string]watch.AuthorProfile{
		"alice": {Handle: "alice", Followers: 1, Following: 1},
		"bob":   {Handle: "bob", Followers: 2, Following: 2},
	}}
	sink := notifymem.New()
	job, path := newJob(t, lookup, sink, []string{"alice", "bob"})
	_, err := job.Run(context.Background())
	require.NoError(t, err)

	trimmed := New(lookup, nil, sink, fixedClock{pollTime}, staticIDs{}, []string{"alice"}, nil, path, zap.NewNop())
	_, err = trimmed.Run(context.Background())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"alice"`)
	require.NotContains(t, string(raw), `"bob"`)
}
