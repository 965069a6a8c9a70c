// Package vip implements the low-frequency relationship job: it polls
// the profiles of a fixed set of tracked accounts and alerts when a
// follower or following count moves.
package vip

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/metrics"
	"github.com/quillfeed/quillwatch/internal/watch"
)

// Pair is one watched follow relationship: does Source follow Target.
type Pair struct {
	Source string
	Target string
}

func (p Pair) key() string { return p.Source + "->" + p.Target }

// snapshot is the job's own persisted memory, kept beside the monitor
// state: the last known counts per handle and follow state per pair.
type snapshot struct {
	Handles map[string]counts `json:"handles"`
	Pairs   map[string]bool   `json:"pairs,omitempty"`
}

type counts struct {
	Followers int       `json:"followers"`
	Following int       `json:"following"`
	CheckedAt time.Time `json:"checked_at"`
}

// Job polls VIP handles through the enrichment lookup.
type Job struct {
	lookup  watch.Lookup
	rel     watch.RelationshipLookup
	sink    watch.Sink
	clock   watch.Clock
	idGen   watch.IDGenerator
	handles []string
	pairs   []Pair
	path    string
	logger  *zap.Logger
}

// Summary reports one VIP poll.
type Summary struct {
	Handles int `json:"handles"`
	Failed  int `json:"failed"`
	Alerts  int `json:"alerts"`
}

// New constructs the job. rel may be nil when no pairs are watched.
func New(lookup watch.Lookup, rel watch.RelationshipLookup, sink watch.Sink, clock watch.Clock, idGen watch.IDGenerator, handles []string, pairs []Pair, path string, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		lookup:  lookup,
		rel:     rel,
		sink:    sink,
		clock:   clock,
		idGen:   idGen,
		handles: handles,
		pairs:   pairs,
		path:    path,
		logger:  logger,
	}
}

// Run polls every configured handle once. A lookup failure for one
// handle is logged and skipped; its stored counts are left untouched
// so the next successful poll compares against the real baseline.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Handles: len(j.handles)}
	snap := j.load()
	now := j.clock.Now()

	for _, handle := range j.handles {
		profile, err := j.lookup.Profile(ctx, handle)
		if err != nil {
			summary.Failed++
			j.logger.Warn("vip profile lookup failed",
				zap.String("handle", handle),
				zap.Error(err),
			)
			continue
		}

		prev, seen := snap.Handles[handle]
		if seen && (profile.Followers != prev.Followers || profile.Following != prev.Following) {
			summary.Alerts++
			j.deliver(ctx, handle, prev, profile, now)
		}
		snap.Handles[handle] = counts{
			Followers: profile.Followers,
			Following: profile.Following,
			CheckedAt: now,
		}
	}

	if j.rel != nil {
		for _, pair := range j.pairs {
			follows, err := j.rel.Follows(ctx, pair.Source, pair.Target)
			if err != nil {
				summary.Failed++
				j.logger.Warn("vip relationship lookup failed",
					zap.String("handle", pair.Source),
					zap.String("target", pair.Target),
					zap.Error(err),
				)
				continue
			}
			prev, seen := snap.Pairs[pair.key()]
			if seen && follows != prev {
				summary.Alerts++
				j.deliverPair(ctx, pair, prev, follows, now)
			}
			if snap.Pairs == nil {
				snap.Pairs = make(map[string]bool)
			}
			snap.Pairs[pair.key()] = follows
		}
	}

	if err := j.save(snap); err != nil {
		return summary, fmt.Errorf("save vip snapshot: %w", err)
	}
	return summary, nil
}

func (j *Job) deliver(ctx context.Context, handle string, prev counts, cur watch.AuthorProfile, now time.Time) {
	alert := watch.AlertDecision{
		Reason: watch.ReasonVIPChange,
		VIP: &watch.VIPChange{
			Handle:        handle,
			PrevFollowers: prev.Followers,
			Followers:     cur.Followers,
			PrevFollowing: prev.Following,
			Following:     cur.Following,
		},
		At: now,
	}
	if id, err := j.idGen.NewID(); err == nil {
		alert.ID = id
	} else {
		alert.ID = handle
	}
	metrics.RecordAlert(string(watch.ReasonVIPChange))
	if err := j.sink.Deliver(ctx, alert); err != nil {
		metrics.RecordDeliveryFailure()
		j.logger.Error("vip alert delivery failed",
			zap.String("handle", handle),
			zap.Error(err),
		)
	}
}

func (j *Job) deliverPair(ctx context.Context, pair Pair, prev, cur bool, now time.Time) {
	alert := watch.AlertDecision{
		Reason: watch.ReasonVIPChange,
		VIP: &watch.VIPChange{
			Handle:      pair.Source,
			Target:      pair.Target,
			PrevFollows: &prev,
			Follows:     &cur,
		},
		At: now,
	}
	if id, err := j.idGen.NewID(); err == nil {
		alert.ID = id
	} else {
		alert.ID = pair.key()
	}
	metrics.RecordAlert(string(watch.ReasonVIPChange))
	if err := j.sink.Deliver(ctx, alert); err != nil {
		metrics.RecordDeliveryFailure()
		j.logger.Error("vip alert delivery failed",
			zap.String("handle", pair.Source),
			zap.String("target", pair.Target),
			zap.Error(err),
		)
	}
}

// load treats a missing or unreadable snapshot as a first run, same
// contract as the monitor state file store.
func (j *Job) load() snapshot {
	snap := snapshot{Handles: make(map[string]counts)}
	raw, err := os.ReadFile(j.path)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("vip snapshot unreadable, starting fresh",
				zap.String("path", j.path),
				zap.Error(err),
			)
		}
		return snap
	}
	if err := json.Unmarshal(raw, &snap); err != nil || snap.Handles == nil {
		j.logger.Warn("vip snapshot corrupt, starting fresh",
			zap.String("path", j.path),
			zap.Error(err),
		)
		snap.Handles = make(map[string]counts)
		snap.Pairs = nil
	}
	return snap
}

func (j *Job) save(snap snapshot) error {
	// Drop handles removed from the config so the file does not grow
	// stale entries forever.
	keep := make(map[string]counts, len(j.handles))
	for _, h := range j.handles {
		if c, ok := snap.Handles[h]; ok {
			keep[h] = c
		}
	}
	snap.Handles = keep

	if len(j.pairs) == 0 {
		snap.Pairs = nil
	} else {
		keepPairs := make(map[string]bool, len(j.pairs))
		for _, p := range j.pairs {
			if v, ok := snap.Pairs[p.key()]; ok {
				keepPairs[p.key()] = v
			}
		}
		snap.Pairs = keepPairs
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".vip-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), j.path)
}
