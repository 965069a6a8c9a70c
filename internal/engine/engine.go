// Package engine classifies search results against persisted monitor
// state and emits alert decisions.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/metrics"
	"github.com/quillfeed/quillwatch/internal/watch"
)

// Searcher is the aggregator boundary consumed by the engine.
type Searcher interface {
	Run(ctx context.Context, query string, limit int) watch.SearchRunResult
}

// Config carries the classification thresholds and query list.
type Config struct {
	Queries        []watch.QueryConfig
	SearchLimit    int
	AgeCeiling     time.Duration
	MinLikes       int
	GrowthFraction float64
	GrowthAbsolute int
	QueryPause     time.Duration
	Keywords       []string
	Domains        []string
	EnrichAlerts   bool
}

// Engine runs one polling cycle at a time: load state, evaluate every
// configured query in order, save state.
type Engine struct {
	searcher Searcher
	store    watch.StateStore
	sink     watch.Sink
	lookup   watch.Lookup
	clock    watch.Clock
	idGen    watch.IDGenerator
	cfg      Config
	logger   *zap.Logger
	pause    func(ctx context.Context, d time.Duration) error
}

// CycleSummary reports what one polling cycle did.
type CycleSummary struct {
	CycleID        string    `json:"cycle_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Queries        int       `json:"queries"`
	QueriesFailed  int       `json:"queries_failed"`
	Posts          int       `json:"posts"`
	Alerts         int       `json:"alerts"`
	TrackedEntries int       `json:"tracked_entries"`
}

// New constructs an Engine. lookup may be nil when enrichment is
// disabled.
func New(
	searcher Searcher,
	store watch.StateStore,
	sink watch.Sink,
	lookup watch.Lookup,
	clock watch.Clock,
	idGen watch.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 40
	}
	if cfg.MinLikes <= 0 {
		cfg.MinLikes = 5
	}
	if cfg.GrowthFraction <= 0 {
		cfg.GrowthFraction = 0.5
	}
	if cfg.GrowthAbsolute <= 0 {
		cfg.GrowthAbsolute = 5
	}
	if cfg.AgeCeiling <= 0 {
		cfg.AgeCeiling = 72 * time.Hour
	}
	return &Engine{
		searcher: searcher,
		store:    store,
		sink:     sink,
		lookup:   lookup,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
		pause:    sleepCtx,
	}
}

// Cycle runs one full polling cycle. State is loaded once at the
// start, mutated in place per query, and written back at the end. A
// failure in one query never aborts the remaining queries.
func (e *Engine) Cycle(ctx context.Context) (CycleSummary, error) {
	started := e.clock.Now()
	summary := CycleSummary{StartedAt: started, Queries: len(e.cfg.Queries)}
	if id, err := e.idGen.NewID(); err == nil {
		summary.CycleID = id
	}

	state, err := e.store.Load(ctx)
	if err != nil {
		metrics.RecordCycle("failed", e.clock.Now().Sub(started))
		return summary, fmt.Errorf("load state: %w", err)
	}

	for i, q := range e.cfg.Queries {
		if i > 0 && e.cfg.QueryPause > 0 {
			if err := e.pause(ctx, e.cfg.QueryPause); err != nil {
				break
			}
		}
		decisions, posts, failed := e.evaluate(ctx, q, &state)
		summary.Posts += posts
		if failed {
			summary.QueriesFailed++
		}
		for _, d := range decisions {
			summary.Alerts++
			metrics.RecordAlert(string(d.Reason))
			if err := e.sink.Deliver(ctx, d); err != nil {
				metrics.RecordDeliveryFailure()
				e.logger.Error("alert delivery failed",
					zap.String("alert_id", d.ID),
					zap.String("query", d.QueryKey),
					zap.String("post_id", d.Post.ID),
					zap.Error(err),
				)
			}
		}
	}

	summary.TrackedEntries = len(state.Entries)
	metrics.SetTrackedEntries(len(state.Entries))

	if err := e.store.Save(ctx, state); err != nil {
		metrics.RecordCycle("failed", e.clock.Now().Sub(started))
		summary.FinishedAt = e.clock.Now()
		return summary, fmt.Errorf("save state: %w", err)
	}

	summary.FinishedAt = e.clock.Now()
	metrics.RecordCycle("ok", summary.FinishedAt.Sub(started))
	return summary, nil
}

// evaluate runs one query and classifies every returned record in
// discovery order. It reports the decisions, the record count, and
// whether the search failed outright.
func (e *Engine) evaluate(ctx context.Context, q watch.QueryConfig, state *watch.MonitorState) ([]watch.AlertDecision, int, bool) {
	result := e.searcher.Run(ctx, q.Query, e.cfg.SearchLimit)
	if result.ErrorText != "" {
		if len(result.Posts) == 0 {
			e.logger.Warn("search failed, skipping query for this cycle",
				zap.String("query", q.Key),
				zap.String("error", result.ErrorText),
			)
			return nil, 0, true
		}
		// Partial results still carry information; classify what we
		// got and keep the failure visible in the logs.
		e.logger.Warn("search returned partial results",
			zap.String("query", q.Key),
			zap.Int("collected", len(result.Posts)),
			zap.String("error", result.ErrorText),
		)
	}

	now := e.clock.Now()
	var decisions []watch.AlertDecision
	for _, rec := range result.Posts {
		rec.Matches = e.annotate(rec)

		if rec.CreatedAt != nil && now.Sub(*rec.CreatedAt) > e.cfg.AgeCeiling {
			// Stale noise: no alert, and no entry update either.
			continue
		}

		entry, seen := state.Entries[rec.ID]
		switch {
		case !seen:
			decisions = append(decisions, e.buildAlert(ctx, watch.ReasonNew, q, rec, 0, now))
		case e.isGrowth(entry, rec):
			decisions = append(decisions, e.buildAlert(ctx, watch.ReasonGrowth, q, rec, entry.Likes, now))
		}

		state.Entries[rec.ID] = updatedEntry(entry, rec, now)
	}
	return decisions, len(result.Posts), false
}

// isGrowth applies the growth classification: the current like count
// must be known, clear the floor, exceed the stored baseline by the
// relative fraction (a zero baseline counts as one) and by the
// absolute minimum.
func (e *Engine) isGrowth(entry watch.MonitorEntry, rec watch.PostRecord) bool {
	if rec.Likes == nil {
		return false
	}
	likes := *rec.Likes
	if likes < e.cfg.MinLikes || likes <= entry.Likes {
		return false
	}
	delta := likes - entry.Likes
	base := entry.Likes
	if base == 0 {
		base = 1
	}
	if float64(delta)/float64(base) < e.cfg.GrowthFraction {
		return false
	}
	return delta >= e.cfg.GrowthAbsolute
}

// updatedEntry overwrites the stored baseline with the current
// observation. An unknown counter keeps the previous stored value
// rather than clobbering a known baseline with zero.
func updatedEntry(prev watch.MonitorEntry, rec watch.PostRecord, now time.Time) watch.MonitorEntry {
	next := prev
	if rec.Replies != nil {
		next.Replies = *rec.Replies
	}
	if rec.Reposts != nil {
		next.Reposts = *rec.Reposts
	}
	if rec.Likes != nil {
		next.Likes = *rec.Likes
	}
	next.CheckedAt = now
	return next
}

func (e *Engine) buildAlert(ctx context.Context, reason watch.AlertReason, q watch.QueryConfig, rec watch.PostRecord, prevLikes int, now time.Time) watch.AlertDecision {
	alert := watch.AlertDecision{
		Reason:     reason,
		QueryKey:   q.Key,
		QueryLabel: q.Label,
		Post:       rec,
		PrevLikes:  prevLikes,
		At:         now,
	}
	if id, err := e.idGen.NewID(); err == nil {
		alert.ID = id
	} else {
		alert.ID = rec.ID
	}

	if e.cfg.EnrichAlerts && e.lookup != nil && rec.Handle != "" {
		profile, err := e.lookup.Profile(ctx, rec.Handle)
		if err != nil {
			metrics.RecordEnrichFailure()
			e.logger.Warn("enrichment failed, alert degraded",
				zap.String("handle", rec.Handle),
				zap.String("post_id", rec.ID),
				zap.Error(err),
			)
		} else {
			alert.Author = &profile
		}
	}
	return alert
}

// annotate collects configured keywords and domains found in the post
// body. Annotation only; it never filters.
func (e *Engine) annotate(rec watch.PostRecord) []string {
	lower := strings.ToLower(rec.Text)
	var matches []string
	for _, kw := range e.cfg.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			matches = append(matches, kw)
		}
	}
	for _, domain := range e.cfg.Domains {
		if domain != "" && strings.Contains(lower, strings.ToLower(domain)) {
			matches = append(matches, domain)
		}
	}
	return matches
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
