// Package scheduler drives the periodic jobs from a single goroutine,
// so a monitor cycle and a VIP poll can never overlap each other or
// themselves.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/engine"
	"github.com/quillfeed/quillwatch/internal/vip"
	"github.com/quillfeed/quillwatch/internal/watch"
)

// MonitorJob is the engine boundary the scheduler drives.
type MonitorJob interface {
	Cycle(ctx context.Context) (engine.CycleSummary, error)
}

// RelationshipJob is the optional second, slower job.
type RelationshipJob interface {
	Run(ctx context.Context) (vip.Summary, error)
}

// Status is a point-in-time snapshot for the HTTP status endpoint.
type Status struct {
	Running        bool                 `json:"running"`
	StartedAt      time.Time            `json:"started_at"`
	CyclesRun      int                  `json:"cycles_run"`
	LastCycle      *engine.CycleSummary `json:"last_cycle,omitempty"`
	LastCycleError string               `json:"last_cycle_error,omitempty"`
	NextCycleAt    time.Time            `json:"next_cycle_at"`
	VIPRuns        int                  `json:"vip_runs"`
	LastVIP        *vip.Summary         `json:"last_vip,omitempty"`
	LastVIPError   string               `json:"last_vip_error,omitempty"`
}

// Scheduler owns the run loop. Both jobs fire once immediately on
// start, then on their own intervals.
type Scheduler struct {
	monitor         MonitorJob
	relationship    RelationshipJob
	monitorInterval time.Duration
	vipInterval     time.Duration
	clock           watch.Clock
	logger          *zap.Logger

	mu     sync.RWMutex
	status Status
}

func New(monitor MonitorJob, relationship RelationshipJob, monitorInterval, vipInterval time.Duration, clock watch.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if monitorInterval <= 0 {
		monitorInterval = 5 * time.Minute
	}
	if vipInterval <= 0 {
		vipInterval = time.Hour
	}
	return &Scheduler{
		monitor:         monitor,
		relationship:    relationship,
		monitorInterval: monitorInterval,
		vipInterval:     vipInterval,
		clock:           clock,
		logger:          logger,
	}
}

// Run blocks until ctx is canceled. Every job invocation happens on
// this goroutine; a slow cycle delays the next tick rather than
// stacking a concurrent one.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.status.Running = true
	s.status.StartedAt = s.clock.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.status.Running = false
		s.mu.Unlock()
	}()

	lastVIP := time.Time{}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		s.runMonitor(ctx)

		if s.relationship != nil {
			now := s.clock.Now()
			if lastVIP.IsZero() || now.Sub(lastVIP) >= s.vipInterval {
				s.runRelationship(ctx)
				lastVIP = now
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		next := s.clock.Now().Add(s.monitorInterval)
		s.mu.Lock()
		s.status.NextCycleAt = next
		s.mu.Unlock()
		timer.Reset(s.monitorInterval)
	}
}

// Snapshot returns a copy of the current status.
func (s *Scheduler) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) runMonitor(ctx context.Context) {
	summary, err := s.guardCycle(ctx)
	s.mu.Lock()
	s.status.CyclesRun++
	s.status.LastCycle = &summary
	s.status.LastCycleError = ""
	if err != nil {
		s.status.LastCycleError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("monitor cycle failed", zap.Error(err))
		return
	}
	s.logger.Info("monitor cycle finished",
		zap.String("cycle_id", summary.CycleID),
		zap.Int("posts", summary.Posts),
		zap.Int("alerts", summary.Alerts),
		zap.Int("queries_failed", summary.QueriesFailed),
		zap.Int("tracked_entries", summary.TrackedEntries),
	)
}

// guardCycle turns a panicking cycle into an error so one bad parse
// can never kill the loop.
func (s *Scheduler) guardCycle(ctx context.Context) (summary engine.CycleSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return s.monitor.Cycle(ctx)
}

func (s *Scheduler) runRelationship(ctx context.Context) {
	summary, err := s.guardVIP(ctx)
	s.mu.Lock()
	s.status.VIPRuns++
	s.status.LastVIP = &summary
	s.status.LastVIPError = ""
	if err != nil {
		s.status.LastVIPError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("vip poll failed", zap.Error(err))
		return
	}
	s.logger.Info("vip poll finished",
		zap.Int("handles", summary.Handles),
		zap.Int("failed", summary.Failed),
		zap.Int("alerts", summary.Alerts),
	)
}

func (s *Scheduler) guardVIP(ctx context.Context) (summary vip.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vip poll panicked: %v", r)
		}
	}()
	return s.relationship.Run(ctx)
}
