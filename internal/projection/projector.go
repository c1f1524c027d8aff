// SPDX-License-Identifier: Apache-2.0

package projection

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/metrics"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/repository"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"golang.org/x/sync/errgroup"
)

const replayPageSize = 200

type CaseStore interface {
	Get(ctx context.Context, caseID string) (domain.Case, bool, error)
	Save(ctx context.Context, c domain.Case, entry domain.CaseTimelineEntry) error
	Apply(ctx context.Context, stmts []storage.Statement) error
	List(ctx context.Context, filter domain.CaseFilter) (domain.CasePage, error)
	ListAll(ctx context.Context) ([]domain.Case, error)
	Timeline(ctx context.Context, caseID string) ([]domain.CaseTimelineEntry, error)
	Totals(ctx context.Context, capabilityID string) (repository.CaseTotals, error)
	Bottlenecks(ctx context.Context, capabilityID string) ([]domain.BottleneckEntry, error)
	Recent(ctx context.Context, capabilityID string) ([]domain.Case, error)
	SubmitReview(ctx context.Context, caseID, reason, priority string, at time.Time) (bool, error)
	Delete(ctx context.Context, caseID string) (bool, error)
}

// EventSource pages through the whole log in (timestamp, seq) order.
type EventSource interface {
	ListAfter(ctx context.Context, cursor repository.Cursor, limit int) ([]domain.Event, error)
}

// Projector maintains the case projection. Live folds and RebuildFromLog go
// through the same reducer.
type Projector struct {
	cases  CaseStore
	events EventSource
	totals *TotalStates
	logger *slog.Logger
	now    func() time.Time

	// folds hold the read side; rebuild takes the write side so it never
	// interleaves with a live fold in this process.
	foldMu     sync.RWMutex
	rebuilding atomic.Bool
}

func New(cases CaseStore, events EventSource, totals *TotalStates, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	if totals == nil {
		totals = NewTotalStates(nil)
	}

	return &Projector{
		cases:  cases,
		events: events,
		totals: totals,
		logger: logger,
		now:    time.Now,
	}
}

func (p *Projector) TotalStates() *TotalStates {
	return p.totals
}

// Fold applies ev using the cached total for its capability. It returns
// folded=false without error for irrelevant or non subject-scoped events.
func (p *Projector) Fold(ctx context.Context, ev domain.Event) (bool, error) {
	_, capabilityID, _ := ev.Subject()
	return p.FoldWith(ctx, ev, p.totals.Get(capabilityID))
}

// FoldWith applies ev with an explicit journey length for progress.
func (p *Projector) FoldWith(ctx context.Context, ev domain.Event, totalStates int) (bool, error) {
	if !Relevant(ev.Type) {
		return false, nil
	}
	userID, capabilityID, ok := ev.Subject()
	if !ok {
		metrics.IncFoldSkipped()
		p.logger.Debug("fold skipped: event is not subject scoped",
			"event_id", ev.ID,
			"type", ev.Type,
			"trace_id", ev.TraceID,
		)
		return false, nil
	}

	p.foldMu.RLock()
	defer p.foldMu.RUnlock()

	caseID := CaseID(userID, capabilityID)
	existing, found, err := p.cases.Get(ctx, caseID)
	if err != nil {
		return false, err
	}
	var prev *domain.Case
	if found {
		prev = &existing
	}

	step, _ := Apply(prev, ev, totalStates)
	if step.PayloadErr != nil {
		p.logger.Warn("fold applied without typed effect",
			"event_id", ev.ID,
			"type", ev.Type,
			"error", step.PayloadErr,
		)
	}

	if err := p.cases.Save(ctx, step.Case, step.Entry); err != nil {
		return false, err
	}
	metrics.IncFolds(ev.Type)
	return true, nil
}

func (p *Projector) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	c, ok, err := p.cases.Get(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if !ok {
		return domain.Case{}, domain.ErrCaseNotFound
	}
	return c, nil
}

func (p *Projector) GetCaseByUser(ctx context.Context, userID, capabilityID string) (domain.Case, error) {
	return p.GetCase(ctx, CaseID(strings.TrimSpace(userID), strings.TrimSpace(capabilityID)))
}

func (p *Projector) ListCases(ctx context.Context, filter domain.CaseFilter) (domain.CasePage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.CasePage{}, fmt.Errorf("%w: unknown case status %q", domain.ErrInvalidFilter, filter.Status)
	}
	return p.cases.List(ctx, filter)
}

// GetCaseTimeline returns the case history in fold order.
func (p *Projector) GetCaseTimeline(ctx context.Context, caseID string) ([]domain.CaseTimelineEntry, error) {
	if _, err := p.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return p.cases.Timeline(ctx, caseID)
}

func (p *Projector) GetDashboard(ctx context.Context, capabilityID string) (domain.Dashboard, error) {
	return p.dashboard(ctx, strings.TrimSpace(capabilityID))
}

// GetDashboardAll aggregates across every capability.
func (p *Projector) GetDashboardAll(ctx context.Context) (domain.Dashboard, error) {
	return p.dashboard(ctx, "")
}

func (p *Projector) GetBottlenecks(ctx context.Context, capabilityID string) ([]domain.BottleneckEntry, error) {
	return p.cases.Bottlenecks(ctx, strings.TrimSpace(capabilityID))
}

func (p *Projector) dashboard(ctx context.Context, capabilityID string) (domain.Dashboard, error) {
	var (
		totals      repository.CaseTotals
		bottlenecks []domain.BottleneckEntry
		recent      []domain.Case
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = p.cases.Totals(gctx, capabilityID)
		return err
	})
	g.Go(func() error {
		var err error
		bottlenecks, err = p.cases.Bottlenecks(gctx, capabilityID)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = p.cases.Recent(gctx, capabilityID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}

	return domain.Dashboard{
		CapabilityID:    capabilityID,
		Total:           totals.Total,
		ByStatus:        totals.ByStatus,
		CompletionRate:  Rate(totals.ByStatus[domain.CaseCompleted], totals.Total),
		HandoffRate:     Rate(totals.ByStatus[domain.CaseHandedOff], totals.Total),
		AverageProgress: Rate(totals.ProgressSum, totals.Total*100),
		AgentActions:    totals.AgentActions,
		HumanActions:    totals.HumanActions,
		Bottlenecks:     bottlenecks,
		RecentCases:     recent,
	}, nil
}

// Rate returns round(part/total*100), or 0 when total is 0.
func Rate(part, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// SubmitReview flags a case for human review. An empty priority means normal.
func (p *Projector) SubmitReview(ctx context.Context, caseID, reason, priority string) (domain.Case, error) {
	priority = strings.ToLower(strings.TrimSpace(priority))
	switch priority {
	case "":
		priority = domain.ReviewPriorityNormal
	case domain.ReviewPriorityLow, domain.ReviewPriorityNormal, domain.ReviewPriorityHigh:
	default:
		return domain.Case{}, fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidReview, priority)
	}

	ok, err := p.cases.SubmitReview(ctx, caseID, strings.TrimSpace(reason), priority, p.now().UTC())
	if err != nil {
		return domain.Case{}, err
	}
	if !ok {
		return domain.Case{}, domain.ErrCaseNotFound
	}

	p.logger.Info("case review requested", "case_id", caseID, "priority", priority)
	return p.GetCase(ctx, caseID)
}

// DeleteCase removes the case and its timeline. Source events stay.
func (p *Projector) DeleteCase(ctx context.Context, caseID string) error {
	ok, err := p.cases.Delete(ctx, caseID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrCaseNotFound
	}
	p.logger.Info("case deleted", "case_id", caseID)
	return nil
}

type RebuildStats struct {
	EventsScanned int64         `json:"eventsScanned"`
	EventsFolded  int64         `json:"eventsFolded"`
	Cases         int           `json:"cases"`
	Duration      time.Duration `json:"duration"`
}

// RebuildFromLog drops the projection and replays every event in order. The
// replacement is written in a single transaction. Review annotations are not
// event-derived and are carried over for cases that still exist afterwards.
//
// totals overrides the cached journey lengths per capability; capabilities
// missing from it fall back to the cache.
//
// Rebuild is a maintenance operation: it excludes live folds in this process
// but not writers in other processes.
func (p *Projector) RebuildFromLog(ctx context.Context, totals map[string]int) (RebuildStats, error) {
	if !p.rebuilding.CompareAndSwap(false, true) {
		return RebuildStats{}, domain.ErrRebuildInProgress
	}
	defer p.rebuilding.Store(false)

	p.foldMu.Lock()
	defer p.foldMu.Unlock()

	started := p.now()
	p.logger.Info("projection rebuild started")

	reviewed, err := p.reviewedCases(ctx)
	if err != nil {
		return RebuildStats{}, err
	}

	type folded struct {
		c       domain.Case
		entries []domain.CaseTimelineEntry
	}
	var (
		stats  RebuildStats
		order  []string
		byCase = make(map[string]*folded)
		cursor repository.Cursor
	)

	for {
		page, err := p.events.ListAfter(ctx, cursor, replayPageSize)
		if err != nil {
			return RebuildStats{}, err
		}
		if len(page) == 0 {
			break
		}

		for _, ev := range page {
			stats.EventsScanned++

			userID, capabilityID, ok := ev.Subject()
			if !ok || !Relevant(ev.Type) {
				continue
			}
			caseID := CaseID(userID, capabilityID)
			total, known := totals[capabilityID]
			if !known {
				total = p.totals.Get(capabilityID)
			}

			cur := byCase[caseID]
			var prev *domain.Case
			if cur != nil {
				prev = &cur.c
			}
			step, _ := Apply(prev, ev, total)
			if cur == nil {
				cur = &folded{}
				byCase[caseID] = cur
				order = append(order, caseID)
			}
			cur.c = step.Case
			cur.entries = append(cur.entries, step.Entry)
			stats.EventsFolded++
		}

		cursor = repository.CursorOf(page[len(page)-1])
		if len(page) < replayPageSize {
			break
		}
	}

	stmts := repository.TruncateStmts()
	for _, caseID := range order {
		cur := byCase[caseID]
		stmts = append(stmts, repository.UpsertCaseStmt(cur.c))
		for _, entry := range cur.entries {
			stmts = append(stmts, repository.InsertTimelineStmt(entry))
		}
	}
	for _, c := range reviewed {
		if _, ok := byCase[c.CaseID]; ok {
			stmts = append(stmts, repository.RestoreReviewStmt(c))
		}
	}

	if err := p.cases.Apply(ctx, stmts); err != nil {
		return RebuildStats{}, err
	}

	stats.Cases = len(order)
	stats.Duration = p.now().Sub(started)
	metrics.ObserveRebuildDuration(stats.Duration)
	p.logger.Info("projection rebuild finished",
		"events_scanned", stats.EventsScanned,
		"events_folded", stats.EventsFolded,
		"cases", stats.Cases,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (p *Projector) reviewedCases(ctx context.Context) ([]domain.Case, error) {
	all, err := p.cases.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.ReviewStatus != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
