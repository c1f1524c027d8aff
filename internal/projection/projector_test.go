// SPDX-License-Identifier: Apache-2.0

package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/repository"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	events    *repository.EventRepository
	cases     *repository.CaseRepository
	projector *Projector
}

func newHarness(t *testing.T, db storage.Adapter, totals map[string]int) *harness {
	t.Helper()

	logger := storagetest.DiscardLogger()
	events := repository.NewEventRepository(db, logger)
	cases := repository.NewCaseRepository(db, logger)
	p := New(cases, events, NewTotalStates(totals), logger)
	p.now = func() time.Time { return baseTime }
	return &harness{events: events, cases: cases, projector: p}
}

// emit mirrors the live path: durable append, then fold.
func (h *harness) emit(t *testing.T, ev domain.Event) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.events.Append(ctx, ev))
	_, err := h.projector.Fold(ctx, ev)
	require.NoError(t, err)
}

type projectionSnapshot struct {
	Cases     []domain.Case
	Timelines map[string][]domain.CaseTimelineEntry
}

// snapshot reads every case and timeline. Timeline surrogate ids are
// zeroed because a rebuild assigns new ones.
func (h *harness) snapshot(t *testing.T) projectionSnapshot {
	t.Helper()

	ctx := context.Background()
	cases, err := h.cases.ListAll(ctx)
	require.NoError(t, err)

	out := projectionSnapshot{Cases: cases, Timelines: map[string][]domain.CaseTimelineEntry{}}
	for _, c := range cases {
		timeline, err := h.cases.Timeline(ctx, c.CaseID)
		require.NoError(t, err)
		for i := range timeline {
			timeline[i].ID = 0
		}
		out.Timelines[c.CaseID] = timeline
	}
	return out
}

func TestScenarioIdentityVerified(t *testing.T) {
	storagetest.ForEachBackend(t, func(t *testing.T, db storage.Adapter) {
		h := newHarness(t, db, map[string]int{"c1": 5})
		h.emit(t, subjectEvent(1, domain.EventStateTransition, `{"from":"not-started","to":"identity-verified"}`))

		c, err := h.projector.GetCaseByUser(context.Background(), "u1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "identity-verified", c.CurrentState)
		assert.Equal(t, 40, c.ProgressPercent)
		assert.Equal(t, domain.CaseInProgress, c.Status)
	})
}

func TestScenarioIneligibleRejected(t *testing.T) {
	storagetest.ForEachBackend(t, func(t *testing.T, db storage.Adapter) {
		h := newHarness(t, db, nil)
		h.emit(t, subjectEvent(1, domain.EventPolicyEvaluated, `{"eligible":false}`))
		h.emit(t, subjectEvent(2, domain.EventStateTransition, `{"from":"eligibility-checked","to":"rejected"}`))

		c, err := h.projector.GetCaseByUser(context.Background(), "u1", "c1")
		require.NoError(t, err)
		assert.Equal(t, domain.CaseRejected, c.Status)
		assert.True(t, c.EligibilityChecked)
		require.NotNil(t, c.EligibilityResult)
		assert.False(t, *c.EligibilityResult)
	})
}

func TestScenarioRebuildAfterDeletingCases(t *testing.T) {
	storagetest.ForEachBackend(t, func(t *testing.T, db storage.Adapter) {
		ctx := context.Background()
		h := newHarness(t, db, map[string]int{"c1": 6, "c2": 3})

		second := subjectEvent(5, domain.EventStateTransition, `{"from":"a","to":"completed"}`)
		second.Metadata.CapabilityID = "c2"
		for _, ev := range []domain.Event{
			subjectEvent(1, domain.EventStateTransition, `{"from":"not-started","to":"identity-verified"}`),
			subjectEvent(2, domain.EventConsentGranted, `{"scope":"address"}`),
			subjectEvent(3, domain.EventLLMRequest, `{}`),
			subjectEvent(4, domain.EventHandoffInitiated, `{"reason":"stuck"}`),
			second,
		} {
			h.emit(t, ev)
		}

		before := h.snapshot(t)
		require.Len(t, before.Cases, 2)

		for _, c := range before.Cases {
			require.NoError(t, h.projector.DeleteCase(ctx, c.CaseID))
		}
		empty := h.snapshot(t)
		require.Empty(t, empty.Cases)

		stats, err := h.projector.RebuildFromLog(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), stats.EventsScanned)
		assert.Equal(t, int64(5), stats.EventsFolded)
		assert.Equal(t, 2, stats.Cases)

		assert.Equal(t, before, h.snapshot(t))

		n, err := h.events.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n, "rebuild never touches the log")
	})
}

func TestRebuildSkipsIrrelevantAndAnonymousEvents(t *testing.T) {
	storagetest.ForEachBackend(t, func(t *testing.T, db storage.Adapter) {
		ctx := context.Background()
		h := newHarness(t, db, nil)

		anonymous := subjectEvent(2, domain.EventLLMRequest, `{}`)
		anonymous.Metadata.UserID = ""
		for _, ev := range []domain.Event{
			subjectEvent(1, domain.EventType("page-viewed"), `{}`),
			anonymous,
			subjectEvent(3, domain.EventLLMResponse, `{}`),
		} {
			h.emit(t, ev)
		}

		stats, err := h.projector.RebuildFromLog(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.EventsScanned)
		assert.Equal(t, int64(1), stats.EventsFolded)

		c, err := h.projector.GetCaseByUser(ctx, "u1", "c1")
		require.NoError(t, err)
		assert.Equal(t, 1, c.EventCount)
	})
}

func TestRebuildPagesThroughLargeLogs(t *testing.T) {
	db := storagetest.SQLite(t)
	ctx := context.Background()
	h := newHarness(t, db, map[string]int{"c1": 10})

	batch := make([]domain.Event, 0, replayPageSize*2+7)
	for i := 0; i < cap(batch); i++ {
		batch = append(batch, subjectEvent(i, domain.EventCapabilityInvoked, `{}`))
	}
	require.NoError(t, h.events.AppendBatch(ctx, batch))

	stats, err := h.projector.RebuildFromLog(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(batch)), stats.EventsScanned)

	c, err := h.projector.GetCaseByUser(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, len(batch), c.AgentActions)
	assert.Equal(t, len(batch), c.EventCount)
}

func TestRebuildUsesExplicitTotals(t *testing.T) {
	db := storagetest.SQLite(t)
	ctx := context.Background()
	h := newHarness(t, db, map[string]int{"c1": 10})
	h.emit(t, subjectEvent(1, domain.EventStateTransition, `{"from":"a","to":"b"}`))

	c, err := h.projector.GetCaseByUser(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 20, c.ProgressPercent)

	_, err = h.projector.RebuildFromLog(ctx, map[string]int{"c1": 4})
	require.NoError(t, err)

	c, err = h.projector.GetCaseByUser(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 50, c.ProgressPercent)
}

func TestRebuildKeepsReviewAnnotations(t *testing.T) {
	db := storagetest.SQLite(t)
	ctx := context.Background()
	h := newHarness(t, db, nil)
	h.emit(t, subjectEvent(1, domain.EventStateTransition, `{"to":"a"}`))

	caseID := CaseID("u1", "c1")
	_, err := h.projector.SubmitReview(ctx, caseID, "looks stuck", "HIGH")
	require.NoError(t, err)

	_, err = h.projector.RebuildFromLog(ctx, nil)
	require.NoError(t, err)

	c, err := h.projector.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewPending, c.ReviewStatus)
	assert.Equal(t, domain.ReviewPriorityHigh, c.ReviewPriority)
	assert.Equal(t, "looks stuck", c.ReviewReason)
	require.NotNil(t, c.ReviewRequestedAt)
	assert.True(t, c.ReviewRequestedAt.Equal(baseTime))
}

func TestRebuildRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, storagetest.SQLite(t), nil)
	h.projector.rebuilding.Store(true)

	_, err := h.projector.RebuildFromLog(context.Background(), nil)
	assert.True(t, errors.Is(err, domain.ErrRebuildInProgress))
}

func TestSubmitReviewValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storagetest.SQLite(t), nil)

	_, err := h.projector.SubmitReview(ctx, "missing", "", "")
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)

	h.emit(t, subjectEvent(1, domain.EventLLMRequest, `{}`))
	_, err = h.projector.SubmitReview(ctx, CaseID("u1", "c1"), "", "urgent")
	assert.ErrorIs(t, err, domain.ErrInvalidReview)

	c, err := h.projector.SubmitReview(ctx, CaseID("u1", "c1"), "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewPriorityNormal, c.ReviewPriority)
}

func TestDeleteCaseKeepsEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storagetest.SQLite(t), nil)
	h.emit(t, subjectEvent(1, domain.EventLLMRequest, `{}`))

	caseID := CaseID("u1", "c1")
	require.NoError(t, h.projector.DeleteCase(ctx, caseID))
	assert.ErrorIs(t, h.projector.DeleteCase(ctx, caseID), domain.ErrCaseNotFound)

	_, err := h.projector.GetCaseTimeline(ctx, caseID)
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)

	_, err = h.events.Get(ctx, "evt-0001")
	assert.NoError(t, err)
}

func TestTimelineCoversEveryFoldedEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storagetest.SQLite(t), nil)
	h.emit(t, subjectEvent(1, domain.EventLLMRequest, `{}`))
	h.emit(t, subjectEvent(2, domain.EventLLMResponse, `{"model":"m"}`))
	h.emit(t, subjectEvent(3, domain.EventReceiptIssued, `{}`))

	timeline, err := h.projector.GetCaseTimeline(ctx, CaseID("u1", "c1"))
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, domain.EventLLMResponse, timeline[1].EventType)
	assert.JSONEq(t, `{"model":"m"}`, string(timeline[1].Payload))
}

func TestListCasesRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, storagetest.SQLite(t), nil)
	_, err := h.projector.ListCases(context.Background(), domain.CaseFilter{Status: "paused"})
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)
}

func TestDashboardMath(t *testing.T) {
	storagetest.ForEachBackend(t, func(t *testing.T, db storage.Adapter) {
		ctx := context.Background()
		h := newHarness(t, db, map[string]int{"c1": 4})

		n := 0
		emitFor := func(user, payload string, eventType domain.EventType) {
			n++
			ev := subjectEvent(n, eventType, payload)
			ev.Metadata.UserID = user
			h.emit(t, ev)
		}
		emitFor("u1", `{"from":"a","to":"completed"}`, domain.EventStateTransition)
		emitFor("u2", `{"from":"a","to":"b"}`, domain.EventStateTransition)
		emitFor("u3", `{"from":"a","to":"b"}`, domain.EventStateTransition)
		emitFor("u4", `{"reason":"help"}`, domain.EventHandoffInitiated)
		emitFor("u4", `{}`, domain.EventCredentialPresented)
		emitFor("u2", `{}`, domain.EventLLMRequest)

		d, err := h.projector.GetDashboard(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), d.Total)
		assert.Equal(t, int64(1), d.ByStatus[domain.CaseCompleted])
		assert.Equal(t, int64(2), d.ByStatus[domain.CaseInProgress])
		assert.Equal(t, int64(1), d.ByStatus[domain.CaseHandedOff])
		assert.Equal(t, int64(0), d.ByStatus[domain.CaseRejected])
		assert.Equal(t, 25, d.CompletionRate)
		assert.Equal(t, 25, d.HandoffRate)
		// three cases at 50%, one with no transitions
		assert.Equal(t, 38, d.AverageProgress)
		assert.Equal(t, int64(1), d.AgentActions)
		assert.Equal(t, int64(1), d.HumanActions)
		assert.Equal(t, []domain.BottleneckEntry{{State: "b", Count: 2}}, d.Bottlenecks)
		require.Len(t, d.RecentCases, 4)
		assert.Equal(t, "u2", d.RecentCases[0].UserID)

		all, err := h.projector.GetDashboardAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, d.Total, all.Total)
		assert.Empty(t, all.CapabilityID)

		empty, err := h.projector.GetDashboard(ctx, "none")
		require.NoError(t, err)
		assert.Equal(t, 0, empty.CompletionRate)
		assert.Equal(t, 0, empty.AverageProgress)
		assert.Empty(t, empty.Bottlenecks)
	})
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0, Rate(3, 0))
	assert.Equal(t, 33, Rate(1, 3))
	assert.Equal(t, 67, Rate(2, 3))
	assert.Equal(t, 100, Rate(5, 5))
}
