// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/emitter"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/ledger"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/projection"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/receipt"
)

type EventReader interface {
	Get(ctx context.Context, id string) (domain.Event, error)
	QueryByTrace(ctx context.Context, traceID string) ([]domain.Event, error)
	QueryBySession(ctx context.Context, sessionID string) ([]domain.Event, error)
	QueryByType(ctx context.Context, eventType domain.EventType, limit int) ([]domain.Event, error)
	ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
}

type EventEmitter interface {
	EmitE(ctx context.Context, eventType domain.EventType, span domain.Span, payload any) (domain.Event, error)
	EmitBatchE(ctx context.Context, drafts []emitter.Draft) ([]domain.Event, error)
	SetTotalStates(capabilityID string, total int)
}

type CaseReader interface {
	GetCase(ctx context.Context, caseID string) (domain.Case, error)
	GetCaseByUser(ctx context.Context, userID, capabilityID string) (domain.Case, error)
	ListCases(ctx context.Context, filter domain.CaseFilter) (domain.CasePage, error)
	GetCaseTimeline(ctx context.Context, caseID string) ([]domain.CaseTimelineEntry, error)
	GetDashboard(ctx context.Context, capabilityID string) (domain.Dashboard, error)
	GetDashboardAll(ctx context.Context) (domain.Dashboard, error)
	GetBottlenecks(ctx context.Context, capabilityID string) ([]domain.BottleneckEntry, error)
	SubmitReview(ctx context.Context, caseID, reason, priority string) (domain.Case, error)
}

type CaseAdmin interface {
	DeleteCase(ctx context.Context, caseID string) error
	RebuildFromLog(ctx context.Context, totals map[string]int) (projection.RebuildStats, error)
}

type ReceiptIssuer interface {
	CreateE(ctx context.Context, p receipt.Params) (domain.Receipt, error)
}

type ReceiptReader interface {
	Get(ctx context.Context, id string) (domain.Receipt, error)
	ListByTrace(ctx context.Context, traceID string) ([]domain.Receipt, error)
}

type SubjectEraser interface {
	EraseSubject(ctx context.Context, userID, capabilityID string) (ledger.Erasure, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
