// SPDX-License-Identifier: Apache-2.0

// Package ledger holds operations that span the event log and the case
// projection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/auth"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/metrics"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/projection"
)

type EventEraser interface {
	DeleteByUserAndCapability(ctx context.Context, userID, capabilityID string) (int64, error)
}

type CaseDeleter interface {
	DeleteCase(ctx context.Context, caseID string) error
}

// Erasure reports what a subject erasure removed.
type Erasure struct {
	UserID        string `json:"userId"`
	CapabilityID  string `json:"capabilityId"`
	CaseID        string `json:"caseId"`
	EventsDeleted int64  `json:"eventsDeleted"`
	CaseDeleted   bool   `json:"caseDeleted"`
}

// Eraser removes everything the ledger holds about one (user, capability)
// pair. Receipts are kept: they are issued to the subject, not about them.
type Eraser struct {
	events EventEraser
	cases  CaseDeleter
	logger *slog.Logger
}

func NewEraser(events EventEraser, cases CaseDeleter, logger *slog.Logger) *Eraser {
	if logger == nil {
		logger = slog.Default()
	}

	return &Eraser{
		events: events,
		cases:  cases,
		logger: logger,
	}
}

// EraseSubject deletes the subject's events and then its case. The erasure
// is recorded in the service log with the operator taken from ctx; the event
// log itself keeps no trace of it.
func (e *Eraser) EraseSubject(ctx context.Context, userID, capabilityID string) (Erasure, error) {
	userID = strings.TrimSpace(userID)
	capabilityID = strings.TrimSpace(capabilityID)
	if userID == "" || capabilityID == "" {
		return Erasure{}, fmt.Errorf("%w: user id and capability id are required for erasure", domain.ErrInvalidEvent)
	}

	out := Erasure{
		UserID:       userID,
		CapabilityID: capabilityID,
		CaseID:       projection.CaseID(userID, capabilityID),
	}

	n, err := e.events.DeleteByUserAndCapability(ctx, userID, capabilityID)
	if err != nil {
		return out, err
	}
	out.EventsDeleted = n

	switch err := e.cases.DeleteCase(ctx, out.CaseID); {
	case err == nil:
		out.CaseDeleted = true
	case errors.Is(err, domain.ErrCaseNotFound):
	default:
		// Events are already gone; a later rebuild drops the stale case.
		e.logger.Error("erase case failed",
			"case_id", out.CaseID,
			"events_deleted", n,
			"error", err,
		)
		return out, err
	}

	operator, ok := auth.OperatorFromContext(ctx)
	if !ok {
		operator = auth.Operator{Name: "unknown", Via: "unknown"}
	}
	metrics.IncSubjectErasures()
	e.logger.Info("subject erased",
		"user_id", userID,
		"capability_id", capabilityID,
		"case_id", out.CaseID,
		"events_deleted", out.EventsDeleted,
		"case_deleted", out.CaseDeleted,
		"operator", operator.Name,
		"via", operator.Via,
	)
	return out, nil
}
