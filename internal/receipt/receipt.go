// SPDX-License-Identifier: Apache-2.0

package receipt

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/metrics"
	"github.com/google/uuid"
)

type Store interface {
	Insert(ctx context.Context, rc domain.Receipt) error
}

// EventSink records that a receipt was issued. *emitter.Emitter satisfies it.
type EventSink interface {
	EmitE(ctx context.Context, eventType domain.EventType, span domain.Span, payload any) (domain.Event, error)
}

type Params struct {
	TraceID         string
	CapabilityID    string
	Subject         domain.ReceiptSubject
	Action          string
	Outcome         string
	Details         map[string]any
	DataShared      []string
	StateTransition *domain.StateTransition
	// SessionID attributes the receipt-issued event. Empty falls back to
	// TraceID.
	SessionID string
}

// Result is the outcome of a capability call as collaborators report it.
type Result struct {
	Action     string
	Success    bool
	Pending    bool
	Details    map[string]any
	DataShared []string
	FromState  string
	ToState    string
	SessionID  string
}

// Generator writes receipts. They are never derived from events, so a lost
// receipt cannot affect the case projection.
type Generator struct {
	store  Store
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

func NewGenerator(store Store, sink EventSink, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		store:  store,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// CreateE builds and persists a receipt and returns the persistence error.
func (g *Generator) CreateE(ctx context.Context, p Params) (domain.Receipt, error) {
	outcome := strings.TrimSpace(p.Outcome)
	if outcome == "" {
		outcome = domain.OutcomeSuccess
	}
	details := p.Details
	if details == nil {
		details = map[string]any{}
	}

	rc := domain.Receipt{
		ID:              uuid.NewString(),
		TraceID:         p.TraceID,
		CapabilityID:    p.CapabilityID,
		Timestamp:       g.now().UTC(),
		Subject:         p.Subject,
		Action:          p.Action,
		Outcome:         outcome,
		Details:         details,
		DataShared:      p.DataShared,
		StateTransition: p.StateTransition,
	}

	if err := g.store.Insert(ctx, rc); err != nil {
		return rc, err
	}
	metrics.IncReceiptsIssued(rc.Outcome)

	if g.sink != nil {
		sessionID := strings.TrimSpace(p.SessionID)
		if sessionID == "" {
			sessionID = rc.TraceID
		}
		span := domain.Span{
			TraceID:      rc.TraceID,
			SpanID:       uuid.NewString(),
			SessionID:    sessionID,
			UserID:       rc.Subject.ID,
			CapabilityID: rc.CapabilityID,
		}
		if _, err := g.sink.EmitE(ctx, domain.EventReceiptIssued, span, domain.ReceiptIssuedPayload{
			ReceiptID: rc.ID,
			Action:    rc.Action,
		}); err != nil {
			g.logger.Warn("receipt issued event not recorded",
				"receipt_id", rc.ID,
				"trace_id", rc.TraceID,
				"error", err,
			)
		}
	}
	return rc, nil
}

// Create is CreateE with persistence failures logged and swallowed.
func (g *Generator) Create(ctx context.Context, p Params) domain.Receipt {
	rc, err := g.CreateE(ctx, p)
	if err != nil {
		metrics.IncReceiptFailures()
		g.logger.Error("receipt not persisted",
			"receipt_id", rc.ID,
			"trace_id", rc.TraceID,
			"action", rc.Action,
			"error", err,
		)
	}
	return rc
}

// FromResult derives receipt fields from a capability result.
func (g *Generator) FromResult(ctx context.Context, traceID, capabilityID string, subject domain.ReceiptSubject, r Result) domain.Receipt {
	return g.Create(ctx, ParamsFromResult(traceID, capabilityID, subject, r))
}

func ParamsFromResult(traceID, capabilityID string, subject domain.ReceiptSubject, r Result) Params {
	outcome := domain.OutcomeFailure
	switch {
	case r.Pending:
		outcome = domain.OutcomePending
	case r.Success:
		outcome = domain.OutcomeSuccess
	}

	var transition *domain.StateTransition
	if r.FromState != "" || r.ToState != "" {
		transition = &domain.StateTransition{From: r.FromState, To: r.ToState}
	}

	return Params{
		TraceID:         traceID,
		CapabilityID:    capabilityID,
		Subject:         subject,
		Action:          r.Action,
		Outcome:         outcome,
		Details:         r.Details,
		DataShared:      r.DataShared,
		StateTransition: transition,
		SessionID:       r.SessionID,
	}
}
