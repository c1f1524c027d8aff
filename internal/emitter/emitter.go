// SPDX-License-Identifier: Apache-2.0

// Package emitter is the collaborator-facing entry point of the ledger. It
// builds well-formed events from a span, appends them to the event log and
// folds the relevant ones into the case projection.
//
// The E-suffixed methods return append failures. Emit and EmitBatch are the
// fire-and-forget wrappers: they log and count a failed append and carry on,
// which is the one place an event can be lost for good.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/metrics"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/projection"
	"github.com/google/uuid"
)

type EventLog interface {
	Append(ctx context.Context, ev domain.Event) error
	AppendBatch(ctx context.Context, events []domain.Event) error
}

type Folder interface {
	Fold(ctx context.Context, ev domain.Event) (bool, error)
}

// Draft is one event of a batch before ids and timestamps are assigned.
type Draft struct {
	Type    domain.EventType
	Span    domain.Span
	Payload any
}

type Emitter struct {
	log    EventLog
	folder Folder
	totals *projection.TotalStates
	logger *slog.Logger
	now    func() time.Time
}

// New returns an emitter. folder may be nil to record without projecting;
// totals must be the cache the folder reads from.
func New(log EventLog, folder Folder, totals *projection.TotalStates, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if totals == nil {
		totals = projection.NewTotalStates(nil)
	}

	return &Emitter{
		log:    log,
		folder: folder,
		totals: totals,
		logger: logger,
		now:    time.Now,
	}
}

// StartSpan builds a root span. It does no I/O. An empty traceID starts a
// new trace.
func (e *Emitter) StartSpan(traceID, sessionID, userID, capabilityID string) domain.Span {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return domain.Span{
		TraceID:      traceID,
		SpanID:       uuid.NewString(),
		SessionID:    strings.TrimSpace(sessionID),
		UserID:       strings.TrimSpace(userID),
		CapabilityID: strings.TrimSpace(capabilityID),
	}
}

// SetTotalStates records the journey length used for progress. It is not an
// event and is lost on restart unless configured at startup.
func (e *Emitter) SetTotalStates(capabilityID string, total int) {
	e.totals.Set(capabilityID, total)
}

// EmitE builds, appends and folds one event. The built event is returned
// even when the append fails so callers can log it.
func (e *Emitter) EmitE(ctx context.Context, eventType domain.EventType, span domain.Span, payload any) (domain.Event, error) {
	ev, err := e.build(eventType, span, payload, e.now().UTC())
	if err != nil {
		return ev, err
	}

	if err := e.log.Append(ctx, ev); err != nil {
		return ev, err
	}
	metrics.IncEventsAppended(ev.Type)

	e.fold(ctx, ev)
	return ev, nil
}

// Emit is EmitE with append failures logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, eventType domain.EventType, span domain.Span, payload any) domain.Event {
	ev, err := e.EmitE(ctx, eventType, span, payload)
	if err != nil {
		metrics.IncEmitFailures()
		e.logger.Error("emit failed: event not recorded",
			"event_id", ev.ID,
			"type", eventType,
			"trace_id", span.TraceID,
			"span_id", span.SpanID,
			"error", err,
		)
	}
	return ev
}

// EmitBatchE appends all drafts in one transaction and then folds them in
// order. The events share one timestamp; the log keeps their order.
func (e *Emitter) EmitBatchE(ctx context.Context, drafts []Draft) ([]domain.Event, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	at := e.now().UTC()
	events := make([]domain.Event, 0, len(drafts))
	for i, d := range drafts {
		ev, err := e.build(d.Type, d.Span, d.Payload, at)
		if err != nil {
			return nil, fmt.Errorf("batch event %d: %w", i, err)
		}
		events = append(events, ev)
	}

	if err := e.log.AppendBatch(ctx, events); err != nil {
		return events, err
	}
	for _, ev := range events {
		metrics.IncEventsAppended(ev.Type)
	}

	for _, ev := range events {
		e.fold(ctx, ev)
	}
	return events, nil
}

// EmitBatch is EmitBatchE with failures logged and swallowed.
func (e *Emitter) EmitBatch(ctx context.Context, drafts []Draft) []domain.Event {
	events, err := e.EmitBatchE(ctx, drafts)
	if err != nil {
		metrics.IncEmitFailures()
		e.logger.Error("emit batch failed: events not recorded",
			"events", len(drafts),
			"error", err,
		)
	}
	return events
}

func (e *Emitter) build(eventType domain.EventType, span domain.Span, payload any, at time.Time) (domain.Event, error) {
	raw, err := domain.EncodePayload(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}

	spanID := span.SpanID
	if spanID == "" {
		spanID = uuid.NewString()
	}

	return domain.Event{
		ID:           uuid.NewString(),
		TraceID:      span.TraceID,
		SpanID:       spanID,
		ParentSpanID: span.ParentSpanID,
		Timestamp:    at,
		Type:         eventType,
		Payload:      raw,
		Metadata:     span.Metadata(),
	}, nil
}

// fold is best effort: the event is already durable and a rebuild recovers
// anything lost here.
func (e *Emitter) fold(ctx context.Context, ev domain.Event) {
	if e.folder == nil || !projection.Relevant(ev.Type) {
		return
	}
	if _, err := e.folder.Fold(ctx, ev); err != nil {
		metrics.IncFoldFailures()
		e.logger.Error("fold failed after append",
			"event_id", ev.ID,
			"type", ev.Type,
			"trace_id", ev.TraceID,
			"error", err,
		)
	}
}
