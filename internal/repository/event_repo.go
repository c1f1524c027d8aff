// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

const eventColumns = `seq, id, trace_id, span_id, parent_span_id, timestamp, type, payload, metadata`

// EventRepository is the append-only event log. Rows are never updated; the
// only delete path is DeleteByUserAndCapability.
type EventRepository struct {
	db     storage.Adapter
	logger *slog.Logger
}

func NewEventRepository(db storage.Adapter, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Append validates and persists one event. A reused id fails with
// domain.ErrDuplicateEvent.
func (r *EventRepository) Append(ctx context.Context, ev domain.Event) error {
	stmt, err := insertEventStmt(ev)
	if err != nil {
		r.logger.Warn("append event rejected", "event_id", ev.ID, "type", ev.Type, "error", err)
		return err
	}

	if _, err := r.db.Run(ctx, stmt.SQL, stmt.Args...); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			r.logger.Error("append event conflict", "event_id", ev.ID, "trace_id", ev.TraceID, "error", err)
			return fmt.Errorf("%w: %s", domain.ErrDuplicateEvent, ev.ID)
		}
		r.logger.Error("append event failed",
			"event_id", ev.ID,
			"trace_id", ev.TraceID,
			"type", ev.Type,
			"error", err,
		)
		return domain.NewStorageFailure("append event", err)
	}
	return nil
}

// AppendBatch persists all events in one transaction or none of them.
func (r *EventRepository) AppendBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	stmts := make([]storage.Statement, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		stmt, err := insertEventStmt(ev)
		if err != nil {
			r.logger.Warn("append batch rejected", "event_id", ev.ID, "type", ev.Type, "error", err)
			return err
		}
		if _, dup := seen[ev.ID]; dup {
			return fmt.Errorf("%w: %s repeated within batch", domain.ErrDuplicateEvent, ev.ID)
		}
		seen[ev.ID] = struct{}{}
		stmts = append(stmts, stmt)
	}

	if err := r.db.Batch(ctx, stmts); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			r.logger.Error("append batch conflict", "events", len(events), "error", err)
			return fmt.Errorf("%w: %v", domain.ErrDuplicateEvent, err)
		}
		r.logger.Error("append batch failed", "events", len(events), "error", err)
		return domain.NewStorageFailure("append event batch", err)
	}
	return nil
}

func (r *EventRepository) Get(ctx context.Context, id string) (domain.Event, error) {
	row, ok, err := r.db.Get(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("get event failed", "event_id", id, "error", err)
		return domain.Event{}, domain.NewStorageFailure("get event", err)
	}
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return scanEvent(row)
}

// QueryByTrace returns a trace's events in ascending order.
func (r *EventRepository) QueryByTrace(ctx context.Context, traceID string) ([]domain.Event, error) {
	return r.list(ctx, "query events by trace",
		`SELECT `+eventColumns+` FROM events WHERE trace_id = ? ORDER BY timestamp ASC, seq ASC`,
		traceID,
	)
}

// QueryBySession returns a session's events in ascending order.
func (r *EventRepository) QueryBySession(ctx context.Context, sessionID string) ([]domain.Event, error) {
	return r.list(ctx, "query events by session",
		`SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY timestamp ASC, seq ASC`,
		sessionID,
	)
}

// QueryByType returns the most recent events of one type first.
func (r *EventRepository) QueryByType(ctx context.Context, eventType domain.EventType, limit int) ([]domain.Event, error) {
	return r.list(ctx, "query events by type",
		`SELECT `+eventColumns+` FROM events WHERE type = ? ORDER BY timestamp DESC, seq DESC LIMIT ?`,
		string(eventType), clampLimit(limit),
	)
}

// ListAfter pages through the whole log in ascending order, starting after
// the given (timestamp, seq) position. A zero cursor starts at the beginning.
func (r *EventRepository) ListAfter(ctx context.Context, cursor Cursor, limit int) ([]domain.Event, error) {
	if cursor.IsZero() {
		return r.list(ctx, "list events",
			`SELECT `+eventColumns+` FROM events ORDER BY timestamp ASC, seq ASC LIMIT ?`,
			clampLimit(limit),
		)
	}
	ts := storage.FormatTime(cursor.Timestamp)
	return r.list(ctx, "list events",
		`SELECT `+eventColumns+` FROM events
		 WHERE timestamp > ? OR (timestamp = ? AND seq > ?)
		 ORDER BY timestamp ASC, seq ASC
		 LIMIT ?`,
		ts, ts, cursor.Seq, clampLimit(limit),
	)
}

// ListTraces returns distinct traces with first-seen time and event count,
// most recently started first.
func (r *EventRepository) ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error) {
	rows, err := r.db.All(ctx, `
		SELECT trace_id, MIN(timestamp) AS first_seen, MAX(timestamp) AS last_seen, COUNT(*) AS event_count
		FROM events
		GROUP BY trace_id
		ORDER BY first_seen DESC, trace_id ASC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		r.logger.Error("list traces failed", "error", err)
		return nil, domain.NewStorageFailure("list traces", err)
	}

	out := make([]domain.TraceSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.TraceSummary{
			TraceID:    row.String("trace_id"),
			FirstSeen:  row.Time("first_seen"),
			LastSeen:   row.Time("last_seen"),
			EventCount: row.Int64("event_count"),
		})
	}
	return out, nil
}

func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	row, _, err := r.db.Get(ctx, `SELECT COUNT(*) AS n FROM events`)
	if err != nil {
		r.logger.Error("count events failed", "error", err)
		return 0, domain.NewStorageFailure("count events", err)
	}
	return row.Int64("n"), nil
}

// DeleteByUserAndCapability erases a subject's events for one capability.
// It is the single exception to append-only and must be recorded by the
// caller outside this store.
func (r *EventRepository) DeleteByUserAndCapability(ctx context.Context, userID, capabilityID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	capabilityID = strings.TrimSpace(capabilityID)
	if userID == "" || capabilityID == "" {
		return 0, fmt.Errorf("%w: user id and capability id are required for erasure", domain.ErrInvalidEvent)
	}

	n, err := r.db.Run(ctx,
		`DELETE FROM events WHERE user_id = ? AND capability_id = ?`,
		userID, capabilityID,
	)
	if err != nil {
		r.logger.Error("erase events failed", "user_id", userID, "capability_id", capabilityID, "error", err)
		return 0, domain.NewStorageFailure("erase events", err)
	}
	return n, nil
}

func (r *EventRepository) list(ctx context.Context, op string, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.db.All(ctx, query, args...)
	if err != nil {
		r.logger.Error(op+" failed", "error", err)
		return nil, domain.NewStorageFailure(op, err)
	}

	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := scanEvent(row)
		if err != nil {
			r.logger.Error("scan event row failed", "op", op, "error", err)
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Cursor is a position in the (timestamp, seq) total order.
type Cursor struct {
	Timestamp time.Time
	Seq       int64
}

func (c Cursor) IsZero() bool {
	return c.Seq == 0 && c.Timestamp.IsZero()
}

// CursorOf returns the position directly at ev.
func CursorOf(ev domain.Event) Cursor {
	return Cursor{Timestamp: ev.Timestamp, Seq: ev.Seq}
}

func validateEvent(ev domain.Event) error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(ev.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(ev.TraceID) == "" {
		missing = append(missing, "traceId")
	}
	if strings.TrimSpace(ev.SpanID) == "" {
		missing = append(missing, "spanId")
	}
	if strings.TrimSpace(string(ev.Type)) == "" {
		missing = append(missing, "type")
	}
	if ev.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if strings.TrimSpace(ev.Metadata.SessionID) == "" {
		missing = append(missing, "metadata.sessionId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidEvent, strings.Join(missing, ", "))
	}

	if len(ev.Payload) > 0 {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(ev.Payload, &obj); err != nil {
			return fmt.Errorf("%w: payload must be a JSON object: %v", domain.ErrInvalidEvent, err)
		}
	}
	return nil
}

func insertEventStmt(ev domain.Event) (storage.Statement, error) {
	if err := validateEvent(ev); err != nil {
		return storage.Statement{}, err
	}

	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return storage.Statement{}, fmt.Errorf("encode metadata: %w", err)
	}

	// Denormalized subject columns serve session queries and erasure; the
	// capability is resolved the same way the projection resolves it.
	userID, capabilityID, _ := ev.Subject()
	if userID == "" {
		userID = strings.TrimSpace(ev.Metadata.UserID)
	}

	return storage.Stmt(`
		INSERT INTO events (
			id, trace_id, span_id, parent_span_id, timestamp, type, payload, metadata,
			user_id, session_id, capability_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.TraceID,
		ev.SpanID,
		storage.NullString(ev.ParentSpanID),
		storage.FormatTime(ev.Timestamp),
		string(ev.Type),
		string(payload),
		string(metadata),
		storage.NullString(userID),
		ev.Metadata.SessionID,
		storage.NullString(capabilityID),
	), nil
}

func scanEvent(row storage.Row) (domain.Event, error) {
	ev := domain.Event{
		Seq:          row.Int64("seq"),
		ID:           row.String("id"),
		TraceID:      row.String("trace_id"),
		SpanID:       row.String("span_id"),
		ParentSpanID: row.String("parent_span_id"),
		Timestamp:    row.Time("timestamp"),
		Type:         domain.EventType(row.String("type")),
		Payload:      json.RawMessage(row.Bytes("payload")),
	}
	if err := json.Unmarshal(row.Bytes("metadata"), &ev.Metadata); err != nil {
		return domain.Event{}, fmt.Errorf("decode metadata of event %s: %w", ev.ID, err)
	}
	return ev, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
