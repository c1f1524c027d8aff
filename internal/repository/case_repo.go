// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
)

const (
	DefaultCasePageLimit = 20
	MaxCasePageLimit     = 100
	recentCasesLimit     = 5
)

const caseColumns = `case_id, user_id, capability_id, current_state, status, started_at, last_activity_at,
	states_completed, progress_percent, identity_verified, eligibility_checked, eligibility_result,
	consent_granted, handed_off, handoff_reason, agent_actions, human_actions,
	review_status, review_requested_at, review_reason, review_priority, event_count`

// CaseRepository persists the case projection and its timeline. It never
// decides case contents; callers hand it fully folded rows.
type CaseRepository struct {
	db     storage.Adapter
	logger *slog.Logger
}

func NewCaseRepository(db storage.Adapter, logger *slog.Logger) *CaseRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &CaseRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the case or ok=false when it does not exist.
func (r *CaseRepository) Get(ctx context.Context, caseID string) (domain.Case, bool, error) {
	row, ok, err := r.db.Get(ctx, `SELECT `+caseColumns+` FROM cases WHERE case_id = ?`, caseID)
	if err != nil {
		r.logger.Error("get case failed", "case_id", caseID, "error", err)
		return domain.Case{}, false, domain.NewStorageFailure("get case", err)
	}
	if !ok {
		return domain.Case{}, false, nil
	}
	c, err := scanCase(row)
	if err != nil {
		r.logger.Error("scan case row failed", "case_id", caseID, "error", err)
		return domain.Case{}, false, err
	}
	return c, true, nil
}

// Save writes the folded case and its new timeline entry atomically.
func (r *CaseRepository) Save(ctx context.Context, c domain.Case, entry domain.CaseTimelineEntry) error {
	stmts := []storage.Statement{UpsertCaseStmt(c), InsertTimelineStmt(entry)}
	if err := r.db.Batch(ctx, stmts); err != nil {
		r.logger.Error("save case failed",
			"case_id", c.CaseID,
			"source_event_id", entry.SourceEventID,
			"error", err,
		)
		return domain.NewStorageFailure("save case", err)
	}
	return nil
}

// Apply runs an arbitrary set of projection writes in one transaction.
func (r *CaseRepository) Apply(ctx context.Context, stmts []storage.Statement) error {
	if err := r.db.Batch(ctx, stmts); err != nil {
		r.logger.Error("apply projection batch failed", "statements", len(stmts), "error", err)
		return domain.NewStorageFailure("apply projection batch", err)
	}
	return nil
}

// List pages through a capability's cases, most recently active first.
func (r *CaseRepository) List(ctx context.Context, filter domain.CaseFilter) (domain.CasePage, error) {
	page, limit := normalizePage(filter.Page, filter.Limit)

	where, args := caseScope(filter.CapabilityID)
	if filter.Status != "" {
		where = appendCond(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	countRow, _, err := r.db.Get(ctx, `SELECT COUNT(*) AS n FROM cases`+where, args...)
	if err != nil {
		r.logger.Error("count cases failed", "capability_id", filter.CapabilityID, "error", err)
		return domain.CasePage{}, domain.NewStorageFailure("count cases", err)
	}

	listArgs := append(append([]any(nil), args...), limit, (page-1)*limit)
	rows, err := r.db.All(ctx, `SELECT `+caseColumns+` FROM cases`+where+`
		ORDER BY last_activity_at DESC, case_id ASC
		LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		r.logger.Error("list cases failed", "capability_id", filter.CapabilityID, "error", err)
		return domain.CasePage{}, domain.NewStorageFailure("list cases", err)
	}

	cases, err := scanCases(rows)
	if err != nil {
		return domain.CasePage{}, err
	}
	return domain.CasePage{
		Cases: cases,
		Total: countRow.Int64("n"),
		Page:  page,
		Limit: limit,
	}, nil
}

// ListAll returns every case; rebuild uses it to carry review annotations.
func (r *CaseRepository) ListAll(ctx context.Context) ([]domain.Case, error) {
	rows, err := r.db.All(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY case_id ASC`)
	if err != nil {
		r.logger.Error("list all cases failed", "error", err)
		return nil, domain.NewStorageFailure("list all cases", err)
	}
	return scanCases(rows)
}

// Timeline returns a case's entries in fold order joined with the source
// event payload. Erased events leave the payload empty.
func (r *CaseRepository) Timeline(ctx context.Context, caseID string) ([]domain.CaseTimelineEntry, error) {
	rows, err := r.db.All(ctx, `
		SELECT ce.id, ce.case_id, ce.source_event_id, ce.trace_id, ce.event_type, ce.actor,
		       ce.summary, ce.created_at, e.payload
		FROM case_events ce
		LEFT JOIN events e ON e.id = ce.source_event_id
		WHERE ce.case_id = ?
		ORDER BY ce.created_at ASC, ce.id ASC
	`, caseID)
	if err != nil {
		r.logger.Error("case timeline query failed", "case_id", caseID, "error", err)
		return nil, domain.NewStorageFailure("case timeline", err)
	}

	out := make([]domain.CaseTimelineEntry, 0, len(rows))
	for _, row := range rows {
		entry := domain.CaseTimelineEntry{
			ID:            row.Int64("id"),
			CaseID:        row.String("case_id"),
			SourceEventID: row.String("source_event_id"),
			TraceID:       row.String("trace_id"),
			EventType:     domain.EventType(row.String("event_type")),
			Actor:         domain.Actor(row.String("actor")),
			Summary:       row.String("summary"),
			CreatedAt:     row.Time("created_at"),
		}
		if !row.IsNull("payload") {
			entry.Payload = json.RawMessage(row.Bytes("payload"))
		}
		out = append(out, entry)
	}
	return out, nil
}

type CaseTotals struct {
	Total        int64
	ProgressSum  int64
	AgentActions int64
	HumanActions int64
	ByStatus     map[domain.CaseStatus]int64
}

// Totals aggregates counters for one capability, or all when capabilityID
// is empty.
func (r *CaseRepository) Totals(ctx context.Context, capabilityID string) (CaseTotals, error) {
	where, args := caseScope(capabilityID)

	row, _, err := r.db.Get(ctx, `
		SELECT COUNT(*) AS total,
		       SUM(progress_percent) AS progress_sum,
		       SUM(agent_actions) AS agent_actions,
		       SUM(human_actions) AS human_actions
		FROM cases`+where, args...)
	if err != nil {
		r.logger.Error("case totals query failed", "capability_id", capabilityID, "error", err)
		return CaseTotals{}, domain.NewStorageFailure("case totals", err)
	}

	rows, err := r.db.All(ctx, `SELECT status, COUNT(*) AS n FROM cases`+where+` GROUP BY status`, args...)
	if err != nil {
		r.logger.Error("case status counts failed", "capability_id", capabilityID, "error", err)
		return CaseTotals{}, domain.NewStorageFailure("case status counts", err)
	}

	totals := CaseTotals{
		Total:        row.Int64("total"),
		ProgressSum:  row.Int64("progress_sum"),
		AgentActions: row.Int64("agent_actions"),
		HumanActions: row.Int64("human_actions"),
		ByStatus:     make(map[domain.CaseStatus]int64, len(domain.CaseStatuses)),
	}
	for _, status := range domain.CaseStatuses {
		totals.ByStatus[status] = 0
	}
	for _, sr := range rows {
		totals.ByStatus[domain.CaseStatus(sr.String("status"))] = sr.Int64("n")
	}
	return totals, nil
}

// Bottlenecks counts in-progress cases per current state, largest first.
func (r *CaseRepository) Bottlenecks(ctx context.Context, capabilityID string) ([]domain.BottleneckEntry, error) {
	where, args := caseScope(capabilityID)
	where = appendCond(where, "status = ?")
	args = append(args, string(domain.CaseInProgress))

	rows, err := r.db.All(ctx, `
		SELECT current_state, COUNT(*) AS n
		FROM cases`+where+`
		GROUP BY current_state
		ORDER BY n DESC, current_state ASC`, args...)
	if err != nil {
		r.logger.Error("bottleneck query failed", "capability_id", capabilityID, "error", err)
		return nil, domain.NewStorageFailure("bottlenecks", err)
	}

	out := make([]domain.BottleneckEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.BottleneckEntry{
			State: row.String("current_state"),
			Count: row.Int64("n"),
		})
	}
	return out, nil
}

// Recent returns the most recently active cases.
func (r *CaseRepository) Recent(ctx context.Context, capabilityID string) ([]domain.Case, error) {
	where, args := caseScope(capabilityID)
	args = append(args, recentCasesLimit)

	rows, err := r.db.All(ctx, `SELECT `+caseColumns+` FROM cases`+where+`
		ORDER BY last_activity_at DESC, case_id ASC
		LIMIT ?`, args...)
	if err != nil {
		r.logger.Error("recent cases query failed", "capability_id", capabilityID, "error", err)
		return nil, domain.NewStorageFailure("recent cases", err)
	}
	return scanCases(rows)
}

// SubmitReview annotates a case for human review. It reports ok=false when
// the case does not exist.
func (r *CaseRepository) SubmitReview(ctx context.Context, caseID, reason, priority string, at time.Time) (bool, error) {
	n, err := r.db.Run(ctx, `
		UPDATE cases
		SET review_status = ?, review_requested_at = ?, review_reason = ?, review_priority = ?
		WHERE case_id = ?`,
		domain.ReviewPending,
		storage.FormatTime(at),
		storage.NullString(reason),
		storage.NullString(priority),
		caseID,
	)
	if err != nil {
		r.logger.Error("submit review failed", "case_id", caseID, "error", err)
		return false, domain.NewStorageFailure("submit review", err)
	}
	return n > 0, nil
}

// RestoreReviewStmt rewrites review annotations verbatim.
func RestoreReviewStmt(c domain.Case) storage.Statement {
	var requestedAt any
	if c.ReviewRequestedAt != nil {
		requestedAt = storage.FormatTime(*c.ReviewRequestedAt)
	}
	return storage.Stmt(`
		UPDATE cases
		SET review_status = ?, review_requested_at = ?, review_reason = ?, review_priority = ?
		WHERE case_id = ?`,
		storage.NullString(c.ReviewStatus),
		requestedAt,
		storage.NullString(c.ReviewReason),
		storage.NullString(c.ReviewPriority),
		c.CaseID,
	)
}

// Delete removes a case and its timeline. Source events are untouched.
func (r *CaseRepository) Delete(ctx context.Context, caseID string) (bool, error) {
	existing, ok, err := r.Get(ctx, caseID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := r.db.Batch(ctx, []storage.Statement{
		storage.Stmt(`DELETE FROM case_events WHERE case_id = ?`, existing.CaseID),
		storage.Stmt(`DELETE FROM cases WHERE case_id = ?`, existing.CaseID),
	}); err != nil {
		r.logger.Error("delete case failed", "case_id", caseID, "error", err)
		return false, domain.NewStorageFailure("delete case", err)
	}
	return true, nil
}

// TruncateStmts clears the whole projection, children first.
func TruncateStmts() []storage.Statement {
	return []storage.Statement{
		storage.Stmt(`DELETE FROM case_events`),
		storage.Stmt(`DELETE FROM cases`),
	}
}

// UpsertCaseStmt inserts the case or overwrites every event-derived column.
// Review annotations are left alone on conflict.
func UpsertCaseStmt(c domain.Case) storage.Statement {
	states, _ := json.Marshal(nonNilStates(c.StatesCompleted))

	return storage.Stmt(`
		INSERT INTO cases (
			case_id, user_id, capability_id, current_state, status, started_at, last_activity_at,
			states_completed, progress_percent, identity_verified, eligibility_checked, eligibility_result,
			consent_granted, handed_off, handoff_reason, agent_actions, human_actions, event_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id) DO UPDATE SET
			current_state = excluded.current_state,
			status = excluded.status,
			started_at = excluded.started_at,
			last_activity_at = excluded.last_activity_at,
			states_completed = excluded.states_completed,
			progress_percent = excluded.progress_percent,
			identity_verified = excluded.identity_verified,
			eligibility_checked = excluded.eligibility_checked,
			eligibility_result = excluded.eligibility_result,
			consent_granted = excluded.consent_granted,
			handed_off = excluded.handed_off,
			handoff_reason = excluded.handoff_reason,
			agent_actions = excluded.agent_actions,
			human_actions = excluded.human_actions,
			event_count = excluded.event_count`,
		c.CaseID,
		c.UserID,
		c.CapabilityID,
		c.CurrentState,
		string(c.Status),
		storage.FormatTime(c.StartedAt),
		storage.FormatTime(c.LastActivityAt),
		string(states),
		c.ProgressPercent,
		storage.BoolArg(c.IdentityVerified),
		storage.BoolArg(c.EligibilityChecked),
		storage.NullBoolArg(c.EligibilityResult),
		storage.BoolArg(c.ConsentGranted),
		storage.BoolArg(c.HandedOff),
		storage.NullString(c.HandoffReason),
		c.AgentActions,
		c.HumanActions,
		c.EventCount,
	)
}

func InsertTimelineStmt(e domain.CaseTimelineEntry) storage.Statement {
	return storage.Stmt(`
		INSERT INTO case_events (case_id, source_event_id, trace_id, event_type, actor, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.CaseID,
		e.SourceEventID,
		e.TraceID,
		string(e.EventType),
		string(e.Actor),
		e.Summary,
		storage.FormatTime(e.CreatedAt),
	)
}

func scanCases(rows []storage.Row) ([]domain.Case, error) {
	out := make([]domain.Case, 0, len(rows))
	for _, row := range rows {
		c, err := scanCase(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func scanCase(row storage.Row) (domain.Case, error) {
	c := domain.Case{
		CaseID:             row.String("case_id"),
		UserID:             row.String("user_id"),
		CapabilityID:       row.String("capability_id"),
		CurrentState:       row.String("current_state"),
		Status:             domain.CaseStatus(row.String("status")),
		StartedAt:          row.Time("started_at"),
		LastActivityAt:     row.Time("last_activity_at"),
		ProgressPercent:    row.Int("progress_percent"),
		IdentityVerified:   row.Bool("identity_verified"),
		EligibilityChecked: row.Bool("eligibility_checked"),
		EligibilityResult:  row.NullBool("eligibility_result"),
		ConsentGranted:     row.Bool("consent_granted"),
		HandedOff:          row.Bool("handed_off"),
		HandoffReason:      row.String("handoff_reason"),
		AgentActions:       row.Int("agent_actions"),
		HumanActions:       row.Int("human_actions"),
		ReviewStatus:       row.String("review_status"),
		ReviewRequestedAt:  row.NullTime("review_requested_at"),
		ReviewReason:       row.String("review_reason"),
		ReviewPriority:     row.String("review_priority"),
		EventCount:         row.Int("event_count"),
	}
	if err := json.Unmarshal(row.Bytes("states_completed"), &c.StatesCompleted); err != nil {
		return domain.Case{}, fmt.Errorf("decode states_completed of case %s: %w", c.CaseID, err)
	}
	c.StatesCompleted = nonNilStates(c.StatesCompleted)
	return c, nil
}

func nonNilStates(states []string) []string {
	if states == nil {
		return []string{}
	}
	return states
}

func caseScope(capabilityID string) (string, []any) {
	capabilityID = strings.TrimSpace(capabilityID)
	if capabilityID == "" {
		return "", nil
	}
	return " WHERE capability_id = ?", []any{capabilityID}
}

func appendCond(where, cond string) string {
	if where == "" {
		return " WHERE " + cond
	}
	return where + " AND " + cond
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultCasePageLimit
	}
	if limit > MaxCasePageLimit {
		limit = MaxCasePageLimit
	}
	return page, limit
}
