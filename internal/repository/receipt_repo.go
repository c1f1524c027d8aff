// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
)

const receiptColumns = `id, trace_id, capability_id, timestamp, citizen_id, citizen_name, action, outcome,
	details, data_shared, state_from, state_to`

type ReceiptRepository struct {
	db     storage.Adapter
	logger *slog.Logger
}

func NewReceiptRepository(db storage.Adapter, logger *slog.Logger) *ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ReceiptRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores an already generated receipt. Receipts are immutable; a
// reused id is a conflict.
func (r *ReceiptRepository) Insert(ctx context.Context, rc domain.Receipt) error {
	if strings.TrimSpace(rc.ID) == "" || strings.TrimSpace(rc.TraceID) == "" {
		return fmt.Errorf("%w: receipt id and trace id are required", domain.ErrInvalidEvent)
	}

	details := rc.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode receipt details: %w", err)
	}

	var dataShared any
	if len(rc.DataShared) > 0 {
		b, err := json.Marshal(rc.DataShared)
		if err != nil {
			return fmt.Errorf("encode receipt data shared: %w", err)
		}
		dataShared = string(b)
	}

	var stateFrom, stateTo any
	if rc.StateTransition != nil {
		stateFrom = rc.StateTransition.From
		stateTo = rc.StateTransition.To
	}

	_, err = r.db.Run(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID,
		rc.TraceID,
		rc.CapabilityID,
		storage.FormatTime(rc.Timestamp),
		rc.Subject.ID,
		storage.NullString(rc.Subject.Name),
		rc.Action,
		rc.Outcome,
		string(detailsJSON),
		dataShared,
		stateFrom,
		stateTo,
	)
	if err != nil {
		r.logger.Error("insert receipt failed",
			"receipt_id", rc.ID,
			"trace_id", rc.TraceID,
			"error", err,
		)
		if errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("receipt %s already exists: %w", rc.ID, err)
		}
		return domain.NewStorageFailure("insert receipt", err)
	}
	return nil
}

func (r *ReceiptRepository) Get(ctx context.Context, id string) (domain.Receipt, error) {
	row, ok, err := r.db.Get(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("get receipt failed", "receipt_id", id, "error", err)
		return domain.Receipt{}, domain.NewStorageFailure("get receipt", err)
	}
	if !ok {
		return domain.Receipt{}, domain.ErrReceiptNotFound
	}
	return scanReceipt(row)
}

// ListByTrace returns a trace's receipts oldest first.
func (r *ReceiptRepository) ListByTrace(ctx context.Context, traceID string) ([]domain.Receipt, error) {
	rows, err := r.db.All(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE trace_id = ? ORDER BY timestamp ASC, id ASC`,
		traceID,
	)
	if err != nil {
		r.logger.Error("list receipts failed", "trace_id", traceID, "error", err)
		return nil, domain.NewStorageFailure("list receipts", err)
	}

	out := make([]domain.Receipt, 0, len(rows))
	for _, row := range rows {
		rc, err := scanReceipt(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func scanReceipt(row storage.Row) (domain.Receipt, error) {
	rc := domain.Receipt{
		ID:           row.String("id"),
		TraceID:      row.String("trace_id"),
		CapabilityID: row.String("capability_id"),
		Timestamp:    row.Time("timestamp"),
		Subject: domain.ReceiptSubject{
			ID:   row.String("citizen_id"),
			Name: row.String("citizen_name"),
		},
		Action:  row.String("action"),
		Outcome: row.String("outcome"),
	}
	if err := json.Unmarshal(row.Bytes("details"), &rc.Details); err != nil {
		return domain.Receipt{}, fmt.Errorf("decode details of receipt %s: %w", rc.ID, err)
	}
	if !row.IsNull("data_shared") {
		if err := json.Unmarshal(row.Bytes("data_shared"), &rc.DataShared); err != nil {
			return domain.Receipt{}, fmt.Errorf("decode data shared of receipt %s: %w", rc.ID, err)
		}
	}
	if !row.IsNull("state_from") || !row.IsNull("state_to") {
		rc.StateTransition = &domain.StateTransition{
			From: row.String("state_from"),
			To:   row.String("state_to"),
		}
	}
	return rc, nil
}
