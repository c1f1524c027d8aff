// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"log/slog"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/emitter"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/projection"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/receipt"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/repository"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
)

// Ledger is the wired set of components over one storage adapter. The
// emitter and the projector share one TotalStates cache.
type Ledger struct {
	Events    *repository.EventRepository
	Cases     *repository.CaseRepository
	Receipts  *repository.ReceiptRepository
	Totals    *projection.TotalStates
	Projector *projection.Projector
	Emitter   *emitter.Emitter
	Issuer    *receipt.Generator
	Eraser    *Eraser
}

// New wires the ledger over db. totalStates seeds the journey length per
// capability; it may be nil.
func New(db storage.Adapter, totalStates map[string]int, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	events := repository.NewEventRepository(db, logger)
	cases := repository.NewCaseRepository(db, logger)
	receipts := repository.NewReceiptRepository(db, logger)
	totals := projection.NewTotalStates(totalStates)
	projector := projection.New(cases, events, totals, logger)
	em := emitter.New(events, projector, totals, logger)

	return &Ledger{
		Events:    events,
		Cases:     cases,
		Receipts:  receipts,
		Totals:    totals,
		Projector: projector,
		Emitter:   em,
		Issuer:    receipt.NewGenerator(receipts, em, logger),
		Eraser:    NewEraser(events, projector, logger),
	}
}
