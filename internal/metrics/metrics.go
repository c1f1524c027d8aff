// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	eventsAppendedCounter  *prometheus.CounterVec
	emitFailuresCounter    prometheus.Counter
	foldsCounter           *prometheus.CounterVec
	foldSkippedCounter     prometheus.Counter
	foldFailuresCounter    prometheus.Counter
	rebuildDurationMetric  prometheus.Histogram
	receiptsIssuedCounter  *prometheus.CounterVec
	receiptFailuresCounter prometheus.Counter
	subjectErasuresCounter prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsAppendedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_events_appended_total",
				Help: "Total number of events durably appended by type.",
			},
			[]string{"type"},
		)

		emitFailuresCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_emit_failures_total",
				Help: "Total number of swallowed emit failures where the event was not persisted.",
			},
		)

		foldsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_folds_total",
				Help: "Total number of events folded into the case projection by type.",
			},
			[]string{"type"},
		)

		foldSkippedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_fold_skipped_total",
				Help: "Total number of relevant events skipped for lacking a user or capability.",
			},
		)

		foldFailuresCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_fold_failures_total",
				Help: "Total number of projection writes that failed after a successful append.",
			},
		)

		rebuildDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_rebuild_duration_seconds",
				Help:    "Duration of full projection rebuilds in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		receiptsIssuedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_receipts_issued_total",
				Help: "Total number of receipts persisted by outcome.",
			},
			[]string{"outcome"},
		)

		receiptFailuresCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_receipt_failures_total",
				Help: "Total number of swallowed receipt persistence failures.",
			},
		)

		subjectErasuresCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_subject_erasures_total",
				Help: "Total number of per-subject erasure requests executed.",
			},
		)

		prometheus.MustRegister(
			eventsAppendedCounter,
			emitFailuresCounter,
			foldsCounter,
			foldSkippedCounter,
			foldFailuresCounter,
			rebuildDurationMetric,
			receiptsIssuedCounter,
			receiptFailuresCounter,
			subjectErasuresCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, t := range domain.LedgerEventTypes {
			eventsAppendedCounter.WithLabelValues(string(t))
			foldsCounter.WithLabelValues(string(t))
		}

		for _, outcome := range []string{
			domain.OutcomeSuccess,
			domain.OutcomeFailure,
			domain.OutcomePending,
		} {
			receiptsIssuedCounter.WithLabelValues(outcome)
		}
	})
}

func IncEventsAppended(eventType domain.EventType) {
	Init()
	eventsAppendedCounter.WithLabelValues(typeLabel(eventType)).Inc()
}

func IncEmitFailures() {
	Init()
	emitFailuresCounter.Inc()
}

func IncFolds(eventType domain.EventType) {
	Init()
	foldsCounter.WithLabelValues(typeLabel(eventType)).Inc()
}

func IncFoldSkipped() {
	Init()
	foldSkippedCounter.Inc()
}

func IncFoldFailures() {
	Init()
	foldFailuresCounter.Inc()
}

func ObserveRebuildDuration(d time.Duration) {
	Init()
	rebuildDurationMetric.Observe(d.Seconds())
}

func IncReceiptsIssued(outcome string) {
	Init()
	receiptsIssuedCounter.WithLabelValues(outcomeLabel(outcome)).Inc()
}

func IncReceiptFailures() {
	Init()
	receiptFailuresCounter.Inc()
}

func IncSubjectErasures() {
	Init()
	subjectErasuresCounter.Inc()
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case domain.OutcomeSuccess, domain.OutcomeFailure, domain.OutcomePending:
		return outcome
	}
	return "other"
}

// typeLabel folds the open set of non-ledger types into one label value so
// collaborator-chosen type names cannot grow the series count.
func typeLabel(t domain.EventType) string {
	if t.IsLedger() {
		return string(t)
	}
	return "other"
}
