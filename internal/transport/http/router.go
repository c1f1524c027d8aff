// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/auth"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/emitter"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/metrics"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/receipt"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxBodyBytes bounds request bodies when Deps.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 4 << 20

type eventRequest struct {
	TraceID      string               `json:"traceId"`
	SpanID       string               `json:"spanId"`
	ParentSpanID string               `json:"parentSpanId"`
	Type         string               `json:"type"`
	Payload      json.RawMessage      `json:"payload"`
	Metadata     domain.EventMetadata `json:"metadata"`
}

type eventBatchRequest struct {
	Events []eventRequest `json:"events"`
}

type reviewRequest struct {
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
}

type receiptRequest struct {
	TraceID         string                  `json:"traceId"`
	CapabilityID    string                  `json:"capabilityId"`
	Citizen         domain.ReceiptSubject   `json:"citizen"`
	Action          string                  `json:"action"`
	Outcome         string                  `json:"outcome"`
	Details         map[string]any          `json:"details"`
	DataShared      []string                `json:"dataShared"`
	StateTransition *domain.StateTransition `json:"stateTransition"`
	SessionID       string                  `json:"sessionId"`
}

type rebuildRequest struct {
	Totals map[string]int `json:"totals"`
}

type totalStatesRequest struct {
	TotalStates *int `json:"totalStates"`
}

type Deps struct {
	Events       EventReader
	Emitter      EventEmitter
	Cases        CaseReader
	CaseAdmin    CaseAdmin
	Receipts     ReceiptReader
	Issuer       ReceiptIssuer
	Eraser       SubjectEraser
	Health       HealthChecker
	Logger       *slog.Logger
	AdminToken   string
	MaxBodyBytes int64
	Version      string
	Commit       string
	BuildDate    string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	fail := failer(logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	r.Use(maxBodyMiddleware(maxBody))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "storage not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- EVENTS ----------------

	r.Post("/events", func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}

		draft, err := req.draft(uuid.NewString())
		if err != nil {
			fail(w, r, "emit event", err)
			return
		}

		ev, err := deps.Emitter.EmitE(r.Context(), draft.Type, draft.Span, draft.Payload)
		if err != nil {
			fail(w, r, "emit event", err)
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	})

	r.Post("/events/batch", func(w http.ResponseWriter, r *http.Request) {
		var req eventBatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if len(req.Events) == 0 {
			http.Error(w, "events must not be empty", http.StatusBadRequest)
			return
		}

		// Events without a trace id share one fresh trace.
		trace := uuid.NewString()
		drafts := make([]emitter.Draft, 0, len(req.Events))
		for _, er := range req.Events {
			draft, err := er.draft(trace)
			if err != nil {
				fail(w, r, "emit event batch", err)
				return
			}
			drafts = append(drafts, draft)
		}

		events, err := deps.Emitter.EmitBatchE(r.Context(), drafts)
		if err != nil {
			fail(w, r, "emit event batch", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"events": events,
		})
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		eventType := strings.TrimSpace(r.URL.Query().Get("type"))
		if eventType == "" {
			http.Error(w, "type is required", http.StatusBadRequest)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		events, err := deps.Events.QueryByType(r.Context(), domain.EventType(eventType), limit)
		if err != nil {
			fail(w, r, "query events", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":   eventType,
			"events": events,
		})
	})

	r.Get("/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		ev, err := deps.Events.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, "get event", err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	})

	// ---------------- TRACES & SESSIONS ----------------

	r.Get("/traces", func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		traces, err := deps.Events.ListTraces(r.Context(), limit)
		if err != nil {
			fail(w, r, "list traces", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"traces": traces,
		})
	})

	r.Get("/traces/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		traceID := chi.URLParam(r, "id")
		events, err := deps.Events.QueryByTrace(r.Context(), traceID)
		if err != nil {
			fail(w, r, "query trace", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"traceId": traceID,
			"events":  events,
		})
	})

	r.Get("/traces/{id}/receipts", func(w http.ResponseWriter, r *http.Request) {
		traceID := chi.URLParam(r, "id")
		receipts, err := deps.Receipts.ListByTrace(r.Context(), traceID)
		if err != nil {
			fail(w, r, "list receipts", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"traceId":  traceID,
			"receipts": receipts,
		})
	})

	r.Get("/sessions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		events, err := deps.Events.QueryBySession(r.Context(), sessionID)
		if err != nil {
			fail(w, r, "query session", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": sessionID,
			"events":    events,
		})
	})

	// ---------------- CASES ----------------

	r.Get("/cases", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, err := queryInt(r, "page")
		if err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		result, err := deps.Cases.ListCases(r.Context(), domain.CaseFilter{
			CapabilityID: strings.TrimSpace(q.Get("capability_id")),
			Status:       domain.CaseStatus(strings.TrimSpace(q.Get("status"))),
			Page:         page,
			Limit:        limit,
		})
		if err != nil {
			fail(w, r, "list cases", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/cases/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Cases.GetCase(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, "get case", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	})

	r.Get("/cases/{id}/timeline", func(w http.ResponseWriter, r *http.Request) {
		caseID := chi.URLParam(r, "id")
		timeline, err := deps.Cases.GetCaseTimeline(r.Context(), caseID)
		if err != nil {
			fail(w, r, "get case timeline", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"caseId":   caseID,
			"timeline": timeline,
		})
	})

	r.Post("/cases/{id}/review", func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeDecodeError(w, err)
			return
		}

		c, err := deps.Cases.SubmitReview(r.Context(), chi.URLParam(r, "id"), req.Reason, req.Priority)
		if err != nil {
			fail(w, r, "submit review", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	})

	r.Get("/users/{userId}/capabilities/{capabilityId}/case", func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Cases.GetCaseByUser(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "capabilityId"))
		if err != nil {
			fail(w, r, "get case by user", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	})

	// ---------------- DASHBOARD ----------------

	r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Cases.GetDashboardAll(r.Context())
		if err != nil {
			fail(w, r, "get dashboard", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	r.Get("/dashboard/{capabilityId}", func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Cases.GetDashboard(r.Context(), chi.URLParam(r, "capabilityId"))
		if err != nil {
			fail(w, r, "get dashboard", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	r.Get("/dashboard/{capabilityId}/bottlenecks", func(w http.ResponseWriter, r *http.Request) {
		capabilityID := chi.URLParam(r, "capabilityId")
		entries, err := deps.Cases.GetBottlenecks(r.Context(), capabilityID)
		if err != nil {
			fail(w, r, "get bottlenecks", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"capabilityId": capabilityID,
			"bottlenecks":  entries,
		})
	})

	// ---------------- RECEIPTS ----------------

	r.Post("/receipts", func(w http.ResponseWriter, r *http.Request) {
		var req receiptRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		params, err := req.params()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rc, err := deps.Issuer.CreateE(r.Context(), params)
		if err != nil {
			fail(w, r, "create receipt", err)
			return
		}
		writeJSON(w, http.StatusCreated, rc)
	})

	r.Get("/receipts/{id}", func(w http.ResponseWriter, r *http.Request) {
		rc, err := deps.Receipts.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, "get receipt", err)
			return
		}
		writeJSON(w, http.StatusOK, rc)
	})

	// ---------------- MAINTENANCE (ADMIN) ----------------

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

		admin.Post("/rebuild", func(w http.ResponseWriter, r *http.Request) {
			var req rebuildRequest
			if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
				writeDecodeError(w, err)
				return
			}
			for capabilityID, total := range req.Totals {
				if total <= 0 {
					http.Error(w, "totals must be positive: "+capabilityID, http.StatusBadRequest)
					return
				}
			}

			op, _ := auth.OperatorFromContext(r.Context())
			logger.Info("projection rebuild requested", "operator", op.Name)

			stats, err := deps.CaseAdmin.RebuildFromLog(r.Context(), req.Totals)
			if err != nil {
				fail(w, r, "rebuild projection", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"eventsScanned": stats.EventsScanned,
				"eventsFolded":  stats.EventsFolded,
				"cases":         stats.Cases,
				"durationMs":    stats.Duration.Milliseconds(),
			})
		})

		admin.Delete("/cases/{id}", func(w http.ResponseWriter, r *http.Request) {
			caseID := chi.URLParam(r, "id")
			if err := deps.CaseAdmin.DeleteCase(r.Context(), caseID); err != nil {
				fail(w, r, "delete case", err)
				return
			}

			op, _ := auth.OperatorFromContext(r.Context())
			logger.Info("case deleted via API", "case_id", caseID, "operator", op.Name)
			w.WriteHeader(http.StatusNoContent)
		})

		admin.Delete("/subjects/{userId}/capabilities/{capabilityId}", func(w http.ResponseWriter, r *http.Request) {
			out, err := deps.Eraser.EraseSubject(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "capabilityId"))
			if err != nil {
				fail(w, r, "erase subject", err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})

		admin.Put("/capabilities/{capabilityId}/total-states", func(w http.ResponseWriter, r *http.Request) {
			var req totalStatesRequest
			if err := decodeJSON(r, &req); err != nil {
				writeDecodeError(w, err)
				return
			}
			if req.TotalStates == nil || *req.TotalStates < 0 {
				http.Error(w, "totalStates must be a non-negative integer", http.StatusBadRequest)
				return
			}

			capabilityID := chi.URLParam(r, "capabilityId")
			deps.Emitter.SetTotalStates(capabilityID, *req.TotalStates)

			op, _ := auth.OperatorFromContext(r.Context())
			logger.Info("total states updated",
				"capability_id", capabilityID,
				"total_states", *req.TotalStates,
				"operator", op.Name,
			)
			writeJSON(w, http.StatusOK, map[string]any{
				"capabilityId": capabilityID,
				"totalStates":  *req.TotalStates,
			})
		})
	})

	return r
}

func (e eventRequest) draft(defaultTrace string) (emitter.Draft, error) {
	eventType := strings.TrimSpace(e.Type)
	if eventType == "" {
		return emitter.Draft{}, fmt.Errorf("%w: type is required", domain.ErrInvalidEvent)
	}

	traceID := strings.TrimSpace(e.TraceID)
	if traceID == "" {
		traceID = defaultTrace
	}

	var payload json.RawMessage
	if trimmed := bytes.TrimSpace(e.Payload); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		payload = trimmed
	}

	return emitter.Draft{
		Type: domain.EventType(eventType),
		Span: domain.Span{
			TraceID:      traceID,
			SpanID:       strings.TrimSpace(e.SpanID),
			ParentSpanID: strings.TrimSpace(e.ParentSpanID),
			SessionID:    strings.TrimSpace(e.Metadata.SessionID),
			UserID:       strings.TrimSpace(e.Metadata.UserID),
			CapabilityID: strings.TrimSpace(e.Metadata.CapabilityID),
		},
		Payload: payload,
	}, nil
}

func (req receiptRequest) params() (receipt.Params, error) {
	if strings.TrimSpace(req.TraceID) == "" {
		return receipt.Params{}, errors.New("traceId is required")
	}
	if strings.TrimSpace(req.Action) == "" {
		return receipt.Params{}, errors.New("action is required")
	}
	switch req.Outcome {
	case "", domain.OutcomeSuccess, domain.OutcomeFailure, domain.OutcomePending:
	default:
		return receipt.Params{}, errors.New("outcome must be success, failure or pending")
	}

	return receipt.Params{
		TraceID:         strings.TrimSpace(req.TraceID),
		CapabilityID:    strings.TrimSpace(req.CapabilityID),
		Subject:         req.Citizen,
		Action:          strings.TrimSpace(req.Action),
		Outcome:         req.Outcome,
		Details:         req.Details,
		DataShared:      req.DataShared,
		StateTransition: req.StateTransition,
		SessionID:       strings.TrimSpace(req.SessionID),
	}, nil
}

// failer maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without its detail.
func failer(logger *slog.Logger) func(w http.ResponseWriter, r *http.Request, op string, err error) {
	return func(w http.ResponseWriter, r *http.Request, op string, err error) {
		switch {
		case errors.Is(err, domain.ErrInvalidEvent),
			errors.Is(err, domain.ErrInvalidReview),
			errors.Is(err, domain.ErrInvalidFilter):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrEventNotFound),
			errors.Is(err, domain.ErrCaseNotFound),
			errors.Is(err, domain.ErrReceiptNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, domain.ErrDuplicateEvent),
			errors.Is(err, storage.ErrDuplicateKey):
			http.Error(w, "duplicate id", http.StatusConflict)
		case errors.Is(err, domain.ErrRebuildInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			reqID, _ := requestIDFromContext(r.Context())
			logger.Error(op+" failed",
				"request_id", reqID,
				"path", r.URL.Path,
				"storage_failure", domain.IsStorageFailure(err),
				"error", err,
			)
			http.Error(w, "failed to "+op, http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, "invalid request body", http.StatusBadRequest)
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
