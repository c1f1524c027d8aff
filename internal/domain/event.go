// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStateTransition     EventType = "state-transition"
	EventConsentGranted      EventType = "consent-granted"
	EventConsentDenied       EventType = "consent-denied"
	EventPolicyEvaluated     EventType = "policy-evaluated"
	EventHandoffInitiated    EventType = "handoff-initiated"
	EventCapabilityInvoked   EventType = "capability-invoked"
	EventLLMRequest          EventType = "llm-request"
	EventLLMResponse         EventType = "llm-response"
	EventCredentialPresented EventType = "credential-presented"
	EventReceiptIssued       EventType = "receipt-issued"
)

// LedgerEventTypes is the fixed vocabulary the projection understands.
// Any other type is stored verbatim and never folded.
var LedgerEventTypes = []EventType{
	EventStateTransition,
	EventConsentGranted,
	EventConsentDenied,
	EventPolicyEvaluated,
	EventHandoffInitiated,
	EventCapabilityInvoked,
	EventLLMRequest,
	EventLLMResponse,
	EventCredentialPresented,
	EventReceiptIssued,
}

func (t EventType) IsLedger() bool {
	for _, known := range LedgerEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

type EventMetadata struct {
	UserID       string `json:"userId,omitempty"`
	SessionID    string `json:"sessionId"`
	CapabilityID string `json:"capabilityId,omitempty"`
}

// Event is one immutable ledger entry. Seq is assigned by storage and only
// used to break timestamp ties in insertion order.
type Event struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq,omitempty"`
	TraceID      string          `json:"traceId"`
	SpanID       string          `json:"spanId"`
	ParentSpanID string          `json:"parentSpanId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Type         EventType       `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Metadata     EventMetadata   `json:"metadata"`
}

// Subject resolves the (user, capability) pair the event belongs to. The
// capability falls back to payload.serviceId when metadata does not carry it.
func (e Event) Subject() (userID, capabilityID string, ok bool) {
	userID = strings.TrimSpace(e.Metadata.UserID)
	capabilityID = strings.TrimSpace(e.Metadata.CapabilityID)
	if capabilityID == "" {
		capabilityID = payloadServiceID(e.Payload)
	}
	if userID == "" || capabilityID == "" {
		return "", "", false
	}
	return userID, capabilityID, true
}

func payloadServiceID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var peek struct {
		ServiceID string `json:"serviceId"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ""
	}
	return strings.TrimSpace(peek.ServiceID)
}

// Span carries correlation ids for one logical sub-operation. It is never
// persisted on its own.
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	SessionID    string
	UserID       string
	CapabilityID string
}

func (s Span) Metadata() EventMetadata {
	return EventMetadata{
		UserID:       s.UserID,
		SessionID:    s.SessionID,
		CapabilityID: s.CapabilityID,
	}
}

// Child returns a nested span in the same trace with a fresh span id.
func (s Span) Child() Span {
	child := s
	child.ParentSpanID = s.SpanID
	child.SpanID = uuid.NewString()
	return child
}

// TraceSummary is one row of the trace listing.
type TraceSummary struct {
	TraceID    string    `json:"traceId"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
	EventCount int64     `json:"eventCount"`
}
