// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

type ReceiptSubject struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type StateTransition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Receipt is a subject-facing record of a significant outcome. It is written
// explicitly and never derived from events.
type Receipt struct {
	ID              string           `json:"id"`
	TraceID         string           `json:"traceId"`
	CapabilityID    string           `json:"capabilityId"`
	Timestamp       time.Time        `json:"timestamp"`
	Subject         ReceiptSubject   `json:"citizen"`
	Action          string           `json:"action"`
	Outcome         string           `json:"outcome"`
	Details         map[string]any   `json:"details"`
	DataShared      []string         `json:"dataShared,omitempty"`
	StateTransition *StateTransition `json:"stateTransition,omitempty"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)
