// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"
)

type CaseStatus string

const (
	CaseInProgress CaseStatus = "in-progress"
	CaseCompleted  CaseStatus = "completed"
	CaseRejected   CaseStatus = "rejected"
	CaseHandedOff  CaseStatus = "handed-off"
)

var CaseStatuses = []CaseStatus{
	CaseInProgress,
	CaseCompleted,
	CaseRejected,
	CaseHandedOff,
}

func (s CaseStatus) Valid() bool {
	for _, known := range CaseStatuses {
		if s == known {
			return true
		}
	}
	return false
}

const (
	ReviewPending = "pending"

	ReviewPriorityLow    = "low"
	ReviewPriorityNormal = "normal"
	ReviewPriorityHigh   = "high"
)

// Case is the materialized view of one (user, capability) pair. Every field
// except the review annotations is derived from folded events.
type Case struct {
	CaseID             string     `json:"caseId"`
	UserID             string     `json:"userId"`
	CapabilityID       string     `json:"capabilityId"`
	CurrentState       string     `json:"currentState"`
	Status             CaseStatus `json:"status"`
	StartedAt          time.Time  `json:"startedAt"`
	LastActivityAt     time.Time  `json:"lastActivityAt"`
	StatesCompleted    []string   `json:"statesCompleted"`
	ProgressPercent    int        `json:"progressPercent"`
	IdentityVerified   bool       `json:"identityVerified"`
	EligibilityChecked bool       `json:"eligibilityChecked"`
	EligibilityResult  *bool      `json:"eligibilityResult"`
	ConsentGranted     bool       `json:"consentGranted"`
	HandedOff          bool       `json:"handedOff"`
	HandoffReason      string     `json:"handoffReason,omitempty"`
	AgentActions       int        `json:"agentActions"`
	HumanActions       int        `json:"humanActions"`
	ReviewStatus       string     `json:"reviewStatus,omitempty"`
	ReviewRequestedAt  *time.Time `json:"reviewRequestedAt,omitempty"`
	ReviewReason       string     `json:"reviewReason,omitempty"`
	ReviewPriority     string     `json:"reviewPriority,omitempty"`
	EventCount         int        `json:"eventCount"`
}

// Clone returns a deep copy so reducers never alias slices or pointers of
// their input.
func (c Case) Clone() Case {
	out := c
	out.StatesCompleted = append([]string(nil), c.StatesCompleted...)
	if c.EligibilityResult != nil {
		v := *c.EligibilityResult
		out.EligibilityResult = &v
	}
	if c.ReviewRequestedAt != nil {
		v := *c.ReviewRequestedAt
		out.ReviewRequestedAt = &v
	}
	return out
}

type Actor string

const (
	ActorAgent   Actor = "agent"
	ActorCitizen Actor = "citizen"
	ActorSystem  Actor = "system"
	ActorHuman   Actor = "human"
)

type CaseTimelineEntry struct {
	ID            int64           `json:"id,omitempty"`
	CaseID        string          `json:"caseId"`
	SourceEventID string          `json:"sourceEventId"`
	TraceID       string          `json:"traceId"`
	EventType     EventType       `json:"eventType"`
	Actor         Actor           `json:"actor"`
	Summary       string          `json:"summary"`
	CreatedAt     time.Time       `json:"createdAt"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type CaseFilter struct {
	CapabilityID string
	Status       CaseStatus
	Page         int
	Limit        int
}

type CasePage struct {
	Cases []Case `json:"cases"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type BottleneckEntry struct {
	State string `json:"state"`
	Count int64  `json:"count"`
}

type Dashboard struct {
	CapabilityID    string               `json:"capabilityId,omitempty"`
	Total           int64                `json:"total"`
	ByStatus        map[CaseStatus]int64 `json:"byStatus"`
	CompletionRate  int                  `json:"completionRate"`
	HandoffRate     int                  `json:"handoffRate"`
	AverageProgress int                  `json:"averageProgress"`
	AgentActions    int64                `json:"agentActions"`
	HumanActions    int64                `json:"humanActions"`
	Bottlenecks     []BottleneckEntry    `json:"bottlenecks"`
	RecentCases     []Case               `json:"recentCases"`
}
