// SPDX-License-Identifier: Apache-2.0

package projection

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func subjectEvent(n int, eventType domain.EventType, payload string) domain.Event {
	return domain.Event{
		ID:        fmt.Sprintf("evt-%04d", n),
		TraceID:   "trace-1",
		SpanID:    fmt.Sprintf("span-%04d", n),
		Timestamp: baseTime.Add(time.Duration(n) * time.Second),
		Type:      eventType,
		Payload:   json.RawMessage(payload),
		Metadata: domain.EventMetadata{
			UserID:       "u1",
			SessionID:    "s1",
			CapabilityID: "c1",
		},
	}
}

func fold(t *testing.T, total int, events ...domain.Event) domain.Case {
	t.Helper()

	var prev *domain.Case
	for _, ev := range events {
		step, ok := Apply(prev, ev, total)
		require.True(t, ok, "event %s should fold", ev.ID)
		c := step.Case
		prev = &c
	}
	require.NotNil(t, prev)
	return *prev
}

func TestApplyIdentityVerifiedTransition(t *testing.T) {
	ev := subjectEvent(1, domain.EventStateTransition, `{"from":"not-started","to":"identity-verified"}`)

	c := fold(t, 5, ev)
	assert.Equal(t, "identity-verified", c.CurrentState)
	assert.Equal(t, 40, c.ProgressPercent)
	assert.Equal(t, domain.CaseInProgress, c.Status)
	assert.True(t, c.IdentityVerified)
	assert.Equal(t, []string{"not-started", "identity-verified"}, c.StatesCompleted)
	assert.Equal(t, CaseID("u1", "c1"), c.CaseID)
	assert.Equal(t, ev.Timestamp, c.StartedAt)
	assert.Equal(t, 1, c.EventCount)
}

func TestApplyIneligibleThenRejected(t *testing.T) {
	c := fold(t, 0,
		subjectEvent(1, domain.EventPolicyEvaluated, `{"eligible":false,"reason":"income"}`),
		subjectEvent(2, domain.EventStateTransition, `{"from":"eligibility-checked","to":"rejected"}`),
	)
	assert.Equal(t, domain.CaseRejected, c.Status)
	assert.True(t, c.EligibilityChecked)
	require.NotNil(t, c.EligibilityResult)
	assert.False(t, *c.EligibilityResult)
	assert.Equal(t, 0, c.ProgressPercent)
}

func TestApplyHandoffIsSticky(t *testing.T) {
	c := fold(t, 4,
		subjectEvent(1, domain.EventStateTransition, `{"to":"a"}`),
		subjectEvent(2, domain.EventHandoffInitiated, `{"reason":"complex case"}`),
		subjectEvent(3, domain.EventStateTransition, `{"from":"a","to":"completed"}`),
		subjectEvent(4, domain.EventPolicyEvaluated, `{"eligible":true}`),
	)
	assert.Equal(t, domain.CaseHandedOff, c.Status)
	assert.True(t, c.HandedOff)
	assert.Equal(t, "complex case", c.HandoffReason)
	assert.Equal(t, "completed", c.CurrentState)
}

func TestApplyCountersAndFlags(t *testing.T) {
	c := fold(t, 0,
		subjectEvent(1, domain.EventCapabilityInvoked, `{"tool":"lookup"}`),
		subjectEvent(2, domain.EventLLMRequest, `{}`),
		subjectEvent(3, domain.EventLLMResponse, `{}`),
		subjectEvent(4, domain.EventCredentialPresented, `{"credentialType":"driving-licence"}`),
		subjectEvent(5, domain.EventConsentGranted, `{"scope":"address"}`),
		subjectEvent(6, domain.EventReceiptIssued, `{"receiptId":"r1"}`),
	)
	assert.Equal(t, 2, c.AgentActions)
	assert.Equal(t, 1, c.HumanActions)
	assert.True(t, c.ConsentGranted)
	assert.Equal(t, 6, c.EventCount)
	assert.Equal(t, baseTime.Add(6*time.Second), c.LastActivityAt)
	assert.Empty(t, c.StatesCompleted)

	denied := fold(t, 0,
		subjectEvent(1, domain.EventConsentGranted, `{}`),
		subjectEvent(2, domain.EventConsentDenied, `{}`),
	)
	assert.False(t, denied.ConsentGranted)
}

func TestApplyVisitedStatesIsASet(t *testing.T) {
	c := fold(t, 3,
		subjectEvent(1, domain.EventStateTransition, `{"from":"a","to":"b"}`),
		subjectEvent(2, domain.EventStateTransition, `{"from":"b","to":"a"}`),
		subjectEvent(3, domain.EventStateTransition, `{"from":"a","to":"b"}`),
	)
	assert.Equal(t, []string{"a", "b"}, c.StatesCompleted)
	assert.Equal(t, 67, c.ProgressPercent)
}

func TestApplyProgressIsCapped(t *testing.T) {
	c := fold(t, 1, subjectEvent(1, domain.EventStateTransition, `{"from":"a","to":"b"}`))
	assert.Equal(t, 100, c.ProgressPercent)
}

func TestApplyTerminalMapping(t *testing.T) {
	cases := map[string]domain.CaseStatus{
		"completed":             domain.CaseCompleted,
		"claim-submitted":       domain.CaseCompleted,
		"application-submitted": domain.CaseCompleted,
		"rejected":              domain.CaseRejected,
		"ineligible":            domain.CaseRejected,
		"handed-off":            domain.CaseHandedOff,
		"human-review":          domain.CaseHandedOff,
		"details-confirmed":     domain.CaseInProgress,
	}
	for state, want := range cases {
		c := fold(t, 0, subjectEvent(1, domain.EventStateTransition, `{"to":"`+state+`"}`))
		assert.Equal(t, want, c.Status, "state %s", state)
	}
}

func TestApplySkipsIrrelevantEvents(t *testing.T) {
	other := subjectEvent(1, domain.EventType("page-viewed"), `{}`)
	_, ok := Apply(nil, other, 0)
	assert.False(t, ok, "non-ledger types are never folded")

	anonymous := subjectEvent(2, domain.EventLLMRequest, `{}`)
	anonymous.Metadata.UserID = ""
	_, ok = Apply(nil, anonymous, 0)
	assert.False(t, ok, "events without a user are not case scoped")

	fallback := subjectEvent(3, domain.EventStateTransition, `{"to":"a","serviceId":"c2"}`)
	fallback.Metadata.CapabilityID = ""
	step, ok := Apply(nil, fallback, 0)
	require.True(t, ok)
	assert.Equal(t, "c2", step.Case.CapabilityID)
}

func TestApplyDoesNotMutatePrevious(t *testing.T) {
	prev := fold(t, 4, subjectEvent(1, domain.EventStateTransition, `{"from":"a","to":"b"}`))
	snapshot := prev.Clone()

	_, ok := Apply(&prev, subjectEvent(2, domain.EventStateTransition, `{"from":"b","to":"c"}`), 4)
	require.True(t, ok)
	assert.Equal(t, snapshot, prev)
}

func TestApplyMalformedPayloadStillRecords(t *testing.T) {
	prev := fold(t, 4, subjectEvent(1, domain.EventStateTransition, `{"to":"a"}`))

	step, ok := Apply(&prev, subjectEvent(2, domain.EventStateTransition, `{"to":5}`), 4)
	require.True(t, ok)
	assert.Error(t, step.PayloadErr)
	assert.Equal(t, "a", step.Case.CurrentState)
	assert.Equal(t, 2, step.Case.EventCount)
	assert.Equal(t, "Recorded state-transition", step.Entry.Summary)
}

func TestApplyTimelineEntry(t *testing.T) {
	ev := subjectEvent(7, domain.EventHandoffInitiated, `{"reason":"needs review"}`)
	step, ok := Apply(nil, ev, 0)
	require.True(t, ok)

	assert.Equal(t, domain.CaseTimelineEntry{
		CaseID:        CaseID("u1", "c1"),
		SourceEventID: ev.ID,
		TraceID:       ev.TraceID,
		EventType:     domain.EventHandoffInitiated,
		Actor:         domain.ActorHuman,
		Summary:       "Handed off to a caseworker: needs review",
		CreatedAt:     ev.Timestamp,
	}, step.Entry)

	for eventType, want := range map[domain.EventType]domain.Actor{
		domain.EventLLMRequest:          domain.ActorAgent,
		domain.EventCredentialPresented: domain.ActorCitizen,
		domain.EventPolicyEvaluated:     domain.ActorSystem,
	} {
		assert.Equal(t, want, actorFor(eventType), "actor of %s", eventType)
	}
}
