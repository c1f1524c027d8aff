// SPDX-License-Identifier: Apache-2.0

package projection

import (
	"fmt"
	"math"
	"strings"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
)

// IdentityVerifiedState is the journey state that marks identity as verified.
const IdentityVerifiedState = "identity-verified"

var terminalStates = map[string]domain.CaseStatus{
	"completed":             domain.CaseCompleted,
	"claim-submitted":       domain.CaseCompleted,
	"application-submitted": domain.CaseCompleted,
	"rejected":              domain.CaseRejected,
	"ineligible":            domain.CaseRejected,
	"handed-off":            domain.CaseHandedOff,
	"human-review":          domain.CaseHandedOff,
}

// StatusForState maps a journey state onto a case status. Any state without
// a terminal meaning is in-progress.
func StatusForState(state string) domain.CaseStatus {
	if status, ok := terminalStates[state]; ok {
		return status
	}
	return domain.CaseInProgress
}

// Relevant reports whether events of type t are folded into cases.
func Relevant(t domain.EventType) bool {
	return t.IsLedger()
}

// Step is the outcome of folding one event.
type Step struct {
	Case  domain.Case
	Entry domain.CaseTimelineEntry
	// PayloadErr is set when the payload did not decode into its typed
	// variant. Only the universal bump and the timeline entry were applied.
	PayloadErr error
}

// Apply folds ev into prev and returns the next case state with its timeline
// entry. prev is nil when the case does not exist yet. ok is false when the
// event is not relevant or does not resolve to a (user, capability) pair.
//
// Apply is pure: it never mutates prev and reads no clock, so live folding
// and rebuild produce identical rows for the same event sequence.
func Apply(prev *domain.Case, ev domain.Event, totalStates int) (Step, bool) {
	if !Relevant(ev.Type) {
		return Step{}, false
	}
	userID, capabilityID, ok := ev.Subject()
	if !ok {
		return Step{}, false
	}

	var c domain.Case
	if prev != nil {
		c = prev.Clone()
	} else {
		c = domain.Case{
			CaseID:          CaseID(userID, capabilityID),
			UserID:          userID,
			CapabilityID:    capabilityID,
			Status:          domain.CaseInProgress,
			StartedAt:       ev.Timestamp,
			StatesCompleted: []string{},
		}
	}
	c.LastActivityAt = ev.Timestamp
	c.EventCount++

	payload, err := domain.DecodePayload(ev.Type, ev.Payload)
	step := Step{PayloadErr: err}
	if err == nil {
		applyPayload(&c, payload, totalStates)
	}

	step.Case = c
	step.Entry = domain.CaseTimelineEntry{
		CaseID:        c.CaseID,
		SourceEventID: ev.ID,
		TraceID:       ev.TraceID,
		EventType:     ev.Type,
		Actor:         actorFor(ev.Type),
		Summary:       summarize(ev.Type, payload),
		CreatedAt:     ev.Timestamp,
	}
	return step, true
}

func applyPayload(c *domain.Case, payload domain.Payload, totalStates int) {
	switch p := payload.(type) {
	case domain.StateTransitionPayload:
		c.StatesCompleted = addState(c.StatesCompleted, p.From)
		c.StatesCompleted = addState(c.StatesCompleted, p.To)
		c.ProgressPercent = progress(len(c.StatesCompleted), totalStates)
		c.CurrentState = p.To
		if c.HandedOff {
			c.Status = domain.CaseHandedOff
		} else {
			c.Status = StatusForState(p.To)
		}
		if p.To == IdentityVerifiedState {
			c.IdentityVerified = true
		}

	case domain.ConsentPayload:
		c.ConsentGranted = p.Granted

	case domain.PolicyEvaluatedPayload:
		eligible := p.Eligible
		c.EligibilityChecked = true
		c.EligibilityResult = &eligible

	case domain.HandoffPayload:
		c.HandedOff = true
		c.HandoffReason = p.Reason
		c.Status = domain.CaseHandedOff

	case domain.CapabilityInvokedPayload:
		c.AgentActions++

	case domain.LLMPayload:
		if !p.Response {
			c.AgentActions++
		}

	case domain.CredentialPresentedPayload:
		c.HumanActions++
	}
}

func addState(visited []string, state string) []string {
	state = strings.TrimSpace(state)
	if state == "" {
		return visited
	}
	for _, s := range visited {
		if s == state {
			return visited
		}
	}
	return append(visited, state)
}

// progress is capped at 100 for journeys that visit more states than the
// configured total.
func progress(visited, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(visited) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

func actorFor(t domain.EventType) domain.Actor {
	switch t {
	case domain.EventCapabilityInvoked, domain.EventLLMRequest, domain.EventLLMResponse:
		return domain.ActorAgent
	case domain.EventConsentGranted, domain.EventConsentDenied, domain.EventCredentialPresented:
		return domain.ActorCitizen
	case domain.EventHandoffInitiated:
		return domain.ActorHuman
	default:
		return domain.ActorSystem
	}
}

func summarize(t domain.EventType, payload domain.Payload) string {
	switch p := payload.(type) {
	case domain.StateTransitionPayload:
		if p.From == "" {
			return fmt.Sprintf("Moved to %s", p.To)
		}
		return fmt.Sprintf("Moved from %s to %s", p.From, p.To)
	case domain.ConsentPayload:
		verb := "denied"
		if p.Granted {
			verb = "granted"
		}
		if p.Scope != "" {
			return fmt.Sprintf("Consent %s for %s", verb, p.Scope)
		}
		return "Consent " + verb
	case domain.PolicyEvaluatedPayload:
		if p.Eligible {
			return "Eligibility check passed"
		}
		if p.Reason != "" {
			return "Eligibility check failed: " + p.Reason
		}
		return "Eligibility check failed"
	case domain.HandoffPayload:
		if p.Reason != "" {
			return "Handed off to a caseworker: " + p.Reason
		}
		return "Handed off to a caseworker"
	case domain.CapabilityInvokedPayload:
		name := p.Capability
		if name == "" {
			name = p.Tool
		}
		if name != "" {
			return "Agent invoked " + name
		}
		return "Agent invoked a capability"
	case domain.LLMPayload:
		if p.Response {
			return "Agent received a model response"
		}
		return "Agent sent a model request"
	case domain.CredentialPresentedPayload:
		if p.CredentialType != "" {
			return "Citizen presented a " + p.CredentialType + " credential"
		}
		return "Citizen presented a credential"
	case domain.ReceiptIssuedPayload:
		if p.ReceiptID != "" {
			return "Receipt " + p.ReceiptID + " issued"
		}
		return "Receipt issued"
	default:
		return "Recorded " + string(t)
	}
}
