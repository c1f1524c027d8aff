// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed view of an event payload. The raw JSON stays the
// stored form; variants are decoded on demand by event type.
type Payload interface {
	EventType() EventType
}

type StateTransitionPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Trigger   string `json:"trigger,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (StateTransitionPayload) EventType() EventType { return EventStateTransition }

type ConsentPayload struct {
	Granted    bool     `json:"-"`
	Scope      string   `json:"scope,omitempty"`
	DataShared []string `json:"dataShared,omitempty"`
	ServiceID  string   `json:"serviceId,omitempty"`
}

func (p ConsentPayload) EventType() EventType {
	if p.Granted {
		return EventConsentGranted
	}
	return EventConsentDenied
}

type PolicyEvaluatedPayload struct {
	Eligible  bool   `json:"eligible"`
	Reason    string `json:"reason,omitempty"`
	PolicyID  string `json:"policyId,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (PolicyEvaluatedPayload) EventType() EventType { return EventPolicyEvaluated }

type HandoffPayload struct {
	Reason    string `json:"reason"`
	Urgency   string `json:"urgency,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (HandoffPayload) EventType() EventType { return EventHandoffInitiated }

type CapabilityInvokedPayload struct {
	Capability string `json:"capability,omitempty"`
	Tool       string `json:"tool,omitempty"`
	ServiceID  string `json:"serviceId,omitempty"`
}

func (CapabilityInvokedPayload) EventType() EventType { return EventCapabilityInvoked }

type LLMPayload struct {
	Response  bool   `json:"-"`
	Model     string `json:"model,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (p LLMPayload) EventType() EventType {
	if p.Response {
		return EventLLMResponse
	}
	return EventLLMRequest
}

type CredentialPresentedPayload struct {
	CredentialType string `json:"credentialType,omitempty"`
	ServiceID      string `json:"serviceId,omitempty"`
}

func (CredentialPresentedPayload) EventType() EventType { return EventCredentialPresented }

type ReceiptIssuedPayload struct {
	ReceiptID string `json:"receiptId,omitempty"`
	Action    string `json:"action,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (ReceiptIssuedPayload) EventType() EventType { return EventReceiptIssued }

// OpaquePayload is any payload of a type outside the ledger vocabulary.
type OpaquePayload struct {
	Type EventType
	Raw  json.RawMessage
}

func (p OpaquePayload) EventType() EventType { return p.Type }

// DecodePayload decodes the raw payload into the variant registered for t.
// Unknown types pass through as OpaquePayload.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var (
		out Payload
		err error
	)
	switch t {
	case EventStateTransition:
		var p StateTransitionPayload
		err = json.Unmarshal(raw, &p)
		out = p
	case EventConsentGranted, EventConsentDenied:
		var p ConsentPayload
		err = json.Unmarshal(raw, &p)
		p.Granted = t == EventConsentGranted
		out = p
	case EventPolicyEvaluated:
		var p PolicyEvaluatedPayload
		err = json.Unmarshal(raw, &p)
		out = p
	case EventHandoffInitiated:
		var p HandoffPayload
		err = json.Unmarshal(raw, &p)
		out = p
	case EventCapabilityInvoked:
		var p CapabilityInvokedPayload
		err = json.Unmarshal(raw, &p)
		out = p
	case EventLLMRequest, EventLLMResponse:
		var p LLMPayload
		err = json.Unmarshal(raw, &p)
		p.Response = t == EventLLMResponse
		out = p
	case EventCredentialPresented:
		var p CredentialPresentedPayload
		err = json.Unmarshal(raw, &p)
		out = p
	case EventReceiptIssued:
		var p ReceiptIssuedPayload
		err = json.Unmarshal(raw, &p)
		out = p
	default:
		return OpaquePayload{Type: t, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return out, nil
}

// EncodePayload marshals a payload value into the stored JSON object form.
// OpaquePayload and json.RawMessage are passed through untouched.
func EncodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case OpaquePayload:
		if len(p.Raw) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return p.Raw, nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return p, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
