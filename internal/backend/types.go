// ABOUTME: Wire types shared between the quoting backend and the client.
// ABOUTME: Sessions, messages, cards, quick replies and payment results.

package backend

import (
	"encoding/json"
	"time"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// State is the session's business-state mapping as the backend returns it.
// The backend owns the schema; the client only reads a handful of well-known
// keys through the typed accessors below.
type State map[string]any

// String returns the string value for key, or "" when absent or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Float returns the numeric value for key. JSON numbers decode as float64,
// but sessions that round-tripped through other clients may carry ints or
// numeric strings, so those are accepted too.
func (s State) Float(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// Bool returns the boolean value for key, or false when absent or not a bool.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Well-known State keys consumed by the orchestrator.
const (
	StateKeyFinalPremium     = "final_premium"
	StateKeyPolicyNumber     = "policy_number"
	StateKeyPlanName         = "plan_name"
	StateKeyPaymentCompleted = "payment_completed"
	StateKeyPaymentMethod    = "payment_method"
	StateKeyPaymentReference = "payment_reference"
	StateKeyDocumentsReady   = "documents_ready"
)

// Session is the server-authoritative record of one conversation.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	CurrentAgent string    `json:"current_agent"`
	State        State     `json:"state"`
}

// QuickReply is a predefined clickable response option attached to an
// assistant message.
type QuickReply struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Logo  string `json:"logo,omitempty"`
}

// Card is a tagged card payload attached to an assistant message. The
// backend inlines the type-specific fields next to "type", so unmarshalling
// splits the tag out and keeps everything else in Data. Renderers receive
// only Data, never sibling cards.
type Card struct {
	Type string
	Data map[string]any
}

// UnmarshalJSON splits the "type" tag from the rest of the payload.
func (c *Card) UnmarshalJSON(raw []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	c.Type, _ = fields["type"].(string)
	delete(fields, "type")
	c.Data = fields
	return nil
}

// MarshalJSON re-inlines the type tag alongside the payload fields.
func (c Card) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(c.Data)+1)
	for k, v := range c.Data {
		fields[k] = v
	}
	fields["type"] = c.Type
	return json.Marshal(fields)
}

// Message is a single conversation entry. History is append-only; messages
// are never mutated after the backend (or the optimistic local append)
// produces them.
type Message struct {
	ID              string       `json:"id"`
	SessionID       string       `json:"session_id,omitempty"`
	Role            string       `json:"role"`
	Content         string       `json:"content"`
	Agent           string       `json:"agent,omitempty"`
	QuickReplies    []QuickReply `json:"quick_replies,omitempty"`
	Cards           []Card       `json:"cards,omitempty"`
	ShowPolicyPopup bool         `json:"show_policy_popup,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ChatResponse is the backend's reply to POST /api/chat. State and
// CurrentAgent are authoritative and complete; the orchestrator replaces its
// copies wholesale rather than merging.
type ChatResponse struct {
	Message      Message `json:"message"`
	State        State   `json:"state"`
	CurrentAgent string  `json:"current_agent"`
}

// PaymentResult is the backend's reply to POST /api/payment/process.
type PaymentResult struct {
	Success          bool   `json:"success"`
	PaymentReference string `json:"payment_reference"`
	PolicyNumber     string `json:"policy_number"`
	Message          string `json:"message,omitempty"`
}
