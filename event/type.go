package event

import (
	"encoding/json"
	"fmt"
)

// Type discriminates payload variants. Each Type has a Definition whose
// schema is enforced when a payload is queued.
type Type string

// Built-in event types.
const (
	PaymentCompleted Type = "payment.completed"
	PaymentFailed    Type = "payment.failed"
	PaymentPending   Type = "payment.pending"
	PaymentExpired   Type = "payment.expired"
	PaymentRedirect  Type = "payment.redirect"
	RefundCompleted  Type = "refund.completed"
	PayoutCompleted  Type = "payout.completed"
)

// Definition describes one event type.
type Definition struct {
	Type        Type            `json:"type"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// base is shared by every built-in schema. Amounts are decimal strings so
// that no precision is lost in transit.
const base = `{
  "type": "object",
  "required": ["transactionId", "transactionType", "status", "amount", "asset", "merchantId", "eventType"],
  "properties": {
    "transactionId":   {"type": "string", "minLength": 1},
    "transactionType": {"type": "string", "minLength": 1},
    "status":          {"type": "string", "minLength": 1},
    "amount":          {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
    "asset":           {"type": "string", "minLength": 1},
    "merchantId":      {"type": "string", "minLength": 1},
    "timestamp":       {"type": "string"},
    "eventType":       {"type": "string"},
    "reqMethod":       {"type": "string"},
    "metadata":        {"type": "object"}
  }%s
}`

func schema(extra string) json.RawMessage {
	if extra != "" {
		extra = ",\n  " + extra
	}
	return json.RawMessage(fmt.Sprintf(base, extra))
}

func statusIs(s string) string {
	return `"allOf": [{"properties": {"status": {"const": "` + s + `"}}}]`
}

// Builtins returns the default definitions registered by NewCatalog.
func Builtins() []Definition {
	return []Definition{
		{Type: PaymentCompleted, Description: "A payment settled successfully.", Schema: schema(statusIs("completed"))},
		{Type: PaymentFailed, Description: "A payment was declined or errored.", Schema: schema(statusIs("failed"))},
		{Type: PaymentPending, Description: "A payment is awaiting confirmation.", Schema: schema(statusIs("pending"))},
		{Type: PaymentExpired, Description: "A payment link expired unpaid.", Schema: schema(statusIs("expired"))},
		{Type: RefundCompleted, Description: "A refund was paid out.", Schema: schema("")},
		{Type: PayoutCompleted, Description: "A merchant payout settled.", Schema: schema("")},
		{
			Type:        PaymentRedirect,
			Description: "Browser redirect notification delivered as a signed GET URL.",
			Schema: schema(`"allOf": [{
    "required": ["reqMethod", "metadata"],
    "properties": {
      "reqMethod": {"pattern": "^(GET|GET_.*)$"},
      "metadata":  {"required": ["url"], "properties": {"url": {"type": "string", "pattern": "^https://"}}}
    }
  }]`),
		},
	}
}
