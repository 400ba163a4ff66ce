package dispatch

import (
	"encoding/json"

	"github.com/softpaymoney/paygate/app/models"
)

// SettlementEvent is the outcome of one settled callback, handed from
// the processing role to the notification sinks. FinalAmount is the
// commission- and royalty-adjusted credit; UntouchedAmount is the
// gross amount in major units. Both are zero for rejected orders,
// which are still dispatched.
type SettlementEvent struct {
	OrderID         string  `json:"orderId"`
	ProductOwnerID  string  `json:"productOwnerId"`
	FinalAmount     float64 `json:"finalAmount"`
	UntouchedAmount float64 `json:"untouchedAmount"`
}

// Envelope is the wire format of POST /external-interaction. Payload
// is the JSON-encoded SettlementEvent; keeping it opaque at the
// envelope level lets the dispatch role journal and replay it
// byte-identically.
type Envelope struct {
	PaymentSystem models.PaymentSystem `json:"paymentSystem"`
	Payload       string               `json:"payload"`
}

// NewEnvelope wraps a settlement event for transport.
func NewEnvelope(system models.PaymentSystem, event SettlementEvent) (Envelope, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{PaymentSystem: system, Payload: string(raw)}, nil
}

// DecodeEvent parses the envelope payload back into an event.
func (e Envelope) DecodeEvent() (SettlementEvent, error) {
	var event SettlementEvent
	err := json.Unmarshal([]byte(e.Payload), &event)
	return event, err
}
