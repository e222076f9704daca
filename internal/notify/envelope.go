package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

const envelopeVersion = 1

// Envelope is the wire format shared by the Kafka and Redis sinks.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// MarshalEnvelope wraps event in an Envelope. The correlation id is the order id
// when the event concerns an order.
func MarshalEnvelope(producer string, event ledger.Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		EventID:       uuid.NewString(),
		EventType:     string(event.Kind),
		EventVersion:  envelopeVersion,
		OccurredAt:    event.OccurredAt.UTC(),
		Producer:      producer,
		CorrelationID: event.OrderID,
		Payload:       payload,
	})
}
