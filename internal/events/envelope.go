package events

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope is the transport wrapper published downstream. Consumers dedupe
// on EventID since delivery is at-least-once.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeFor wraps an outbox entry for transport.
func EnvelopeFor(entry OutboxEntry) Envelope {
	return Envelope{
		EventID:         entry.ID,
		EventType:       entry.Type,
		Aggregate:       entry.Aggregate,
		TimestampMicros: entry.CreatedAt.UTC().UnixMicro(),
		Payload:         append(json.RawMessage(nil), entry.Payload...),
	}
}

// Decode unmarshals the entry payload into dst.
func (e OutboxEntry) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
