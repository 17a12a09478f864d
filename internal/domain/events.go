package domain

import "time"

// Domain event types published for downstream consumers.
const (
	EventConnectionRequested = "connection.requested"
	EventConnectionAccepted  = "connection.accepted"
	EventConnectionRejected  = "connection.rejected"
	EventConnectionRemoved   = "connection.removed"
	EventMessageSent         = "message.sent"
	EventMessagesRead        = "message.read"
)

// DomainEvent is the envelope written to the chat events topic.
// Key is the partitioning key, the conversation pair.
type DomainEvent struct {
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	ActorID    string      `json:"actorId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}
