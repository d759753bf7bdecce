package core

import "time"

// MessageStatus tracks consumer-side processing of a durable message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusProcessed MessageStatus = "processed"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is the durable unit of inter-worker communication. Once stored it is
// immutable except for the read flag and processing status.
type Message struct {
	ID      string
	From    Role
	To      Role
	Kind    Kind
	Subject string
	Content map[string]any

	Read          bool
	Status        MessageStatus
	FailureReason string

	CreatedAt time.Time
}
