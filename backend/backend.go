package backend

import (
	"context"
	"errors"

	"github.com/Pranavj17/echo-sub001/core"
	"github.com/Pranavj17/echo-sub001/flow"
)

var (
	ErrMessageNotFound   = errors.New("message not found")
	ErrExecutionNotFound = errors.New("flow execution not found")
	ErrExecutionExists   = errors.New("flow execution already exists")
)

// MessageStore is the durable side of the bus dual-write. It is the
// correctness boundary: a write failure here is fatal to the publish call,
// everything after it is best-effort.
type MessageStore interface {
	// InsertMessage durably stores a new message row.
	InsertMessage(ctx context.Context, msg *core.Message) error

	// GetMessage returns the message with the given id.
	GetMessage(ctx context.Context, id string) (*core.Message, error)

	// UnreadMessages returns all unread messages addressed to recipient,
	// ordered by creation time ascending.
	UnreadMessages(ctx context.Context, recipient core.Role) ([]*core.Message, error)

	// UnreadBroadcasts returns up to limit unread broadcast messages,
	// ordered by creation time ascending.
	UnreadBroadcasts(ctx context.Context, limit int) ([]*core.Message, error)

	// MarkProcessed marks a message read and processed. Idempotent.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed marks a message read and failed with a reason. Idempotent.
	MarkFailed(ctx context.Context, id string, reason string) error
}

// ExecutionStore persists flow executions. The engine is the only caller that
// mutates records through it.
type ExecutionStore interface {
	// CreateExecution stores a new execution record.
	CreateExecution(ctx context.Context, e *flow.Execution) error

	// UpdateExecution checkpoints the execution after a step transition.
	UpdateExecution(ctx context.Context, e *flow.Execution) error

	// GetExecution returns the execution with the given id.
	GetExecution(ctx context.Context, id string) (*flow.Execution, error)

	// AwaitingExecutions returns all executions currently in
	// awaiting_response, for the coordinator's startup reconciliation.
	AwaitingExecutions(ctx context.Context) ([]*flow.Execution, error)
}

// Backend provides both stores over one durable database.
type Backend interface {
	MessageStore
	ExecutionStore

	// Close closes the underlying database.
	Close() error
}
