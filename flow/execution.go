package flow

import (
	"time"

	"github.com/Pranavj17/echo-sub001/core"
)

// Status is the lifecycle state of an execution.
//
//	pending -> running -> (awaiting_response <-> running)* -> completed | failed
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Finished reports whether the status is terminal. Terminal executions are
// never mutated again but remain queryable.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AwaitDescriptor is the persisted record of an in-flight wait. It survives a
// process restart; the in-memory wait registration does not.
type AwaitDescriptor struct {
	Role          core.Role `json:"workerRole"`
	CorrelationID string    `json:"correlationId"`
	Deadline      time.Time `json:"deadline"`
}

// Execution is one persisted run of a Definition. The engine is its only
// writer; state, status, current step and route history are persisted
// atomically after every step transition.
type Execution struct {
	ID       string
	FlowType string
	Status   Status

	State          State
	CurrentStep    string
	CurrentTrigger string
	RouteTaken     []string
	CompletedSteps []string

	AwaitedResponse *AwaitDescriptor
	Error           string
	PauseReason     string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
