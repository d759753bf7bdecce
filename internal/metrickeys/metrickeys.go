package metrickeys

const (
	Prefix = "echo."

	// Bus
	MessagePublished = Prefix + "bus.message.published"
	MessageBroadcast = Prefix + "bus.message.broadcast"
	NotifyFailed     = Prefix + "bus.notify.failed"
	CatchUpFetched   = Prefix + "bus.catchup.fetched"
	DecisionEmitted  = Prefix + "bus.decision.emitted"

	// Engine
	ExecutionStarted   = Prefix + "flow.execution.started"
	ExecutionCompleted = Prefix + "flow.execution.completed"
	ExecutionFailed    = Prefix + "flow.execution.failed"
	ExecutionSuspended = Prefix + "flow.execution.suspended"
	ExecutionResumed   = Prefix + "flow.execution.resumed"
	StepExecuted       = Prefix + "flow.step.executed"

	// Coordinator
	WaitRegistered = Prefix + "coordinator.wait.registered"
	ReplyMatched   = Prefix + "coordinator.reply.matched"
	ReplyDropped   = Prefix + "coordinator.reply.dropped"
	WaitTimeout    = Prefix + "coordinator.wait.timeout"
	PendingWaits   = Prefix + "coordinator.waits.pending"
)

// Tag names
const (
	FlowType = "flow_type"
	Role     = "role"
	Topic    = "topic"

	// Reason a reply was dropped: unknown_role, no_correlation, unmatched,
	// stale
	DropReason = "reason"
)
