package bus

import "github.com/Pranavj17/echo-sub001/core"

// Topic names form a stable contract with the workers; do not change them.
const (
	// BroadcastTopic receives every broadcast message.
	BroadcastTopic = "messages:all"

	// LeadershipTopic additionally receives messages addressed to any role
	// in the leadership subset.
	LeadershipTopic = "messages:leadership"

	// ResponsesTopic is the shared reply topic consumed by the coordinator.
	ResponsesTopic = "workflow:agent_responses"
)

// InboxTopic is the private inbox topic for a role.
func InboxTopic(role core.Role) string {
	return "messages:" + string(role)
}

// RoleResponsesTopic is the per-role reply topic consumed by the coordinator.
func RoleResponsesTopic(role core.Role) string {
	return "messages:workflow_responses:" + string(role)
}

// DecisionStage names a domain event topic. Decision events are notify-only
// and are not correlated by the coordinator.
type DecisionStage string

const (
	DecisionNew          DecisionStage = "new"
	DecisionVoteRequired DecisionStage = "vote_required"
	DecisionCompleted    DecisionStage = "completed"
	DecisionEscalated    DecisionStage = "escalated"
)

// DecisionTopic is the pub/sub topic for a decision stage.
func DecisionTopic(stage DecisionStage) string {
	return "decisions:" + string(stage)
}
