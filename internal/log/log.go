package log

// Structured log field keys used across the module. Fields are passed to slog
// and as OTel span attributes under the same names.
const (
	NamespaceKey = "echo"

	MessageIDKey = NamespaceKey + ".message.id"
	FromKey      = NamespaceKey + ".message.from"
	ToKey        = NamespaceKey + ".message.to"
	KindKey      = NamespaceKey + ".message.kind"
	SubjectKey   = NamespaceKey + ".message.subject"
	TopicKey     = NamespaceKey + ".topic"
	ReceiversKey = NamespaceKey + ".receivers"

	ExecutionIDKey = NamespaceKey + ".execution.id"
	FlowTypeKey    = NamespaceKey + ".flow.type"
	StepKey        = NamespaceKey + ".step"
	LabelKey       = NamespaceKey + ".label"
	StatusKey      = NamespaceKey + ".status"
	ReasonKey      = NamespaceKey + ".reason"

	RoleKey          = NamespaceKey + ".role"
	CorrelationIDKey = NamespaceKey + ".correlation_id"
	TimeoutKey       = NamespaceKey + ".timeout"
	DeadlineKey      = NamespaceKey + ".deadline"
)
