package protocol

// Event type names carried in bus.Event.Type.
const (
	EventAgentSpawned    = "agent_spawned"
	EventAgentTerminated = "agent_terminated"

	EventLogEntry     = "log_entry"
	EventCostRecorded = "cost_recorded"

	EventActionStarted   = "action_started"
	EventActionCompleted = "action_completed"

	EventMessageSent = "message_sent"
)

// AgentSpawnedPayload is published on TopicLifecycle when an agent starts.
type AgentSpawnedPayload struct {
	AgentID  string `json:"agent_id"`
	TaskID   string `json:"task_id"`
	ParentID string `json:"parent_id,omitempty"`
}

// AgentTerminatedPayload is published on TopicLifecycle when an agent stops.
type AgentTerminatedPayload struct {
	AgentID string `json:"agent_id"`
}

// SentModelMessages records the exact message list sent to one model,
// published under the agent's logs topic for UI observability.
type SentModelMessages struct {
	ModelID  string `json:"model_id"`
	Messages any    `json:"messages"`
}

// LogEntryPayload wraps metadata for a log_entry event.
type LogEntryPayload struct {
	Metadata LogEntryMetadata `json:"metadata"`
}

// LogEntryMetadata carries the per-model sent message lists.
type LogEntryMetadata struct {
	SentMessages []SentModelMessages `json:"sent_messages"`
}

// ActionEventPayload is published on TopicActions.
type ActionEventPayload struct {
	AgentID    string `json:"agent_id"`
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// MessagePayload is a threaded agent-to-agent or user message broadcast.
type MessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Thread  string `json:"thread,omitempty"`
	Content string `json:"content"`
}
