package protocol

import "fmt"

// Well-known bus topics. Per-agent topics are built with the helper funcs
// so topic strings stay consistent between publishers and subscribers.
const (
	TopicLifecycle   = "agents:lifecycle"
	TopicActions     = "actions:all"
	TopicMessagesAll = "messages:all"
)

func TopicAgentLogs(agentID string) string     { return fmt.Sprintf("agents:%s:logs", agentID) }
func TopicAgentCosts(agentID string) string    { return fmt.Sprintf("agents:%s:costs", agentID) }
func TopicAgentMessages(agentID string) string { return fmt.Sprintf("agents:%s:messages", agentID) }
func TopicMessages(agentID string) string      { return fmt.Sprintf("messages:%s", agentID) }
func TopicThread(thread string) string         { return fmt.Sprintf("messages:threads:%s", thread) }
