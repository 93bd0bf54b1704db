// Package config holds the runtime configuration: a JSON5 file overlaid with
// environment variables, plus the normalized per-agent record the supervisor
// spawns agents from.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/telemetry"
)

// ErrInvalidConfig marks spawn configs missing required keys.
var ErrInvalidConfig = errors.New("invalid config")

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the gohive runtime.
type Config struct {
	Agents    AgentsConfig     `json:"agents"`
	Providers ProvidersConfig  `json:"providers"`
	Models    []ModelConfig    `json:"models"`
	Gateway   GatewayConfig    `json:"gateway"`
	Database  DatabaseConfig   `json:"database,omitempty"`
	Secrets   SecretsConfig    `json:"secrets,omitempty"`
	Cron      []CronEntry      `json:"cron,omitempty"`
	Telemetry telemetry.Config `json:"telemetry,omitempty"`
}

// AgentsConfig carries agent-wide defaults.
type AgentsConfig struct {
	Workspace           string              `json:"workspace"`
	RestrictToWorkspace bool                `json:"restrict_to_workspace"`
	DefaultModelPool    FlexibleStringSlice `json:"default_model_pool"`
	CapabilityGroups    FlexibleStringSlice `json:"capability_groups"`
	SystemPrompt        string              `json:"system_prompt,omitempty"`
	BudgetLimitUSD      float64             `json:"budget_limit_usd,omitempty"`
	ShellSyncThreshold  Duration            `json:"shell_sync_threshold,omitempty"`
	ShellTimeout        Duration            `json:"shell_timeout,omitempty"`
	MaxRestarts         int                 `json:"max_restarts"`
	RestartWindow       Duration            `json:"restart_window"`
}

// ProvidersConfig holds upstream API credentials. Keys come from env in
// production; the file form exists for development.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	OpenAI    ProviderConfig `json:"openai,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
}

// ModelConfig declares one model id in the pool.
type ModelConfig struct {
	ID               string  `json:"id"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	ContextLimit     int     `json:"context_limit,omitempty"`
	InputUSDPerMTok  float64 `json:"input_usd_per_mtok,omitempty"`
	OutputUSDPerMTok float64 `json:"output_usd_per_mtok,omitempty"`
	RPM              int     `json:"rpm,omitempty"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Token   string `json:"token,omitempty"`
}

// DatabaseConfig selects the persistence backend. Mode "standalone" uses
// sqlite at Path; "managed" uses Postgres at PostgresDSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"`
	Path        string `json:"path,omitempty"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`
}

type SecretsConfig struct {
	File  string `json:"file,omitempty"`
	Watch bool   `json:"watch,omitempty"`
}

// CronEntry wakes an agent on a schedule.
type CronEntry struct {
	AgentID  string `json:"agent_id"`
	Schedule string `json:"schedule"` // cron expression
	Message  string `json:"message"`
}

// Duration decodes from JSON as "1.5s"-style strings or millisecond numbers.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return perr
		}
		*d = Duration(parsed)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration: expected string or number, got %s", string(data))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AgentConfig is the normalized per-agent spawn record.
type AgentConfig struct {
	AgentID            string              `json:"agent_id"`
	TaskID             string              `json:"task_id"`
	ParentID           string              `json:"parent_id,omitempty"`
	ParentHandle       any                 `json:"-"`
	TestMode           bool                `json:"test_mode,omitempty"`
	RestorationMode    bool                `json:"restoration_mode,omitempty"`
	CapabilityGroups   FlexibleStringSlice `json:"capability_groups,omitempty"`
	ModelPool          FlexibleStringSlice `json:"model_pool,omitempty"`
	ProfileName        string              `json:"profile_name,omitempty"`
	ProfileDescription string              `json:"profile_description,omitempty"`
	Skills             FlexibleStringSlice `json:"skills,omitempty"`
	ActiveSkills       FlexibleStringSlice `json:"active_skills,omitempty"`
	SystemPrompt       string              `json:"system_prompt,omitempty"`
	Prompt             string              `json:"prompt,omitempty"`
	BudgetLimitUSD     float64             `json:"budget_limit_usd,omitempty"`
	MCPServer          *MCPServerConfig    `json:"mcp_server,omitempty"`

	// RestoredState seeds the agent from a persisted snapshot (restart or
	// restore); the shape is the agent store's state map.
	RestoredState map[string]any `json:"-"`
}

// MCPServerConfig declares the agent's stdio MCP server.
type MCPServerConfig struct {
	Command string              `json:"command"`
	Args    FlexibleStringSlice `json:"args,omitempty"`
}

// Validate checks the keys the supervisor requires before spawning.
func (c *AgentConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("%w: missing agent_id", ErrInvalidConfig)
	}
	if c.TaskID == "" {
		return fmt.Errorf("%w: missing task_id", ErrInvalidConfig)
	}
	return nil
}
