package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Workspace:           "~/.gohive/workspace",
			RestrictToWorkspace: true,
			CapabilityGroups:    FlexibleStringSlice{"core", "filesystem", "shell", "network", "agents"},
			ShellSyncThreshold:  Duration(100 * time.Millisecond),
			ShellTimeout:        Duration(10 * time.Minute),
			MaxRestarts:         3,
			RestartWindow:       Duration(time.Minute),
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
		Database: DatabaseConfig{
			Mode: "standalone",
			Path: "~/.gohive/gohive.db",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GOHIVE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// ExpandHome resolves a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; credentials are expected from env only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GOHIVE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("GOHIVE_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GOHIVE_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("GOHIVE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("GOHIVE_WORKSPACE", &c.Agents.Workspace)
	envStr("GOHIVE_SECRETS_FILE", &c.Secrets.File)

	envStr("GOHIVE_HOST", &c.Gateway.Host)
	if v := os.Getenv("GOHIVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("GOHIVE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("GOHIVE_MODE", &c.Database.Mode)
	envStr("GOHIVE_DB_PATH", &c.Database.Path)

	envStr("GOHIVE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GOHIVE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GOHIVE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GOHIVE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}
