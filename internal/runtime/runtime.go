// Package runtime assembles the process: storage, providers, actions,
// consensus, supervisor, gateway, and cron, wired from one config.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/actions"
	"github.com/nextlevelbuilder/gohive/internal/agent"
	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/cron"
	"github.com/nextlevelbuilder/gohive/internal/gateway"
	"github.com/nextlevelbuilder/gohive/internal/mcp"
	"github.com/nextlevelbuilder/gohive/internal/providers"
	"github.com/nextlevelbuilder/gohive/internal/registry"
	"github.com/nextlevelbuilder/gohive/internal/secrets"
	"github.com/nextlevelbuilder/gohive/internal/store"
	"github.com/nextlevelbuilder/gohive/internal/store/pg"
	"github.com/nextlevelbuilder/gohive/internal/store/sqlite"
	"github.com/nextlevelbuilder/gohive/internal/supervisor"
	"github.com/nextlevelbuilder/gohive/internal/telemetry"
)

// Runtime is the assembled process.
type Runtime struct {
	cfg *config.Config
	log *slog.Logger

	Env        agent.Env
	Supervisor *supervisor.Supervisor
	Gateway    *gateway.Server
	Cron       *cron.Scheduler

	stores        *store.Stores
	secretsStore  *secrets.Store
	stopTelemetry telemetry.Shutdown
}

// New builds everything but starts nothing network-facing; call Start next.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}
	rt := &Runtime{cfg: cfg, log: log}

	stopTel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.stopTelemetry = stopTel

	stores, err := openStores(ctx, cfg.Database, log)
	if err != nil {
		rt.closePartial(ctx)
		return nil, err
	}
	rt.stores = stores

	sec := secrets.NewStore()
	if cfg.Secrets.File != "" {
		if err := sec.Load(cfg.Secrets.File); err != nil {
			log.Warn("secrets.load_failed", "file", cfg.Secrets.File, "error", err)
		} else if cfg.Secrets.Watch {
			if werr := sec.Watch(); werr != nil {
				log.Warn("secrets.watch_failed", "error", werr)
			}
		}
	}
	rt.secretsStore = sec

	models, err := buildModelRegistry(cfg)
	if err != nil {
		rt.closePartial(ctx)
		return nil, err
	}

	b := bus.New()
	env := agent.Env{
		Bus:      b,
		Registry: registry.New(),
		Stores:   stores,
		Secrets:  sec,
		Models:   models,
		MCP:      mcp.NewManager(),
		Logger:   log,
	}
	env.Consensus = consensus.New(consensus.Config{Models: models, Bus: b, Logger: log})
	rt.Env = env

	// Actions close over rt so they can reach the supervisor lazily; the
	// supervisor then gets the fully wired Env.
	rt.Env.Actions = buildActions(cfg, rt)
	rt.Supervisor = supervisor.New(supervisor.Config{
		Env:              rt.Env,
		DefaultModelPool: cfg.Agents.DefaultModelPool,
		MaxRestarts:      cfg.Agents.MaxRestarts,
		RestartWindow:    cfg.Agents.RestartWindow.Std(),
		Logger:           log,
	})

	if cfg.Gateway.Enabled {
		rt.Gateway = gateway.New(gateway.Config{
			Host:       cfg.Gateway.Host,
			Port:       cfg.Gateway.Port,
			Token:      cfg.Gateway.Token,
			Bus:        b,
			Supervisor: rt.Supervisor,
			Logger:     log,
		})
	}

	if len(cfg.Cron) > 0 {
		rt.Cron, err = cron.New(cron.Config{
			Entries:    cfg.Cron,
			Supervisor: rt.Supervisor,
			Logger:     log,
		})
		if err != nil {
			rt.closePartial(ctx)
			return nil, err
		}
	}

	return rt, nil
}

// Start brings up the gateway and cron scheduler.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.Gateway != nil {
		if err := rt.Gateway.Start(); err != nil {
			return err
		}
	}
	if rt.Cron != nil {
		rt.Cron.Start(ctx)
	}
	rt.log.Info("runtime.started",
		"gateway", rt.Gateway != nil,
		"cron_entries", len(rt.cfg.Cron),
		"db_mode", rt.cfg.Database.Mode)
	return nil
}

// Shutdown stops components in dependency order: no new inbound work, then
// agents, then storage.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.Cron != nil {
		rt.Cron.Stop()
	}
	if rt.Gateway != nil {
		if err := rt.Gateway.Shutdown(ctx); err != nil {
			rt.log.Warn("runtime.gateway_shutdown_failed", "error", err)
		}
	}
	if rt.Supervisor != nil {
		if err := rt.Supervisor.Close(ctx); err != nil {
			rt.log.Warn("runtime.supervisor_close_failed", "error", err)
		}
	}
	rt.closePartial(ctx)
	rt.log.Info("runtime.stopped")
	return nil
}

func (rt *Runtime) closePartial(ctx context.Context) {
	if rt.secretsStore != nil {
		_ = rt.secretsStore.Close()
	}
	if rt.stores != nil {
		if err := rt.stores.Close(); err != nil {
			rt.log.Warn("runtime.store_close_failed", "error", err)
		}
	}
	if rt.stopTelemetry != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = rt.stopTelemetry(ctx)
	}
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*store.Stores, error) {
	switch cfg.Mode {
	case "managed":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("managed mode requires database.postgres_dsn")
		}
		return pg.Open(ctx, cfg.PostgresDSN)
	case "standalone", "":
		if cfg.Path == "" {
			log.Warn("database.no_path_memory_only")
			return store.NewMemoryStores(), nil
		}
		return sqlite.Open(ctx, config.ExpandHome(cfg.Path))
	default:
		return nil, fmt.Errorf("unknown database mode %q", cfg.Mode)
	}
}

func buildModelRegistry(cfg *config.Config) (*providers.Registry, error) {
	reg := providers.NewRegistry()
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		reg.AddBackend(providers.NewAnthropicProvider(key,
			providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase)))
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		reg.AddBackend(providers.NewOpenAIProvider("openai", key, cfg.Providers.OpenAI.APIBase))
	}
	for _, m := range cfg.Models {
		if m.ID == "" || m.Provider == "" || m.Model == "" {
			return nil, fmt.Errorf("model entry needs id, provider, and model: %+v", m)
		}
		reg.AddModel(providers.ModelSpec{
			ID:               m.ID,
			Provider:         m.Provider,
			Model:            m.Model,
			ContextLimit:     m.ContextLimit,
			InputUSDPerMTok:  m.InputUSDPerMTok,
			OutputUSDPerMTok: m.OutputUSDPerMTok,
			RPM:              m.RPM,
		})
	}
	return reg, nil
}

func buildActions(cfg *config.Config, rt *Runtime) *actions.Registry {
	reg := actions.NewRegistry()
	workspace := config.ExpandHome(cfg.Agents.Workspace)

	reg.Register(actions.NewShellAction(actions.ShellConfig{
		WorkingDir:    workspace,
		SyncThreshold: cfg.Agents.ShellSyncThreshold.Std(),
		Timeout:       cfg.Agents.ShellTimeout.Std(),
	}))
	reg.Register(actions.NewShellStatusAction(&shellController{rt}))
	reg.Register(actions.NewShellTerminateAction(&shellController{rt}))
	reg.Register(actions.NewFileReadAction(workspace, cfg.Agents.RestrictToWorkspace))
	reg.Register(actions.NewFileWriteAction(workspace, cfg.Agents.RestrictToWorkspace))
	reg.Register(actions.NewWebFetchAction())
	reg.Register(actions.NewWaitAction())
	reg.Register(actions.NewTodoAction(&todoController{rt}))
	reg.Register(actions.NewSendMessageAction(&messenger{rt}))
	reg.Register(actions.NewSpawnAction(&spawner{rt, cfg}))
	reg.Register(actions.NewTerminateChildAction(&spawner{rt, cfg}))
	reg.Register(actions.NewOrientAction(orientFunc(rt)))
	reg.Register(actions.NewMcpAction(rt.Env.MCP))
	reg.Register(actions.NewBatchSyncAction(reg))
	return reg
}
