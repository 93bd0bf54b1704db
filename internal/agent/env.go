package agent

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/gohive/internal/actions"
	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/consensus"
	"github.com/nextlevelbuilder/gohive/internal/mcp"
	"github.com/nextlevelbuilder/gohive/internal/providers"
	"github.com/nextlevelbuilder/gohive/internal/registry"
	"github.com/nextlevelbuilder/gohive/internal/secrets"
	"github.com/nextlevelbuilder/gohive/internal/store"
)

// Env carries the process-wide singletons an agent needs. Tests substitute
// isolated instances; agents never reach for globals.
type Env struct {
	Bus       *bus.Bus
	Registry  *registry.Registry
	Stores    *store.Stores
	Secrets   *secrets.Store
	Models    *providers.Registry
	Actions   *actions.Registry
	Consensus *consensus.Coordinator
	MCP       *mcp.Manager
	Logger    *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Handle is the minimal surface one agent needs of another (its parent or a
// child): deliver a message, observe death, request termination. *Agent
// implements it; tests may substitute fakes.
type Handle interface {
	ID() string
	SendAgentMessage(from, content string)
	Done() <-chan struct{}
	Terminate(ctx context.Context) error
}
