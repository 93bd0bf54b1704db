// Package mcp manages per-agent MCP server connections. The protocol work
// (stdio transport, JSON-RPC framing, handshake) is mcp-go's; this package
// tracks which agent owns which server so termination can stop it.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// Client is one connected stdio MCP server.
type Client struct {
	inner *mcpclient.Client
}

// Connect spawns the server process over stdio and performs the initialize
// handshake.
func Connect(ctx context.Context, command string, args ...string) (*Client, error) {
	inner, err := mcpclient.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("mcp: start server: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "gohive", Version: "1.0"}
	if _, err := inner.Initialize(ctx, initReq); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}
	return &Client{inner: inner}, nil
}

// CallTool invokes a tool on the server and flattens the result: text parts
// joined under "content", the server's error flag under "is_error".
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp: call %s: %w", name, err)
	}
	return flattenResult(res), nil
}

// ListTools returns the server's advertised tools.
func (c *Client) ListTools(ctx context.Context) ([]map[string]any, error) {
	res, err := c.inner.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools: %w", err)
	}
	tools := make([]map[string]any, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, map[string]any{
			"name":        t.Name,
			"description": t.Description,
		})
	}
	return tools, nil
}

// Close terminates the server process.
func (c *Client) Close() error {
	return c.inner.Close()
}

func flattenResult(res *mcpgo.CallToolResult) map[string]any {
	var texts []string
	for _, content := range res.Content {
		if tc, ok := mcpgo.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}
	out := map[string]any{"content": strings.Join(texts, "\n")}
	if res.IsError {
		out["is_error"] = true
	}
	return out
}

// Manager tracks MCP clients per agent so agent termination can stop them.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client // agent_id → client
}

func NewManager() *Manager {
	return &Manager{clients: make(map[string]*Client)}
}

// ConnectFor spawns a server for the agent, replacing any previous one.
func (m *Manager) ConnectFor(ctx context.Context, agentID, command string, args ...string) (*Client, error) {
	client, err := Connect(ctx, command, args...)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if old := m.clients[agentID]; old != nil {
		old.Close()
	}
	m.clients[agentID] = client
	m.mu.Unlock()
	return client, nil
}

// ClientFor returns the agent's client, or nil.
func (m *Manager) ClientFor(agentID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[agentID]
}

// CloseFor stops the agent's server if one is connected.
func (m *Manager) CloseFor(agentID string) {
	m.mu.Lock()
	client := m.clients[agentID]
	delete(m.clients, agentID)
	m.mu.Unlock()
	if client != nil {
		client.Close()
	}
}
