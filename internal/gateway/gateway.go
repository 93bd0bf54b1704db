// Package gateway exposes the runtime over HTTP: a control API for spawning,
// inspecting, and messaging agents, and a websocket endpoint that streams bus
// events to UIs.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/bus"
	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/supervisor"
	"github.com/nextlevelbuilder/gohive/pkg/protocol"
)

// Config wires the gateway server.
type Config struct {
	Host       string
	Port       int
	Token      string // empty disables auth
	Bus        *bus.Bus
	Supervisor *supervisor.Supervisor
	Logger     *slog.Logger
}

// Server is the HTTP+websocket gateway.
type Server struct {
	cfg  Config
	log  *slog.Logger
	http *http.Server
	ln   net.Listener
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/agents", s.auth(s.handleListAgents))
	mux.HandleFunc("POST /api/agents", s.auth(s.handleSpawnAgent))
	mux.HandleFunc("GET /api/agents/{id}", s.auth(s.handleGetAgent))
	mux.HandleFunc("DELETE /api/agents/{id}", s.auth(s.handleTerminateAgent))
	mux.HandleFunc("POST /api/messages", s.auth(s.handleSendMessage))
	mux.HandleFunc("GET /ws", s.auth(s.handleWS))

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Serve errors after a clean shutdown are swallowed.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", addr, err)
	}
	s.ln = ln
	s.log.Info("gateway.listening", "addr", ln.Addr().String())
	go func() {
		if serr := s.http.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			s.log.Error("gateway.serve_failed", "error", serr)
		}
	}()
	return nil
}

// Addr returns the bound address (useful when Port is 0).
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown drains in-flight requests and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// auth enforces the bearer token when one is configured. Websocket clients
// may pass it as ?token= since browsers cannot set headers on upgrades.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if got != s.cfg.Token {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	ids := s.cfg.Supervisor.List()
	agents := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		a, ok := s.cfg.Supervisor.Lookup(id)
		if !ok {
			continue
		}
		st := a.GetState()
		agents = append(agents, map[string]any{
			"agent_id": st.AgentID,
			"task_id":  st.TaskID,
			"status":   st.Status,
			"children": st.Children,
			"spent_usd": st.SpentUSD,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.cfg.Supervisor.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	st := a.GetState()
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":        st.AgentID,
		"task_id":         st.TaskID,
		"status":          st.Status,
		"dismissing":      st.Dismissing,
		"model_pool":      st.ModelPool,
		"pending_actions": len(st.PendingActions),
		"queued_messages": st.QueuedMessages,
		"todos":           st.Todos,
		"children":        st.Children,
		"spent_usd":       st.SpentUSD,
	})
}

func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var cfg config.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	a, err := s.cfg.Supervisor.StartAgent(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"agent_id": a.ID(), "task_id": a.TaskID()})
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cfg.Supervisor.TerminateAgent(r.Context(), id); err != nil {
		if errors.Is(err, supervisor.ErrUnknownAgent) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": id, "status": "terminating"})
}

type sendMessageRequest struct {
	AgentID string `json:"agent_id"`
	From    string `json:"from,omitempty"`
	Content string `json:"content"`
	Thread  string `json:"thread,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.AgentID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "agent_id and content are required")
		return
	}
	a, ok := s.cfg.Supervisor.Lookup(req.AgentID)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	from := req.From
	if from == "" {
		from = "parent" // users speak with parental authority
	}
	a.SendAgentMessage(from, req.Content)

	if s.cfg.Bus != nil {
		payload := protocol.MessagePayload{
			From: from, To: req.AgentID, Thread: req.Thread, Content: req.Content,
		}
		s.cfg.Bus.Publish(protocol.TopicMessages(req.AgentID), protocol.EventMessageSent, payload)
		s.cfg.Bus.Publish(protocol.TopicAgentMessages(req.AgentID), protocol.EventMessageSent, payload)
		s.cfg.Bus.Publish(protocol.TopicMessagesAll, protocol.EventMessageSent, payload)
		if req.Thread != "" {
			s.cfg.Bus.Publish(protocol.TopicThread(req.Thread), protocol.EventMessageSent, payload)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"delivered_to": req.AgentID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
