package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/gohive/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 256
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway is bound to localhost or fronted by a proxy; the bearer
	// token is the access control, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS streams bus events to one client. ?topics=a,b subscribes to named
// topics; no topics means the firehose.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("gateway.ws_upgrade_failed", "error", err)
		return
	}

	var topics []string
	if raw := r.URL.Query().Get("topics"); raw != "" {
		topics = strings.Split(raw, ",")
	}

	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		events: make(chan bus.Event, clientBuffer),
		done:   make(chan struct{}),
	}

	// The bus invokes handlers on the publisher's goroutine; a slow client
	// loses events rather than stalling agents.
	deliver := func(ev bus.Event) {
		select {
		case client.events <- ev:
		default:
			s.log.Debug("gateway.ws_client_lagging", "client", client.id, "topic", ev.Topic)
		}
	}
	if len(topics) == 0 {
		s.cfg.Bus.SubscribeAll(client.id, deliver)
	} else {
		for _, topic := range topics {
			s.cfg.Bus.Subscribe(topic, client.id, deliver)
		}
	}
	unsubscribe := func() {
		if len(topics) == 0 {
			s.cfg.Bus.UnsubscribeAll(client.id)
		} else {
			for _, topic := range topics {
				s.cfg.Bus.Unsubscribe(topic, client.id)
			}
		}
	}

	s.log.Info("gateway.ws_connected", "client", client.id, "topics", topics)
	go client.writePump(s)
	client.readPump(s, unsubscribe)
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	events chan bus.Event
	done   chan struct{}
}

// readPump discards inbound frames; it exists to process control messages
// and detect disconnects.
func (c *wsClient) readPump(s *Server, unsubscribe func()) {
	defer func() {
		unsubscribe()
		close(c.done)
		c.conn.Close()
		s.log.Info("gateway.ws_disconnected", "client", c.id)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump(s *Server) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev := <-c.events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
