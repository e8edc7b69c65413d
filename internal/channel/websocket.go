package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"askweb/internal/agent"
	"askweb/internal/domain"
	"askweb/internal/metrics"
)

// WSConfig configures the websocket endpoint.
type WSConfig struct {
	Controller     *agent.Controller
	AllowedOrigins []string
	Logger         *slog.Logger
}

// WSMessage is the JSON protocol spoken over /ws.
//
// Client to server: "submit" (form), "skip", "ui".
// Server to client: "status", "update", "done", "ui", "error".
type WSMessage struct {
	Type   string        `json:"type"`
	ChatID string        `json:"chat_id,omitempty"`
	TurnID string        `json:"turn_id,omitempty"`
	Form   domain.Form   `json:"form,omitempty"`
	Update *agent.Update `json:"update,omitempty"`
	Nodes  any           `json:"nodes,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// WebSocketHandler runs turns for one chat per connection and streams their
// updates back.
type WebSocketHandler struct {
	controller *agent.Controller
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// wsClient serializes writes to one connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWebSocketHandler(cfg WSConfig) *WebSocketHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	origins := cfg.AllowedOrigins
	return &WebSocketHandler{
		controller: cfg.Controller,
		logger:     cfg.Logger,
		clients:    make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origins, origin) || sameHost(r, origin)
			},
		},
	}
}

func sameHost(r *http.Request, origin string) bool {
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := h.controller.Sessions().GetOrCreate(r.Context(), r.URL.Query().Get("chat_id"))
	if err != nil {
		h.logger.Error("open session failed", "err", err)
		http.Error(w, "cannot open chat", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.StreamClients.WithLabelValues("websocket").Inc()

	chatID := sess.ID()
	h.logger.Info("websocket client connected", "chat_id", chatID)

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		metrics.StreamClients.WithLabelValues("websocket").Dec()
		conn.Close()
		h.logger.Info("websocket client disconnected", "chat_id", chatID)
	}()

	client.send(WSMessage{Type: "status", ChatID: chatID})

	// The request context ends with the connection; turns must outlive it.
	ctx := context.WithoutCancel(r.Context())
	var turns sync.WaitGroup
	defer turns.Wait()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.send(WSMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "submit", "skip":
			in := agent.Submission{Form: msg.Form, Skip: msg.Type == "skip"}
			if !in.Skip && len(in.Form) == 0 {
				client.send(WSMessage{Type: "error", Error: "form is required"})
				continue
			}
			turn := h.controller.Submit(ctx, sess, in)
			turns.Add(1)
			go func() {
				defer turns.Done()
				h.forward(client, chatID, turn)
			}()
		case "ui":
			client.send(WSMessage{Type: "ui", ChatID: chatID, Nodes: h.controller.Sessions().UIState(sess)})
		default:
			client.send(WSMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

// forward relays every update of turn; it keeps draining after the socket
// is gone so the turn is never blocked on its consumer.
func (h *WebSocketHandler) forward(c *wsClient, chatID string, turn *agent.Turn) {
	for u := range turn.Updates() {
		c.send(WSMessage{Type: "update", ChatID: chatID, TurnID: turn.ID, Update: &u})
	}
	done := WSMessage{Type: "done", ChatID: chatID, TurnID: turn.ID}
	if err := turn.Wait(); err != nil {
		done.Error = err.Error()
	}
	c.send(done)
}

func (c *wsClient) send(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

// CloseAll drops every connection, e.g. on shutdown.
func (h *WebSocketHandler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}
