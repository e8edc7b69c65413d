package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"askweb/internal/agent"
	"askweb/internal/domain"
	"askweb/internal/metrics"
	"askweb/internal/view"
)

const (
	maxBodySize       = 1 << 20
	heartbeatInterval = 15 * time.Second
)

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	WebSocket      bool
	MetricsPath    string // empty disables /metrics
	Version        string

	Controller *agent.Controller
	Store      domain.ChatStore
	UserID     string
	Logger     *slog.Logger
}

// API serves chats over HTTP: JSON reads, SSE turns and an optional websocket.
type API struct {
	cfg        APIConfig
	controller *agent.Controller
	store      domain.ChatStore
	logger     *slog.Logger
	ws         *WebSocketHandler
	server     *http.Server
	heartbeat  time.Duration
}

func NewAPI(cfg APIConfig) *API {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &API{
		cfg:        cfg,
		controller: cfg.Controller,
		store:      cfg.Store,
		logger:     cfg.Logger,
		heartbeat:  heartbeatInterval,
	}
	if cfg.WebSocket {
		a.ws = NewWebSocketHandler(WSConfig{
			Controller:     cfg.Controller,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         cfg.Logger,
		})
	}
	return a
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)
	r.Use(a.cors)

	r.Get("/healthz", a.health)
	if a.cfg.MetricsPath != "" {
		r.Handle(a.cfg.MetricsPath, metrics.Handler())
	}

	r.Route("/api/chats", func(r chi.Router) {
		r.Get("/", a.listChats)
		r.Get("/{id}", a.getChat)
		r.Get("/{id}/ui", a.getUIState)
		r.Post("/{id}/turns", a.submitTurn)
	})

	if a.ws != nil {
		r.Get("/ws", a.ws.ServeHTTP)
	}
	return r
}

// Start serves until ctx is cancelled.
func (a *API) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.logger.Info("api server started", "addr", "http://"+addr, "websocket", a.ws != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		if a.ws != nil {
			a.ws.CloseAll()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == a.cfg.MetricsPath {
			return
		}
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(a.cfg.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.cfg.Version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (a *API) listChats(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	chats, err := a.store.ListChats(r.Context(), a.cfg.UserID, limit)
	if err != nil {
		a.logger.Error("list chats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "cannot list chats")
		return
	}
	if chats == nil {
		chats = []domain.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (a *API) loadChat(w http.ResponseWriter, r *http.Request) (*domain.Chat, bool) {
	id := chi.URLParam(r, "id")
	chat, err := a.store.GetChat(r.Context(), id)
	if errors.Is(err, domain.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	if err != nil {
		a.logger.Error("get chat failed", "chat_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "cannot load chat")
		return nil, false
	}
	return chat, true
}

func (a *API) getChat(w http.ResponseWriter, r *http.Request) {
	if chat, ok := a.loadChat(w, r); ok {
		writeJSON(w, http.StatusOK, chat)
	}
}

func (a *API) getUIState(w http.ResponseWriter, r *http.Request) {
	chat, ok := a.loadChat(w, r)
	if !ok {
		return
	}
	nodes := view.ProjectAll(chat.Messages)
	if nodes == nil {
		nodes = []*view.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": chat.ID, "nodes": nodes})
}

// turnRequest is the body of POST /api/chats/{id}/turns.
type turnRequest struct {
	Form domain.Form `json:"form"`
	Skip bool        `json:"skip"`
}

func (a *API) submitTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Skip && len(req.Form) == 0 {
		writeError(w, http.StatusBadRequest, "form is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sess, err := a.controller.Sessions().GetOrCreate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.logger.Error("open session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "cannot open chat")
		return
	}

	turn := a.controller.Submit(r.Context(), sess, agent.Submission{Form: req.Form, Skip: req.Skip})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.StreamClients.WithLabelValues("sse").Inc()
	defer metrics.StreamClients.WithLabelValues("sse").Dec()

	sendSSE(w, "turn", map[string]string{"chat_id": sess.ID(), "turn_id": turn.ID})
	flusher.Flush()

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	updates := turn.Updates()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				done := map[string]string{}
				if err := turn.Wait(); err != nil {
					done["error"] = err.Error()
				}
				sendSSE(w, "done", done)
				flusher.Flush()
				return
			}
			sendSSE(w, "update", u)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			// the turn keeps running and commits; drain what it still emits
			go drain(turn)
			return
		}
	}
}

func drain(t *agent.Turn) {
	for range t.Updates() {
	}
}

func sendSSE(w http.ResponseWriter, event string, v any) {
	payload, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
