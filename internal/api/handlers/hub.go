package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Cheertaboi/discount-code-service/internal/models"
	"github.com/Cheertaboi/discount-code-service/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

const (
	frameResult = "result"
	frameError  = "error"
	frameEvent  = "event"
)

// HubRequest is a client call. Params depend on Method.
type HubRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// HubFrame is everything the hub writes: call results, call errors and
// broadcast events.
type HubFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Event  string `json:"event,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub serves the real-time discount code endpoint over WebSocket and
// broadcasts code events to every connected client.
type Hub struct {
	svc      DiscountService
	secret   string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*hubClient
}

func NewHub(svc DiscountService, secret string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		svc:    svc,
		secret: secret,
		logger: logger.With(slog.String("component", "hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*hubClient),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := r.URL.Query().Get("secret")
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized: Invalid secret."})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &hubClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	h.logger.Info("client connected", slog.String("connection_id", c.id))

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client. A client whose buffer is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Broadcast(event string, data any) {
	payload, err := json.Marshal(HubFrame{Type: frameEvent, Event: event, Data: data})
	if err != nil {
		h.logger.Error("encode event", slog.String("event", event), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	var slow []*hubClient
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow client", slog.String("connection_id", c.id))
		h.unregister(c)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// unregister is safe to call more than once for the same client.
func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.logger.Info("client disconnected", slog.String("connection_id", c.id))
	}
}

func (h *Hub) readPump(ctx context.Context, c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read", slog.String("connection_id", c.id), slog.Any("error", err))
			}
			return
		}

		var req HubRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			h.reply(c, HubFrame{Type: frameError, Error: "Malformed request."})
			continue
		}
		h.reply(c, h.dispatch(ctx, c, req))
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) reply(c *hubClient, frame HubFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encode reply", slog.String("connection_id", c.id), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("reply dropped, client buffer full", slog.String("connection_id", c.id))
	}
}

func (h *Hub) dispatch(ctx context.Context, c *hubClient, req HubRequest) HubFrame {
	log := h.logger.With(slog.String("connection_id", c.id), slog.String("method", req.Method))
	fail := func(msg string) HubFrame {
		return HubFrame{Type: frameError, ID: req.ID, Error: msg}
	}

	switch req.Method {
	case "GenerateCode":
		var p struct {
			Count  int `json:"count"`
			Length int `json:"length"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return fail("Malformed parameters.")
		}
		log.Info("generate requested", slog.Int("count", p.Count), slog.Int("length", p.Length))
		if msg := validateGenerateInput(p.Count, p.Length); msg != "" {
			return fail(msg)
		}
		if !h.svc.GenerateAndAdd(ctx, p.Count, p.Length) {
			return fail("Failed to generate codes.")
		}
		h.Broadcast(EventCodeGenerated, GeneratedEvent{Count: p.Count, Length: p.Length})
		return HubFrame{Type: frameResult, ID: req.ID, Result: true}

	case "UseCode":
		var p struct {
			Code string `json:"code"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return fail("Malformed parameters.")
		}
		log.Info("use requested", slog.String("code", p.Code))
		if msg := validateUseCodeInput(p.Code, hubMaxCodeLength); msg != "" {
			return HubFrame{Type: frameError, ID: req.ID, Result: byte(service.Failure), Error: msg}
		}
		outcome := h.svc.UseCode(ctx, p.Code)
		if outcome != service.Success {
			return HubFrame{Type: frameError, ID: req.ID, Result: byte(outcome), Error: outcome.Message()}
		}
		h.Broadcast(EventCodeUsed, p.Code)
		return HubFrame{Type: frameResult, ID: req.ID, Result: byte(outcome)}

	case "GetCodes":
		codes, err := h.svc.GetAllCodes(ctx)
		if err != nil {
			log.Error("get codes", slog.Any("error", err))
			return fail(service.Exception.Message())
		}
		return HubFrame{Type: frameResult, ID: req.ID, Result: codes}

	case "GetRecentCodes":
		p := struct {
			Count int `json:"count"`
		}{Count: defaultRecentCount}
		if err := decodeParams(req.Params, &p); err != nil {
			return fail("Malformed parameters.")
		}
		codes, err := h.svc.GetMostRecent(ctx, p.Count)
		if errors.Is(err, models.ErrValidation) {
			return fail("Count must be greater than zero.")
		}
		if err != nil {
			log.Error("get recent codes", slog.Any("error", err))
			return fail(service.Exception.Message())
		}
		return HubFrame{Type: frameResult, ID: req.ID, Result: codes}

	default:
		return fail("Unknown method.")
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
