// Package websocket pushes newly written notifications and chat messages to
// connected clients. Each client belongs to one account and may only
// subscribe to that account's topics.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

const (
	TopicNotifications = "notifications"
	TopicMessages      = "messages"
)

func NotificationsTopic(accountID uuid.UUID) string {
	return TopicNotifications + ":" + accountID.String()
}

func MessagesTopic(accountID uuid.UUID) string {
	return TopicMessages + ":" + accountID.String()
}

// CanSubscribe reports whether accountID may listen on topic.
func CanSubscribe(accountID uuid.UUID, topic string) bool {
	return topic == NotificationsTopic(accountID) || topic == MessagesTopic(accountID)
}

// Event is one pushed frame.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func NewEvent(topic, eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Topic: topic, Timestamp: time.Now().UTC(), Data: data}, nil
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher is implemented by *Hub. Publishing never blocks on delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Client struct {
	ID        string
	AccountID uuid.UUID
	Topics    []string
	Send      chan []byte
}

func NewClient(accountID uuid.UUID) *Client {
	return &Client{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Send:      make(chan []byte, 256),
	}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.add(topic, client)
	}
}

// Unregister drops every subscription held by client and closes its Send
// channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.remove(topic, client)
	}
	client.Topics = nil
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) add(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) remove(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Subscribe adds the topics the client's account may listen on and returns
// the ones it refused.
func (h *Hub) Subscribe(client *Client, topics []string) (rejected []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if !CanSubscribe(client.AccountID, topic) {
			rejected = append(rejected, topic)
			continue
		}
		if _, already := h.clients[topic][client]; already {
			continue
		}
		h.add(topic, client)
		client.Topics = append(client.Topics, topic)
	}
	return rejected
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]bool, len(topics))
	for _, topic := range topics {
		drop[topic] = true
		h.remove(topic, client)
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if !drop[t] {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage applies msg and returns any topics that were refused.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) []string {
	switch msg.Action {
	case "subscribe":
		return h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
	return nil
}

// Broadcast queues event for every subscriber of topic. A client whose buffer
// is full misses the frame.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, dropping event")
		}
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades authenticated requests and runs the client pumps.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler accepts upgrades from allowedOrigins. An empty list admits any
// origin.
func NewHandler(hub *Hub, allowedOrigins []string, logger zerolog.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimRight(o, "/")] = true
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect subscribes the new client to its own notification and
// message topics before starting the pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		wsh.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	client := NewClient(authz.AccountID)
	client.Topics = []string{NotificationsTopic(authz.AccountID), MessagesTopic(authz.AccountID)}
	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if rejected := wsh.hub.ProcessMessage(client, msg); len(rejected) > 0 {
			ev, err := NewEvent("", "subscription.rejected", map[string][]string{"topics": rejected})
			if err == nil {
				if data, err := json.Marshal(ev); err == nil {
					select {
					case client.Send <- data:
					default:
					}
				}
			}
		}
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
