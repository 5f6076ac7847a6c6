package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/necyber/elephie/pkg/api/events"
	"github.com/necyber/elephie/pkg/api/middleware"
	"github.com/necyber/elephie/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32
	maxClientMessageBytes   = 4 << 10
)

// Control messages exchanged with feed clients.
const (
	msgSubscribe    = "subscribe"
	msgUnsubscribe  = "unsubscribe"
	msgReset        = "reset"
	msgSubscription = "subscription"
	msgError        = "error"
)

// WebSocketConfig configures websocket handler behavior.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// clientMessage narrows or widens a client's feed. Events entries are exact
// event types ("turn.search") or prefixes ending in ".*" ("ingest.*").
type clientMessage struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Events         []string `json:"events,omitempty"`
}

// subscriptionMessage echoes the filter after every change.
type subscriptionMessage struct {
	Type          string   `json:"type"`
	Conversations []string `json:"conversations"`
	Events        []string `json:"events"`
	Message       string   `json:"message,omitempty"`
}

// feedFilter selects the events a client sees. An empty filter passes
// everything. With conversations set, only their events pass, plus
// conversation-less events whose type was asked for explicitly.
type feedFilter struct {
	conversations map[string]struct{}
	types         map[string]struct{}
}

func (f *feedFilter) typeMatches(eventType string) bool {
	if len(f.types) == 0 {
		return true
	}
	if _, ok := f.types[eventType]; ok {
		return true
	}
	for t := range f.types {
		if prefix, ok := strings.CutSuffix(t, "*"); ok && strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

func (f *feedFilter) matches(e events.Event) bool {
	if !f.typeMatches(e.Type) {
		return false
	}
	if len(f.conversations) == 0 {
		return true
	}
	if e.ConversationID == "" {
		return len(f.types) > 0
	}
	_, ok := f.conversations[e.ConversationID]
	return ok
}

func (f *feedFilter) snapshot() (conversations, types []string) {
	conversations = sortedKeys(f.conversations)
	types = sortedKeys(f.types)
	return conversations, types
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	mu        sync.RWMutex
	filter    feedFilter
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, defaultSendBuffer),
		filter: feedFilter{
			conversations: make(map[string]struct{}),
			types:         make(map[string]struct{}),
		},
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// apply updates the filter from a client message and returns the reply.
func (c *wsClient) apply(msg clientMessage) subscriptionMessage {
	conversationID := strings.TrimSpace(msg.ConversationID)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case msgSubscribe:
		if conversationID != "" {
			c.filter.conversations[conversationID] = struct{}{}
		}
		for _, t := range msg.Events {
			if t = strings.TrimSpace(t); t != "" {
				c.filter.types[t] = struct{}{}
			}
		}
	case msgUnsubscribe:
		delete(c.filter.conversations, conversationID)
		for _, t := range msg.Events {
			delete(c.filter.types, strings.TrimSpace(t))
		}
	case msgReset:
		c.filter.conversations = make(map[string]struct{})
		c.filter.types = make(map[string]struct{})
	default:
		return subscriptionMessage{Type: msgError, Message: "unknown message type " + msg.Type}
	}
	conversations, types := c.filter.snapshot()
	return subscriptionMessage{Type: msgSubscription, Conversations: conversations, Events: types}
}

func (c *wsClient) wants(e events.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.matches(e)
}

// feedHub tracks connected feed clients up to a fixed limit.
type feedHub struct {
	limit int

	mu      sync.RWMutex
	members map[*wsClient]struct{}
}

func newFeedHub(limit int) *feedHub {
	if limit <= 0 {
		limit = defaultWSMaxConnections
	}
	return &feedHub{limit: limit, members: make(map[*wsClient]struct{})}
}

// join adds c unless the hub is full.
func (h *feedHub) join(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.members) >= h.limit {
		return false
	}
	h.members[c] = struct{}{}
	return true
}

// leave removes c and closes it. Only the first call for a client closes.
func (h *feedHub) leave(c *wsClient) {
	h.mu.Lock()
	_, ok := h.members[c]
	delete(h.members, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *feedHub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *feedHub) full() bool {
	return h.size() >= h.limit
}

// publish queues event for every member whose filter matches. A member
// whose buffer is full is dropped so one stalled browser tab cannot hold
// back the rest.
func (h *feedHub) publish(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	var targets, stalled []*wsClient
	for c := range h.members {
		if c.wants(event) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	for _, c := range stalled {
		h.leave(c)
	}
	return nil
}

func (h *feedHub) closeAll() {
	h.mu.Lock()
	members := h.members
	h.members = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range members {
		c.close()
	}
}

// WebSocketHandler serves /ws/events, the live feed of turn and ingest
// events.
type WebSocketHandler struct {
	log          logger.Logger
	hub          *feedHub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultWSMaxConnections
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	h := &WebSocketHandler{
		log:          log,
		hub:          newFeedHub(cfg.MaxConnections),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: defaultWriteTimeout,
	}
	allowed := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return websocketOriginAllowed(r, allowed)
		},
	}
	return h
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if h.hub.full() {
		http.Error(w, "websocket connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	if !h.hub.join(client) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(h.writeTimeout),
		)
		_ = conn.Close()
		return
	}
	h.log.Debug("websocket client connected", "remote_addr", r.RemoteAddr, "request_id", getRequestID(r.Context()))

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *WebSocketHandler) readLoop(client *wsClient) {
	defer h.hub.leave(client)

	readDeadline := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(maxClientMessageBytes)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}
		h.reply(client, h.handleClientMessage(client, data))
	}
}

func (h *WebSocketHandler) writeLoop(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.hub.leave(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleClientMessage(client *wsClient, raw []byte) subscriptionMessage {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return subscriptionMessage{Type: msgError, Message: "invalid JSON message"}
	}
	return client.apply(msg)
}

// reply queues a control message without blocking the read loop.
func (h *WebSocketHandler) reply(client *wsClient, msg subscriptionMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	defer func() {
		// send was closed by a concurrent leave.
		_ = recover()
	}()
	select {
	case client.send <- data:
	default:
	}
}

// Broadcast sends an event to matching websocket clients.
func (h *WebSocketHandler) Broadcast(event events.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return h.hub.publish(event)
}

// Send is Broadcast for use with events.Broadcaster.Forward.
func (h *WebSocketHandler) Send(event events.Event) {
	if err := h.Broadcast(event); err != nil {
		h.log.Warn("websocket broadcast failed", "type", event.Type, "error", err)
	}
}

// Connections returns the number of connected clients.
func (h *WebSocketHandler) Connections() int {
	return h.hub.size()
}

// Close closes all websocket clients.
func (h *WebSocketHandler) Close() {
	h.hub.closeAll()
}

// websocketOriginAllowed accepts non-browser clients, the configured CORS
// origins and same-host pages.
func websocketOriginAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || middleware.OriginAllowed(origin, allowed) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
