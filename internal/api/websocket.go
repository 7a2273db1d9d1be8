package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"blob-battle/internal/config"
	"blob-battle/internal/game"
	"blob-battle/internal/observability"
	"blob-battle/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	leaveTimeout   = 2 * time.Second

	maxNameRunes    = 16
	maxPlayerIDLen  = 64
	defaultNickname = "blob"
)

// Inbound event names.
const (
	EventJoin    = "join"
	EventLeave   = "leave"
	EventInput   = "input"
	EventAck     = "ack"
	EventRespawn = "respawn"
)

// Outbound events that only the adapter produces.
const (
	EventJoined = "joined"
	EventError  = "error"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// envelope is the frame shape in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type joinRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

type ackRequest struct {
	Tick uint64 `json:"tick"`
}

// ErrorMessage is the payload of an error frame.
type ErrorMessage struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

type playerKey struct {
	room   string
	player string
}

// wsClient is one socket. roomID and playerID are guarded by the hub lock.
type wsClient struct {
	hub    *WebSocketHub
	conn   *websocket.Conn
	ip     string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	inputs *rate.Limiter

	roomID   string
	playerID string
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue never blocks. A full buffer drops the frame.
func (c *wsClient) enqueue(msg []byte) {
	select {
	case <-c.done:
	case c.send <- msg:
		observability.RecordWSMessage("out")
	default:
		observability.RecordWSMessage("dropped")
	}
}

// WebSocketHub owns every client socket and implements room.Transport.
type WebSocketHub struct {
	rooms   RoomService
	limits  config.RateLimitConfig
	origins []string
	logger  *zap.Logger

	upgrader  websocket.Upgrader
	wsLimiter *WebSocketRateLimiter

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	players map[playerKey]*wsClient
	byRoom  map[string]map[string]*wsClient
	closed  bool
}

var _ room.Transport = (*WebSocketHub)(nil)

// NewWebSocketHub creates a hub. Bind must be called before serving.
func NewWebSocketHub(limits config.RateLimitConfig, origins []string, logger *zap.Logger) *WebSocketHub {
	h := &WebSocketHub{
		limits:    limits,
		origins:   origins,
		logger:    logger.Named("ws"),
		wsLimiter: NewWebSocketRateLimiter(limits.MaxConnsPerIP, limits.MaxConnsTotal),
		clients:   make(map[*wsClient]struct{}),
		players:   make(map[playerKey]*wsClient),
		byRoom:    make(map[string]map[string]*wsClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if IsAllowedOrigin(h.origins, origin) {
				return true
			}
			h.logger.Warn("websocket origin rejected", zap.String("origin", origin))
			observability.RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Bind attaches the room service. The manager needs the hub as its
// transport, so the two are wired after construction.
func (h *WebSocketHub) Bind(rooms RoomService) {
	h.rooms = rooms
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmitToPlayer implements room.Transport.
func (h *WebSocketHub) EmitToPlayer(roomID, playerID, event string, payload any) {
	h.mu.RLock()
	c := h.players[playerKey{roomID, playerID}]
	h.mu.RUnlock()
	if c == nil {
		return
	}

	msg, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("marshal outbound", zap.String("event", event), zap.Error(err))
		return
	}
	if event == room.EventSnapshot {
		observability.RecordSnapshotSize(len(msg))
	}
	c.enqueue(msg)
}

// EmitToRoom implements room.Transport. A kicked player is detached from
// its socket after the notice is queued, and roomClosed detaches every
// socket in the room.
func (h *WebSocketHub) EmitToRoom(roomID, event string, payload any) {
	msg, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("marshal outbound", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	for _, c := range h.byRoom[roomID] {
		c.enqueue(msg)
	}
	h.mu.RUnlock()

	switch event {
	case room.EventPlayerKicked:
		n, ok := payload.(room.PlayerNotice)
		if !ok {
			return
		}
		h.mu.Lock()
		if c := h.players[playerKey{roomID, n.ID}]; c != nil {
			h.unbindLocked(c)
		}
		h.mu.Unlock()
	case room.EventRoomClosed:
		h.releaseRoom(roomID)
	}
}

// releaseRoom unbinds every socket bound to roomID. The sockets stay open
// and may join again.
func (h *WebSocketHub) releaseRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.byRoom[roomID]
	count := len(members)
	for _, c := range members {
		h.unbindLocked(c)
	}
	delete(h.byRoom, roomID)
	if count > 0 {
		h.logger.Debug("room released", zap.String("room", roomID), zap.Int("sockets", count))
	}
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		writeError(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	if ok, reason := h.wsLimiter.Allow(ip); !ok {
		h.logger.Warn("websocket connection rejected", zap.String("ip", ip), zap.String("reason", reason))
		observability.RecordConnectionRejected(reason)
		code := http.StatusTooManyRequests
		if reason == "ws_total_limit" {
			code = http.StatusServiceUnavailable
		}
		writeError(w, "too many connections", code)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		h.wsLimiter.Release(ip)
		return
	}

	c := &wsClient{
		hub:    h,
		conn:   conn,
		ip:     ip,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		inputs: rate.NewLimiter(rate.Limit(h.limits.InputsPerSecond), h.limits.InputBurst),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	observability.UpdateWSConnections(count)
	h.logger.Debug("client connected", zap.String("ip", ip), zap.Int("total", count))

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client and refuses new ones.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *WebSocketHub) disconnect(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	roomID, playerID := c.roomID, c.playerID
	h.unbindLocked(c)
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.wsLimiter.Release(c.ip)
	observability.UpdateWSConnections(count)

	if playerID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := h.rooms.RemovePlayer(ctx, roomID, playerID); err != nil {
			h.logger.Debug("leave on disconnect", zap.String("room", roomID), zap.String("player", playerID), zap.Error(err))
		}
	}
	h.logger.Debug("client disconnected", zap.String("ip", c.ip), zap.Int("total", count))
}

// bind reserves (room, player) for c before the join reaches the room,
// so the client sees its own playerJoined.
func (h *WebSocketHub) bind(c *wsClient, roomID, playerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.playerID != "" {
		return errAlreadyJoined
	}
	key := playerKey{roomID, playerID}
	if _, taken := h.players[key]; taken {
		return room.ErrPlayerExists
	}
	h.players[key] = c
	if h.byRoom[roomID] == nil {
		h.byRoom[roomID] = make(map[string]*wsClient)
	}
	h.byRoom[roomID][playerID] = c
	c.roomID, c.playerID = roomID, playerID
	return nil
}

func (h *WebSocketHub) unbind(c *wsClient) {
	h.mu.Lock()
	h.unbindLocked(c)
	h.mu.Unlock()
}

func (h *WebSocketHub) unbindLocked(c *wsClient) {
	if c.playerID == "" {
		return
	}
	key := playerKey{c.roomID, c.playerID}
	if h.players[key] == c {
		delete(h.players, key)
	}
	if members := h.byRoom[c.roomID]; members != nil {
		if members[c.playerID] == c {
			delete(members, c.playerID)
		}
		if len(members) == 0 {
			delete(h.byRoom, c.roomID)
		}
	}
	c.roomID, c.playerID = "", ""
}

func (h *WebSocketHub) binding(c *wsClient) (string, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.roomID, c.playerID
}

var (
	errAlreadyJoined = errors.New("already joined")
	errNotJoined     = errors.New("not joined")
	errBadRequest    = errors.New("malformed request")
	errUnknownEvent  = errors.New("unknown event")
)

func (c *wsClient) readPump() {
	defer c.hub.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		observability.RecordWSMessage("in")

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.replyError("decode", errBadRequest)
			continue
		}
		if err := c.dispatch(env); err != nil {
			c.replyError(env.Event, err)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsClient) dispatch(env envelope) error {
	switch env.Event {
	case EventJoin:
		var req joinRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return errBadRequest
		}
		return c.join(req)

	case EventLeave:
		return c.leave()

	case EventInput:
		if !c.inputs.Allow() {
			observability.RecordRejected("input_rate")
			return nil
		}
		var in game.Input
		if err := json.Unmarshal(env.Data, &in); err != nil {
			observability.RecordRejected("invalid_input")
			return nil
		}
		return c.input(in)

	case EventAck:
		var req ackRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return errBadRequest
		}
		roomID, playerID := c.hub.binding(c)
		if playerID == "" {
			return errNotJoined
		}
		return c.roomErr(c.hub.rooms.Acknowledge(roomID, playerID, req.Tick))

	case EventRespawn:
		roomID, playerID := c.hub.binding(c)
		if playerID == "" {
			return errNotJoined
		}
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		return c.roomErr(c.hub.rooms.Respawn(ctx, roomID, playerID))
	}
	return errUnknownEvent
}

func (c *wsClient) join(req joinRequest) error {
	req.RoomID = strings.TrimSpace(req.RoomID)
	if req.RoomID == "" || len(req.PlayerID) > maxPlayerIDLen {
		return errBadRequest
	}
	if req.PlayerID == "" {
		req.PlayerID = uuid.NewString()
	}
	name := sanitizeName(req.Name)
	color := sanitizeColor(req.Color, req.PlayerID)

	if err := c.hub.bind(c, req.RoomID, req.PlayerID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	res, err := c.hub.rooms.AddPlayer(ctx, req.RoomID, req.PlayerID, name, color)
	if err != nil {
		c.hub.unbind(c)
		return err
	}
	c.reply(EventJoined, res)
	return nil
}

func (c *wsClient) leave() error {
	roomID, playerID := c.hub.binding(c)
	if playerID == "" {
		return errNotJoined
	}
	c.hub.unbind(c)
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	return c.hub.rooms.RemovePlayer(ctx, roomID, playerID)
}

func (c *wsClient) input(in game.Input) error {
	roomID, playerID := c.hub.binding(c)
	if playerID == "" {
		return errNotJoined
	}
	err := c.hub.rooms.HandleInput(roomID, playerID, in)
	switch {
	case err == nil, errors.Is(err, room.ErrInboxFull), errors.Is(err, room.ErrInvalidPlayer):
		// dropped inputs are recovered through the acknowledged sequence
		return nil
	}
	return c.roomErr(err)
}

// roomErr detaches the client from a room that no longer exists.
func (c *wsClient) roomErr(err error) error {
	if errors.Is(err, room.ErrRoomNotFound) || errors.Is(err, room.ErrRoomClosed) {
		c.hub.unbind(c)
	}
	return err
}

func (c *wsClient) reply(event string, payload any) {
	msg, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *wsClient) replyError(op string, err error) {
	c.reply(EventError, ErrorMessage{Op: op, Error: err.Error()})
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultNickname
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	return name
}

func sanitizeColor(color, playerID string) string {
	if hexColor.MatchString(color) {
		return color
	}
	var n uint32
	for _, b := range []byte(playerID) {
		n = n*31 + uint32(b)
	}
	return game.PaletteColor(int(n))
}
