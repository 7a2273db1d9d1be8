package room

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blob-battle/internal/config"
	"blob-battle/internal/game"
	"blob-battle/internal/observability"
)

// foodID matches identifiers the engine hands out to food. Players may not
// use them since snapshots share one removal list.
var foodID = regexp.MustCompile(`^f[0-9]+$`)

// Manager holds every room in the process. The registry is the only state
// shared between rooms.
type Manager struct {
	cfg       config.AppConfig
	transport Transport
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool

	seed atomic.Int64
}

// NewManager creates an empty registry. Rooms emit through transport.
func NewManager(cfg config.AppConfig, transport Transport, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		transport: transport,
		logger:    logger.Named("rooms"),
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]*Room),
	}
	m.seed.Store(time.Now().UnixNano())
	return m
}

// CreateRoom starts a new room. An empty id gets a generated one.
func (m *Manager) CreateRoom(id string) (Info, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Info{}, ErrRoomClosed
	}
	if _, ok := m.rooms[id]; ok {
		return Info{}, fmt.Errorf("create %q: %w", id, ErrRoomExists)
	}
	if len(m.rooms) >= m.cfg.Rooms.MaxRooms {
		observability.RecordRejected("too_many_rooms")
		return Info{}, fmt.Errorf("create %q: %w", id, ErrTooManyRooms)
	}

	r := newRoom(id, m.cfg, m.seed.Add(1), m.transport, m.logger)
	r.onStop = m.unregister
	m.rooms[id] = r
	r.start(m.ctx)
	observability.RoomOpened()
	return r.Info(), nil
}

func (m *Manager) unregister(r *Room) {
	m.mu.Lock()
	if cur, ok := m.rooms[r.id]; ok && cur == r {
		delete(m.rooms, r.id)
	}
	m.mu.Unlock()
	observability.RoomClosed()
}

func (m *Manager) lookup(id string) (*Room, error) {
	m.mu.RLock()
	r, ok := m.rooms[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %q: %w", id, ErrRoomNotFound)
	}
	return r, nil
}

// AddPlayer joins a player to a room, creating the room first when
// auto-create is enabled. Capacity is enforced by the room itself.
func (m *Manager) AddPlayer(ctx context.Context, roomID, playerID, name, color string) (JoinResult, error) {
	if roomID == "" || playerID == "" || foodID.MatchString(playerID) {
		return JoinResult{}, ErrInvalidPlayer
	}

	for attempt := 0; attempt < 2; attempt++ {
		r, err := m.roomForJoin(roomID)
		if err != nil {
			observability.RecordRejected("room_not_found")
			return JoinResult{}, err
		}

		reply := make(chan joinReply, 1)
		if err := r.send(ctx, joinCmd{playerID: playerID, name: name, color: color, reply: reply}); err != nil {
			if errors.Is(err, ErrRoomClosed) {
				continue
			}
			return JoinResult{}, err
		}
		select {
		case res := <-reply:
			return res.result, res.err
		case <-r.done:
			continue
		case <-ctx.Done():
			return JoinResult{}, ctx.Err()
		}
	}
	return JoinResult{}, fmt.Errorf("join %q: %w", roomID, ErrRoomClosed)
}

func (m *Manager) roomForJoin(id string) (*Room, error) {
	r, err := m.lookup(id)
	if err == nil || !m.cfg.Rooms.AutoCreate {
		return r, err
	}
	if _, err := m.CreateRoom(id); err != nil && !errors.Is(err, ErrRoomExists) {
		return nil, err
	}
	return m.lookup(id)
}

// RemovePlayer asks the room to drop the player. Unknown players are
// ignored by the room.
func (m *Manager) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	r, err := m.lookup(roomID)
	if err != nil {
		return err
	}
	return r.send(ctx, leaveCmd{playerID: playerID})
}

// HandleInput forwards a movement command without blocking. Inputs that
// find the inbox full are dropped.
func (m *Manager) HandleInput(roomID, playerID string, in game.Input) error {
	if !in.Finite() {
		observability.RecordRejected("invalid_input")
		return fmt.Errorf("input from %q: %w", playerID, ErrInvalidPlayer)
	}
	r, err := m.lookup(roomID)
	if err != nil {
		return err
	}
	if err := r.trySend(inputCmd{playerID: playerID, input: in}); err != nil {
		if errors.Is(err, ErrInboxFull) {
			observability.RecordRejected("inbox_full")
		}
		return err
	}
	return nil
}

// Acknowledge records the newest tick a client has applied.
func (m *Manager) Acknowledge(roomID, playerID string, tick uint64) error {
	r, err := m.lookup(roomID)
	if err != nil {
		return err
	}
	return r.trySend(ackCmd{playerID: playerID, tick: tick})
}

// Respawn asks the room to bring an eliminated player back.
func (m *Manager) Respawn(ctx context.Context, roomID, playerID string) error {
	r, err := m.lookup(roomID)
	if err != nil {
		return err
	}
	return r.send(ctx, respawnCmd{playerID: playerID})
}

// DeleteRoom stops a room and waits for its loop to exit.
func (m *Manager) DeleteRoom(ctx context.Context, id string) error {
	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	r.stop()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Room returns the latest view of a room.
func (m *Manager) Room(id string) (Info, bool) {
	r, err := m.lookup(id)
	if err != nil {
		return Info{}, false
	}
	return r.Info(), true
}

// Rooms lists every running room ordered by id.
func (m *Manager) Rooms() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats counts rooms and players across the registry.
func (m *Manager) Stats() Stats {
	s := Stats{
		MaxRooms:          m.cfg.Rooms.MaxRooms,
		MaxPlayersPerRoom: m.cfg.Rooms.MaxPlayersPerRoom,
	}
	for _, info := range m.Rooms() {
		s.Rooms++
		s.Players += info.Players
	}
	return s
}

// Shutdown stops every room and waits for their loops, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	m.cancel()
	for _, r := range rooms {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %w", ctx.Err())
		}
	}
	m.logger.Info("all rooms stopped", zap.Int("rooms", len(rooms)))
	return nil
}
