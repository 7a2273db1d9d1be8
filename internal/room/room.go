package room

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"blob-battle/internal/config"
	"blob-battle/internal/game"
	"blob-battle/internal/observability"
	"blob-battle/internal/snapshot"
)

// Room owns one RoomState. Every mutation happens on the goroutine running
// run; other goroutines talk to it through inbox.
type Room struct {
	id     string
	cfg    config.RoomsConfig
	mapW   float64
	mapH   float64
	logger *zap.Logger

	engine      *game.Engine
	state       *game.RoomState
	compressor  *snapshot.Compressor
	leaderboard *game.Leaderboard
	transport   Transport

	inbox  chan any
	cancel context.CancelFunc
	done   chan struct{}
	onStop func(*Room)

	lastInput   map[string]time.Time
	pending     []game.CollisionEvent // eliminations since the last broadcast
	emptySince  time.Time
	graceTimer  *time.Timer
	info        atomic.Pointer[Info]
	closeReason string
	grace       time.Duration
	afkInterval time.Duration
}

func newRoom(id string, cfg config.AppConfig, seed int64, transport Transport, logger *zap.Logger) *Room {
	engine := game.NewEngine(cfg.Simulation, seed)
	r := &Room{
		id:          id,
		cfg:         cfg.Rooms,
		mapW:        cfg.Simulation.MapWidth,
		mapH:        cfg.Simulation.MapHeight,
		logger:      logger.With(zap.String("room", id)),
		engine:      engine,
		state:       engine.InitializeRoom(id),
		compressor:  snapshot.NewCompressor(cfg.Snapshot),
		leaderboard: game.NewLeaderboard(),
		transport:   transport,
		inbox:       make(chan any, cfg.Rooms.InboxSize),
		done:        make(chan struct{}),
		lastInput:   make(map[string]time.Time),
		grace:       cfg.Rooms.EmptyRoomGrace,
		afkInterval: afkCheckInterval(cfg.Rooms.AFKTimeout),
	}
	r.publish()
	return r
}

func afkCheckInterval(timeout time.Duration) time.Duration {
	d := timeout / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	if d > time.Second {
		d = time.Second
	}
	return d
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Info returns the most recently published view of the room.
func (r *Room) Info() Info { return *r.info.Load() }

// Done is closed once the room loop has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	go r.run(ctx)
}

func (r *Room) stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// send enqueues a command, waiting while the inbox is full.
func (r *Room) send(ctx context.Context, cmd any) error {
	select {
	case r.inbox <- cmd:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySend enqueues a command without waiting.
func (r *Room) trySend(cmd any) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- cmd:
		return nil
	default:
		return ErrInboxFull
	}
}

func (r *Room) run(ctx context.Context) {
	defer close(r.done)
	defer r.finish()
	defer func() {
		if rec := recover(); rec != nil {
			r.closeReason = CloseFailed
			observability.RecordRoomFailure()
			r.logger.Error("room loop panicked, stopping room", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	sim := time.NewTicker(r.cfg.TickInterval())
	defer sim.Stop()
	broadcast := time.NewTicker(r.cfg.BroadcastInterval())
	defer broadcast.Stop()
	board := time.NewTicker(r.cfg.LeaderboardEvery)
	defer board.Stop()
	afk := time.NewTicker(r.afkInterval)
	defer afk.Stop()

	dt := r.cfg.TickInterval().Seconds()
	r.logger.Info("room started",
		zap.Int("tick_rate", r.cfg.TickRate),
		zap.Int("broadcast_rate", r.cfg.BroadcastRate))

	for {
		if !r.intact() {
			r.closeReason = CloseFailed
			observability.RecordRoomFailure()
			r.logger.Error("room components missing, stopping room")
			return
		}

		select {
		case <-ctx.Done():
			r.closeReason = CloseStopped
			return
		case cmd := <-r.inbox:
			if !r.handle(cmd) {
				return
			}
		case <-sim.C:
			r.step(dt)
		case <-broadcast.C:
			r.broadcast()
		case <-board.C:
			r.publishLeaderboard()
		case now := <-afk.C:
			r.evictIdle(now)
		}
	}
}

func (r *Room) intact() bool {
	return r.engine != nil && r.state != nil && r.compressor != nil && r.leaderboard != nil
}

// handle applies one inbox command. It returns false when the room should
// shut down.
func (r *Room) handle(cmd any) bool {
	switch c := cmd.(type) {
	case joinCmd:
		res, err := r.join(c)
		c.reply <- joinReply{result: res, err: err}
	case leaveCmd:
		if r.removePlayer(c.playerID, EventPlayerLeft, "") {
			r.logger.Info("player left", zap.String("player", c.playerID))
		}
	case inputCmd:
		if _, ok := r.state.Players[c.playerID]; !ok {
			return true
		}
		r.lastInput[c.playerID] = time.Now()
		if err := r.engine.ProcessInput(r.state, c.playerID, c.input); err != nil {
			observability.RecordRejected(inputRejection(err))
			r.logger.Debug("input rejected", zap.String("player", c.playerID), zap.Uint64("seq", c.input.Seq), zap.Error(err))
		}
	case ackCmd:
		r.compressor.AcknowledgeClient(c.playerID, c.tick)
	case respawnCmd:
		r.respawn(c.playerID)
	case graceCmd:
		if r.graceExpired() {
			r.closeReason = CloseEmpty
			return false
		}
	default:
		r.logger.Warn("unknown room command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
	return true
}

// inputRejection maps an engine rejection to its metric label.
func inputRejection(err error) string {
	switch {
	case errors.Is(err, game.ErrStaleInput):
		return "stale_input"
	case errors.Is(err, game.ErrEliminated):
		return "eliminated_input"
	case errors.Is(err, game.ErrNonFinite):
		return "invalid_input"
	default:
		return "unknown_player"
	}
}

func (r *Room) join(c joinCmd) (JoinResult, error) {
	if _, ok := r.state.Players[c.playerID]; ok {
		return JoinResult{}, ErrPlayerExists
	}
	if len(r.state.Players) >= r.cfg.MaxPlayersPerRoom {
		observability.RecordRejected("room_full")
		r.logger.Debug("join rejected, room full", zap.String("player", c.playerID))
		return JoinResult{}, ErrRoomFull
	}

	p := r.engine.AddPlayer(r.state, c.playerID, c.name, c.color)
	if p == nil {
		return JoinResult{}, ErrInvalidPlayer
	}
	r.compressor.AddClient(p.ID)
	r.lastInput[p.ID] = time.Now()
	r.state.Status = game.StatusPlaying
	r.cancelGrace()
	observability.PlayerAdded()

	r.logger.Info("player joined", zap.String("player", p.ID), zap.String("name", p.Name))
	r.transport.EmitToRoom(r.id, EventPlayerJoined, PlayerNotice{ID: p.ID, Name: p.Name, Color: p.Color})
	r.publish()

	return JoinResult{
		RoomID:    r.id,
		PlayerID:  p.ID,
		Tick:      r.state.Tick,
		X:         p.X,
		Y:         p.Y,
		Size:      p.Size,
		Color:     p.Color,
		MapWidth:  r.mapW,
		MapHeight: r.mapH,
	}, nil
}

// removePlayer drops a player and emits event to the room. Returns false if
// the player was not present.
func (r *Room) removePlayer(id, event, reason string) bool {
	if !r.engine.RemovePlayer(r.state, id) {
		return false
	}
	r.compressor.RemoveClient(id)
	delete(r.lastInput, id)
	observability.PlayerGone()

	r.transport.EmitToRoom(r.id, event, PlayerNotice{ID: id, Reason: reason})
	if len(r.state.Players) == 0 {
		r.state.Status = game.StatusWaiting
		r.scheduleGrace()
	}
	r.publish()
	return true
}

func (r *Room) respawn(id string) {
	if !r.engine.RespawnPlayer(r.state, id) {
		return
	}
	r.lastInput[id] = time.Now()
	r.compressor.ResetClient(id)
	p := r.state.Players[id]
	r.logger.Debug("player respawned", zap.String("player", id))
	r.transport.EmitToRoom(r.id, EventPlayerRespawned, PlayerNotice{ID: id, Name: p.Name, Color: p.Color})
}

func (r *Room) step(dt float64) {
	if len(r.state.Players) == 0 {
		return
	}
	start := time.Now()
	r.engine.Tick(r.state, dt)
	observability.RecordTick(time.Since(start))

	if len(r.state.Events) == 0 {
		return
	}
	observability.RecordEliminations(len(r.state.Events))
	for _, ev := range r.state.Events {
		r.logger.Info("player eliminated", zap.String("player", ev.Eliminated), zap.String("by", ev.Eliminator))
		r.transport.EmitToRoom(r.id, EventPlayerEliminated, EliminationNotice{ID: ev.Eliminated, By: ev.Eliminator})
	}
	r.pending = append(r.pending, r.state.Events...)
}

// broadcast sends every player its own AOI delta.
func (r *Room) broadcast() {
	if len(r.state.Players) == 0 {
		return
	}
	start := time.Now()
	ts := r.state.LastTickAt.UnixMilli()
	if r.state.LastTickAt.IsZero() {
		ts = start.UnixMilli()
	}

	for id, p := range r.state.Players {
		players, foods := r.engine.VisibleTo(r.state, id)
		snap := r.compressor.BuildClientSnapshot(id, p, r.state.Tick, ts, players, foods, r.pending)
		r.transport.EmitToPlayer(r.id, id, EventSnapshot, snap)
	}
	r.pending = r.pending[:0]

	r.publish()
	observability.RecordBroadcast(time.Since(start))
}

func (r *Room) publishLeaderboard() {
	if len(r.state.Players) == 0 {
		return
	}
	r.leaderboard.Update(r.state)
	r.transport.EmitToRoom(r.id, EventLeaderboard, r.leaderboard.Top(r.cfg.LeaderboardSize))
}

func (r *Room) evictIdle(now time.Time) {
	for id, last := range r.lastInput {
		if now.Sub(last) <= r.cfg.AFKTimeout {
			continue
		}
		if r.removePlayer(id, EventPlayerKicked, "afk") {
			observability.RecordAFKKick()
			r.logger.Info("player kicked for inactivity", zap.String("player", id), zap.Duration("idle", now.Sub(last)))
		}
	}
}

func (r *Room) scheduleGrace() {
	r.cancelGrace()
	r.emptySince = time.Now()
	r.graceTimer = time.AfterFunc(r.grace, func() {
		select {
		case r.inbox <- graceCmd{}:
		case <-r.done:
		}
	})
}

func (r *Room) cancelGrace() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
	r.emptySince = time.Time{}
}

// graceExpired re-checks emptiness when the grace timer fires; the room may
// have refilled, or emptied again later, in the meantime.
func (r *Room) graceExpired() bool {
	if len(r.state.Players) > 0 || r.emptySince.IsZero() {
		return false
	}
	if time.Since(r.emptySince) < r.grace {
		return false
	}
	r.logger.Info("room empty past grace period", zap.Duration("grace", r.grace))
	return true
}

// finish runs on the room goroutine after the loop exits.
func (r *Room) finish() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	if r.state != nil {
		for range r.state.Players {
			observability.PlayerGone()
		}
		r.state.Status = game.StatusFinished
	}
	r.publish()
	r.notifyClosed()
	r.logger.Info("room stopped", zap.String("reason", r.closeReason))
	if r.onStop != nil {
		r.onStop(r)
	}
}

// notifyClosed tells the transport to release every socket bound to the
// room. It runs before the room is unregistered, so a room created later
// under the same id never sees stale bindings.
func (r *Room) notifyClosed() {
	if r.transport == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("room closed notice panicked", zap.Any("panic", rec))
		}
	}()
	reason := r.closeReason
	if reason == "" {
		reason = CloseStopped
	}
	r.transport.EmitToRoom(r.id, EventRoomClosed, RoomNotice{ID: r.id, Reason: reason})
}

// publish stores a fresh Info for readers outside the room goroutine.
func (r *Room) publish() {
	info := &Info{ID: r.id, Status: game.StatusFinished}
	if prev := r.info.Load(); prev != nil {
		info.CreatedAt = prev.CreatedAt
	}
	if s := r.state; s != nil {
		info.Status = s.Status
		info.Players = len(s.Players)
		info.Alive = s.AlivePlayers()
		info.Foods = len(s.Foods)
		info.Tick = s.Tick
		info.CreatedAt = s.CreatedAt
	}
	if r.leaderboard != nil && r.state != nil {
		r.leaderboard.Update(r.state)
		info.Leaderboard = r.leaderboard.Top(r.cfg.LeaderboardSize)
	}
	r.info.Store(info)
}
