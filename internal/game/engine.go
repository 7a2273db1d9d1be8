package game

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"blob-battle/internal/config"
	"blob-battle/internal/game/spatial"
)

// Input rejection reasons returned by ProcessInput.
var (
	ErrNoPlayer   = errors.New("player not in room")
	ErrEliminated = errors.New("player eliminated")
	ErrStaleInput = errors.New("input sequence does not advance")
	ErrNonFinite  = errors.New("input direction not finite")
)

// Engine advances RoomState. An Engine carries its own RNG and must be used
// by a single goroutine; rooms each get their own Engine.
type Engine struct {
	cfg         config.SimulationConfig
	rng         *rand.Rand
	now         func() time.Time
	maxFoodSize float64
}

// NewEngine creates an engine for the given tuning. seed makes spawn
// positions reproducible in tests.
func NewEngine(cfg config.SimulationConfig, seed int64) *Engine {
	return &Engine{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
		maxFoodSize: math.Max(cfg.FoodSize, cfg.BigFoodSize) * 1.2,
	}
}

// SetClock replaces the wall clock.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Config returns the tuning the engine was built with.
func (e *Engine) Config() config.SimulationConfig { return e.cfg }

// InitializeRoom allocates the food population and returns an empty room.
func (e *Engine) InitializeRoom(id string) *RoomState {
	room := &RoomState{
		ID:        id,
		Status:    StatusWaiting,
		CreatedAt: e.now(),
		Players:   make(map[string]*Player),
		Foods:     make(map[string]*Food, e.cfg.FoodTarget),
		Grid:      spatial.NewGrid(e.cfg.MapWidth, e.cfg.MapHeight, e.cfg.CellSize),
	}
	for i := 0; i < e.cfg.FoodTarget; i++ {
		e.spawnFood(room)
	}
	return room
}

// AddPlayer spawns a player at a random in-bounds position with base size.
// Capacity is not checked here. An existing ID returns the existing player.
func (e *Engine) AddPlayer(room *RoomState, id, name, color string) *Player {
	if room == nil || id == "" {
		return nil
	}
	if existing, ok := room.Players[id]; ok {
		return existing
	}

	p := &Player{
		ID:       id,
		Name:     name,
		Color:    color,
		Size:     math.Max(e.cfg.BaseSize, e.cfg.MinSize),
		Alive:    true,
		JoinedAt: e.now(),
		history:  newInputRing(e.cfg.InputHistory),
	}
	p.X, p.Y = e.randomPosition(p.Size)
	room.Players[id] = p
	room.Grid.Insert(id, p.X, p.Y, spatial.KindPlayer)
	return p
}

// RemovePlayer deletes the player from the index and the player map.
// Returns false when the player was not present.
func (e *Engine) RemovePlayer(room *RoomState, id string) bool {
	if room == nil {
		return false
	}
	if _, ok := room.Players[id]; !ok {
		return false
	}
	room.Grid.Remove(id, spatial.KindPlayer)
	delete(room.Players, id)
	return true
}

// RespawnPlayer brings an eliminated player back with base size.
// Alive or unknown players are left untouched.
func (e *Engine) RespawnPlayer(room *RoomState, id string) bool {
	if room == nil {
		return false
	}
	p, ok := room.Players[id]
	if !ok || p.Alive {
		return false
	}
	p.Size = math.Max(e.cfg.BaseSize, e.cfg.MinSize)
	p.VX, p.VY = 0, 0
	p.X, p.Y = e.randomPosition(p.Size)
	p.Alive = true
	room.Grid.Insert(id, p.X, p.Y, spatial.KindPlayer)
	return true
}

// SpeedCap is the maximum velocity magnitude for a blob of the given size.
// Larger blobs are slower, down to MinSpeedRatio of BaseSpeed.
func (e *Engine) SpeedCap(size float64) float64 {
	ratio := 1 - (size-e.cfg.SpeedThresholdSize)*e.cfg.SpeedReduction
	ratio = math.Min(1, math.Max(e.cfg.MinSpeedRatio, ratio))
	return e.cfg.BaseSpeed * ratio
}

// ProcessInput applies a movement command. It is rejected when the player is
// absent or eliminated, when Seq does not advance, or when the direction is
// not finite; rejection leaves all state untouched.
func (e *Engine) ProcessInput(room *RoomState, id string, in Input) error {
	if room == nil {
		return ErrNoPlayer
	}
	p, ok := room.Players[id]
	if !ok {
		return ErrNoPlayer
	}
	if !p.Alive {
		return ErrEliminated
	}
	if in.Seq <= p.LastSeq {
		return ErrStaleInput
	}
	if !in.Finite() {
		return ErrNonFinite
	}

	dx := clamp(in.DX, -1, 1)
	dy := clamp(in.DY, -1, 1)
	speed := e.SpeedCap(p.Size)
	p.VX = dx * speed
	p.VY = dy * speed
	e.capVelocity(p)

	p.LastSeq = in.Seq
	in.DX, in.DY = dx, dy
	p.history.push(in)
	return nil
}

// Tick advances the room by dt seconds.
func (e *Engine) Tick(room *RoomState, dt float64) {
	if room == nil {
		return
	}
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		dt = 0
	}

	room.Tick++
	room.LastTickAt = e.now()
	room.Events = room.Events[:0]

	order := sortedAlive(room)

	for _, p := range order {
		room.Grid.Remove(p.ID, spatial.KindPlayer)
		p.X += p.VX * dt
		p.Y += p.VY * dt
		p.VX *= e.cfg.Damping
		p.VY *= e.cfg.Damping
		e.capVelocity(p)
		e.clampToMap(p)
		room.Grid.Insert(p.ID, p.X, p.Y, spatial.KindPlayer)
	}

	e.resolveFood(room, order)
	e.resolvePlayers(room, order)

	// Growth can push a blob's edge past the wall.
	for _, p := range order {
		if p.Alive && e.clampToMap(p) {
			room.Grid.Insert(p.ID, p.X, p.Y, spatial.KindPlayer)
		}
	}

	e.topUpFood(room)
}

// grow adds size and re-applies the speed cap for the new size.
func (e *Engine) grow(p *Player, amount float64) {
	p.Size += amount
	if p.Size < e.cfg.MinSize {
		p.Size = e.cfg.MinSize
	}
	e.capVelocity(p)
}

// capVelocity rescales velocity down to the cap; it never scales up.
func (e *Engine) capVelocity(p *Player) {
	limit := e.SpeedCap(p.Size)
	mag := math.Hypot(p.VX, p.VY)
	if mag > limit && mag > 0 {
		scale := limit / mag
		p.VX *= scale
		p.VY *= scale
	}
}

// clampToMap keeps the blob inside [r, W-r] x [r, H-r], zeroing the velocity
// component that pushed it out. It reports whether the position changed.
func (e *Engine) clampToMap(p *Player) bool {
	moved := false
	r := p.Size
	if lo, hi := boundsFor(r, e.cfg.MapWidth); p.X < lo {
		p.X, p.VX, moved = lo, 0, true
	} else if p.X > hi {
		p.X, p.VX, moved = hi, 0, true
	}
	if lo, hi := boundsFor(r, e.cfg.MapHeight); p.Y < lo {
		p.Y, p.VY, moved = lo, 0, true
	} else if p.Y > hi {
		p.Y, p.VY, moved = hi, 0, true
	}
	return moved
}

// boundsFor returns the legal centre range along one axis. A blob wider than
// the map is pinned to its centre.
func boundsFor(r, extent float64) (lo, hi float64) {
	if 2*r >= extent {
		return extent / 2, extent / 2
	}
	return r, extent - r
}

func (e *Engine) randomPosition(r float64) (x, y float64) {
	loX, hiX := boundsFor(r, e.cfg.MapWidth)
	loY, hiY := boundsFor(r, e.cfg.MapHeight)
	return loX + e.rng.Float64()*(hiX-loX), loY + e.rng.Float64()*(hiY-loY)
}

func (e *Engine) spawnFood(room *RoomState) *Food {
	room.nextID++
	f := &Food{
		ID:   fmt.Sprintf("f%d", room.nextID),
		Type: FoodNormal,
	}
	base := e.cfg.FoodSize
	if e.rng.Float64() < e.cfg.BigFoodChance {
		f.Type = FoodBig
		base = e.cfg.BigFoodSize
	}
	f.Size = base * (0.8 + 0.4*e.rng.Float64())
	f.X = f.Size + e.rng.Float64()*(e.cfg.MapWidth-2*f.Size)
	f.Y = f.Size + e.rng.Float64()*(e.cfg.MapHeight-2*f.Size)

	room.Foods[f.ID] = f
	room.Grid.Insert(f.ID, f.X, f.Y, spatial.KindFood)
	return f
}

// topUpFood spawns at most FoodSpawnBatch items toward FoodTarget.
func (e *Engine) topUpFood(room *RoomState) {
	missing := e.cfg.FoodTarget - len(room.Foods)
	if missing > e.cfg.FoodSpawnBatch {
		missing = e.cfg.FoodSpawnBatch
	}
	for i := 0; i < missing; i++ {
		e.spawnFood(room)
	}
}

func sortedAlive(room *RoomState) []*Player {
	out := make([]*Player, 0, len(room.Players))
	for _, p := range room.Players {
		if p.Alive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
