package game

import (
	"math"

	"blob-battle/internal/game/spatial"
)

// resolveFood lets every living player consume food it overlaps.
// Candidates come from the grid; the distance check is exact.
func (e *Engine) resolveFood(room *RoomState, order []*Player) {
	for _, p := range order {
		if !p.Alive {
			continue
		}
		rings := room.Grid.RingsFor(p.Size + e.maxFoodSize)
		for _, id := range room.Grid.QueryKind(p.X, p.Y, rings, spatial.KindFood) {
			f, ok := room.Foods[id]
			if !ok {
				continue
			}
			reach := p.Size + f.Size
			if dist2(p.X, p.Y, f.X, f.Y) >= reach*reach {
				continue
			}
			e.grow(p, f.Size*e.cfg.ConsumptionFactor)
			delete(room.Foods, id)
			room.Grid.Remove(id, spatial.KindFood)
		}
	}
}

type pairKey struct{ a, b string }

func makePair(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// resolvePlayers handles blob-vs-blob overlap. Each unordered pair is
// evaluated at most once per tick.
//
// A player's query covers its own radius, so for any overlapping pair the
// larger member's query always finds the smaller one.
func (e *Engine) resolvePlayers(room *RoomState, order []*Player) {
	seen := make(map[pairKey]struct{})

	for _, a := range order {
		if !a.Alive {
			continue
		}
		rings := room.Grid.RingsFor(a.Size)
		if rings < 1 {
			rings = 1
		}
		for _, id := range room.Grid.QueryKind(a.X, a.Y, rings, spatial.KindPlayer) {
			if id == a.ID {
				continue
			}
			b, ok := room.Players[id]
			if !ok || !b.Alive {
				continue
			}
			key := makePair(a.ID, b.ID)
			if _, done := seen[key]; done {
				continue
			}
			seen[key] = struct{}{}

			d := math.Sqrt(dist2(a.X, a.Y, b.X, b.Y))
			if d >= (a.Size+b.Size)/2 {
				continue
			}
			e.collide(room, a, b, d)
			if !a.Alive {
				break
			}
		}
	}
}

func (e *Engine) collide(room *RoomState, a, b *Player, d float64) {
	switch {
	case a.Size > b.Size*e.cfg.EliminationRatio:
		e.eliminate(room, a, b)
	case b.Size > a.Size*e.cfg.EliminationRatio:
		e.eliminate(room, b, a)
	default:
		e.separate(room, a, b, d)
	}
}

func (e *Engine) eliminate(room *RoomState, winner, loser *Player) {
	e.grow(winner, loser.Size*e.cfg.AbsorptionFactor)
	loser.Alive = false
	loser.VX, loser.VY = 0, 0
	room.Grid.Remove(loser.ID, spatial.KindPlayer)
	room.Events = append(room.Events, CollisionEvent{
		Eliminated: loser.ID,
		Eliminator: winner.ID,
		Timestamp:  room.LastTickAt.UnixMilli(),
	})
}

// separate pushes two similarly sized blobs apart along their connecting line.
func (e *Engine) separate(room *RoomState, a, b *Player, d float64) {
	nx, ny := 1.0, 0.0
	if d > 0 {
		nx = (b.X - a.X) / d
		ny = (b.Y - a.Y) / d
	}
	push := e.cfg.SeparationPush
	a.X -= nx * push
	a.Y -= ny * push
	b.X += nx * push
	b.Y += ny * push

	e.clampToMap(a)
	e.clampToMap(b)
	room.Grid.Insert(a.ID, a.X, a.Y, spatial.KindPlayer)
	room.Grid.Insert(b.ID, b.X, b.Y, spatial.KindPlayer)
}

func dist2(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return dx*dx + dy*dy
}
