package game

import (
	"time"

	"blob-battle/internal/game/spatial"
)

// Status is the room lifecycle status reported to clients and the API.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// FoodType distinguishes ordinary pellets from the rarer large ones.
type FoodType string

const (
	FoodNormal FoodType = "normal"
	FoodBig    FoodType = "big"
)

// Food is a static consumable.
type Food struct {
	ID   string   `json:"id"`
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
	Size float64  `json:"size"`
	Type FoodType `json:"type"`
}

// CollisionEvent records one elimination inside a tick.
type CollisionEvent struct {
	Eliminated string `json:"e"`
	Eliminator string `json:"r"`
	Timestamp  int64  `json:"t"` // unix milliseconds
}

// RoomState is the authoritative state of one room. It is owned by exactly
// one goroutine; nothing here is safe for concurrent use.
type RoomState struct {
	ID         string
	Status     Status
	Tick       uint64
	LastTickAt time.Time
	CreatedAt  time.Time
	Players    map[string]*Player
	Foods      map[string]*Food

	// Events holds the eliminations of the most recent tick only.
	Events []CollisionEvent

	Grid *spatial.Grid

	nextID uint64
}

// AlivePlayers counts players still in play.
func (s *RoomState) AlivePlayers() int {
	n := 0
	for _, p := range s.Players {
		if p.Alive {
			n++
		}
	}
	return n
}
