package room

import (
	"time"

	"blob-battle/internal/game"
)

// Transport delivers room output to clients. Implementations must not block
// the caller; undeliverable messages are dropped.
type Transport interface {
	EmitToPlayer(roomID, playerID, event string, payload any)
	EmitToRoom(roomID, event string, payload any)
}

// Outbound event names.
const (
	EventSnapshot         = "snapshot"
	EventPlayerJoined     = "playerJoined"
	EventPlayerLeft       = "playerLeft"
	EventPlayerKicked     = "playerKicked"
	EventPlayerEliminated = "playerEliminated"
	EventPlayerRespawned  = "playerRespawned"
	EventLeaderboard      = "leaderboard"
	EventRoomClosed       = "roomClosed"
)

// Reasons carried by RoomNotice.
const (
	CloseStopped = "stopped"
	CloseEmpty   = "empty"
	CloseFailed  = "failed"
)

// RoomNotice is the payload of roomClosed. It is the last event a room
// emits; transports drop every binding to the room when they see it.
type RoomNotice struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// PlayerNotice is the payload of join/leave/kick/respawn notifications.
type PlayerNotice struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EliminationNotice is the payload of playerEliminated.
type EliminationNotice struct {
	ID string `json:"id"`
	By string `json:"by"`
}

// JoinResult describes the newly spawned player.
type JoinResult struct {
	RoomID    string  `json:"roomId"`
	PlayerID  string  `json:"playerId"`
	Tick      uint64  `json:"tick"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Size      float64 `json:"size"`
	Color     string  `json:"color"`
	MapWidth  float64 `json:"mapWidth"`
	MapHeight float64 `json:"mapHeight"`
}

// Info is a read-only view of a room, refreshed by the room loop.
type Info struct {
	ID          string                  `json:"id"`
	Status      game.Status             `json:"status"`
	Players     int                     `json:"players"`
	Alive       int                     `json:"alive"`
	Foods       int                     `json:"foods"`
	Tick        uint64                  `json:"tick"`
	CreatedAt   time.Time               `json:"createdAt"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

// Stats summarises the manager.
type Stats struct {
	Rooms             int `json:"rooms"`
	Players           int `json:"players"`
	MaxRooms          int `json:"maxRooms"`
	MaxPlayersPerRoom int `json:"maxPlayersPerRoom"`
}

// Inbox commands. Only the room goroutine reads them.

type joinCmd struct {
	playerID string
	name     string
	color    string
	reply    chan<- joinReply
}

type joinReply struct {
	result JoinResult
	err    error
}

type leaveCmd struct {
	playerID string
}

type inputCmd struct {
	playerID string
	input    game.Input
}

type ackCmd struct {
	playerID string
	tick     uint64
}

type respawnCmd struct {
	playerID string
}

// graceCmd is posted by the empty-room timer.
type graceCmd struct{}
