package game

import (
	"math/rand"

	"blob-battle/internal/game/ranking"
)

// LeaderboardEntry is one row of the per-room ranking.
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	PlayerID string  `json:"id"`
	Name     string  `json:"name"`
	Size     float64 `json:"size"`
}

// Leaderboard ranks alive players by size.
type Leaderboard struct {
	list  *ranking.SkipList
	names map[string]string
}

// NewLeaderboard returns an empty leaderboard.
func NewLeaderboard() *Leaderboard {
	return &Leaderboard{
		list:  ranking.NewSkipList(rand.Int63()),
		names: make(map[string]string),
	}
}

// Update resyncs the ranking with the room. Eliminated and departed players
// drop out.
func (l *Leaderboard) Update(room *RoomState) {
	for id := range l.names {
		if p, ok := room.Players[id]; !ok || !p.Alive {
			l.list.Remove(id)
			delete(l.names, id)
		}
	}
	for id, p := range room.Players {
		if !p.Alive {
			continue
		}
		l.names[id] = p.Name
		l.list.Upsert(id, p.Size)
	}
}

// Top returns the n largest players.
func (l *Leaderboard) Top(n int) []LeaderboardEntry {
	if n <= 0 {
		return nil
	}
	rows := l.list.Range(1, n)
	out := make([]LeaderboardEntry, len(rows))
	for i, r := range rows {
		out[i] = LeaderboardEntry{
			Rank:     i + 1,
			PlayerID: r.Key,
			Name:     l.names[r.Key],
			Size:     r.Score,
		}
	}
	return out
}

// Rank returns the 1-based position of a player, 0 when unranked.
func (l *Leaderboard) Rank(id string) int { return l.list.Rank(id) }

// Len returns the number of ranked players.
func (l *Leaderboard) Len() int { return l.list.Len() }
