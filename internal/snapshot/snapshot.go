// Package snapshot builds the per-client delta payloads sent on every
// broadcast tick.
package snapshot

// Snapshot is the wire payload for one client and one broadcast tick.
// Absent sections mean "unchanged", never "empty".
type Snapshot struct {
	T    int64                  `json:"t"` // server time, unix milliseconds
	Tick uint64                 `json:"tick"`
	You  *Self                  `json:"you,omitempty"`
	Ps   map[string]PlayerDelta `json:"ps,omitempty"`
	Fs   map[string]FoodDelta   `json:"fs,omitempty"`
	Rm   []string               `json:"rm,omitempty"`
	Cols []Collision            `json:"cols,omitempty"`
}

// Self is the receiving player's own state. It is never suppressed.
type Self struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	R    float64 `json:"r"`
	Seq  uint64  `json:"seq"` // last accepted input sequence
	Dead bool    `json:"dead,omitempty"`
}

// PlayerDelta describes another player. C, N and Alive are only set the
// first time the client learns about the player.
type PlayerDelta struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	R     float64 `json:"r"`
	C     string  `json:"c,omitempty"`
	N     string  `json:"n,omitempty"`
	Alive *bool   `json:"alive,omitempty"`
}

// FoodDelta describes a food item entering the client's view.
type FoodDelta struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
	T string  `json:"t,omitempty"`
}

// Collision is one elimination.
type Collision struct {
	E string `json:"e"` // eliminated
	R string `json:"r"` // eliminator
}

// Empty reports whether the snapshot carries nothing beyond the mandatory
// header and self state.
func (s *Snapshot) Empty() bool {
	return len(s.Ps) == 0 && len(s.Fs) == 0 && len(s.Rm) == 0 && len(s.Cols) == 0
}
