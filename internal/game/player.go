package game

import (
	"math"
	"time"
)

// Input is one movement command from a client.
// Seq must be strictly increasing per player; the first accepted Seq is 1.
type Input struct {
	Seq       uint64  `json:"seq"`
	Timestamp int64   `json:"t"`
	DX        float64 `json:"dx"`
	DY        float64 `json:"dy"`
	Act       uint8   `json:"act,omitempty"` // bit 1: boost (reserved)
}

// ActBoost is the reserved boost bit of Input.Act.
const ActBoost uint8 = 1 << 0

// Finite reports whether every numeric field can safely reach physics state.
func (in Input) Finite() bool {
	return !math.IsNaN(in.DX) && !math.IsInf(in.DX, 0) &&
		!math.IsNaN(in.DY) && !math.IsInf(in.DY, 0)
}

// Player is one participant inside a room.
type Player struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Size  float64 `json:"size"` // also the collision radius
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Alive bool    `json:"alive"`

	LastSeq  uint64    `json:"lastSeq"`
	JoinedAt time.Time `json:"joinedAt"`

	history inputRing
}

// Radius is the collision radius.
func (p *Player) Radius() float64 { return p.Size }

// Speed returns the velocity magnitude.
func (p *Player) Speed() float64 { return math.Hypot(p.VX, p.VY) }

// History returns the buffered inputs, oldest first.
func (p *Player) History() []Input { return p.history.slice() }

// inputRing is a bounded buffer that drops the oldest input when full.
type inputRing struct {
	buf   []Input
	start int
	n     int
}

func newInputRing(capacity int) inputRing {
	if capacity < 1 {
		capacity = 1
	}
	return inputRing{buf: make([]Input, capacity)}
}

func (r *inputRing) push(in Input) {
	if len(r.buf) == 0 {
		*r = newInputRing(1)
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = in
		r.n++
		return
	}
	r.buf[r.start] = in
	r.start = (r.start + 1) % len(r.buf)
}

func (r *inputRing) slice() []Input {
	out := make([]Input, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

var playerColors = []string{
	"#ff6b6b", "#4ecdc4", "#45b7d1", "#96ceb4",
	"#ffeaa7", "#fd79a8", "#00b894", "#6c5ce7",
	"#fdcb6e", "#e17055", "#00cec9", "#a29bfe",
}

// PaletteColor picks a palette color deterministically from n.
func PaletteColor(n int) string {
	if n < 0 {
		n = -n
	}
	return playerColors[n%len(playerColors)]
}
