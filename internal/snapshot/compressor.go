package snapshot

import (
	"math"
	"sort"

	"blob-battle/internal/config"
	"blob-battle/internal/game"
)

// Compressor keeps per-client knowledge and turns AOI query results into
// minimal deltas. It belongs to one room and is not safe for concurrent use.
type Compressor struct {
	epsilon float64
	scale   float64
	clients map[string]*clientState
}

type clientState struct {
	players     map[string]reported
	foods       map[string]struct{}
	lastAckTick uint64
}

// reported is the unrounded state last sent for a player.
type reported struct {
	x, y, r float64
}

// NewCompressor creates a compressor with no tracked clients.
func NewCompressor(cfg config.SnapshotConfig) *Compressor {
	return &Compressor{
		epsilon: cfg.Epsilon,
		scale:   math.Pow(10, float64(cfg.Precision)),
		clients: make(map[string]*clientState),
	}
}

func newClientState() *clientState {
	return &clientState{
		players: make(map[string]reported),
		foods:   make(map[string]struct{}),
	}
}

// AddClient registers a client with no prior knowledge. It is a no-op for
// an existing client.
func (c *Compressor) AddClient(id string) {
	if _, ok := c.clients[id]; !ok {
		c.clients[id] = newClientState()
	}
}

// ResetClient forgets what the client knows so its next snapshot is a full
// AOI dump.
func (c *Compressor) ResetClient(id string) {
	if cs, ok := c.clients[id]; ok {
		ack := cs.lastAckTick
		c.clients[id] = newClientState()
		c.clients[id].lastAckTick = ack
	}
}

// RemoveClient drops all state held for the client.
func (c *Compressor) RemoveClient(id string) {
	delete(c.clients, id)
}

// AcknowledgeClient records the newest tick the client has applied. Older
// acks are ignored. Returns false for unknown clients.
func (c *Compressor) AcknowledgeClient(id string, tick uint64) bool {
	cs, ok := c.clients[id]
	if !ok {
		return false
	}
	if tick > cs.lastAckTick {
		cs.lastAckTick = tick
	}
	return true
}

// LastAck returns the last acknowledged tick of a client.
func (c *Compressor) LastAck(id string) (uint64, bool) {
	cs, ok := c.clients[id]
	if !ok {
		return 0, false
	}
	return cs.lastAckTick, true
}

// Clients returns the number of tracked clients.
func (c *Compressor) Clients() int { return len(c.clients) }

// BuildClientSnapshot produces the delta for one client. self may be nil
// when the receiving player is no longer in the room; events are copied
// verbatim. A client seen for the first time is registered implicitly.
func (c *Compressor) BuildClientSnapshot(
	clientID string,
	self *game.Player,
	tick uint64,
	timestamp int64,
	players []*game.Player,
	foods []*game.Food,
	events []game.CollisionEvent,
) *Snapshot {
	cs, ok := c.clients[clientID]
	if !ok {
		cs = newClientState()
		c.clients[clientID] = cs
	}

	snap := &Snapshot{T: timestamp, Tick: tick}
	if self != nil {
		snap.You = &Self{
			X:    c.round(self.X),
			Y:    c.round(self.Y),
			R:    c.round(self.Size),
			Seq:  self.LastSeq,
			Dead: !self.Alive,
		}
	}

	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if p.ID == clientID {
			continue
		}
		seen[p.ID] = struct{}{}

		now := reported{x: p.X, y: p.Y, r: p.Size}
		last, known := cs.players[p.ID]
		if known && !c.changed(last, now) {
			continue
		}

		d := PlayerDelta{X: c.round(p.X), Y: c.round(p.Y), R: c.round(p.Size)}
		if !known {
			alive := p.Alive
			d.C = p.Color
			d.N = p.Name
			d.Alive = &alive
		}
		if snap.Ps == nil {
			snap.Ps = make(map[string]PlayerDelta)
		}
		snap.Ps[p.ID] = d
		cs.players[p.ID] = now
	}
	for id := range cs.players {
		if _, ok := seen[id]; !ok {
			snap.Rm = append(snap.Rm, id)
			delete(cs.players, id)
		}
	}

	seenFood := make(map[string]struct{}, len(foods))
	for _, f := range foods {
		seenFood[f.ID] = struct{}{}
		if _, known := cs.foods[f.ID]; known {
			continue
		}
		if snap.Fs == nil {
			snap.Fs = make(map[string]FoodDelta)
		}
		snap.Fs[f.ID] = FoodDelta{X: c.round(f.X), Y: c.round(f.Y), R: c.round(f.Size), T: string(f.Type)}
		cs.foods[f.ID] = struct{}{}
	}
	for id := range cs.foods {
		if _, ok := seenFood[id]; !ok {
			snap.Rm = append(snap.Rm, id)
			delete(cs.foods, id)
		}
	}
	sort.Strings(snap.Rm)

	if len(events) > 0 {
		snap.Cols = make([]Collision, len(events))
		for i, ev := range events {
			snap.Cols[i] = Collision{E: ev.Eliminated, R: ev.Eliminator}
		}
	}
	return snap
}

func (c *Compressor) changed(last, now reported) bool {
	return math.Abs(now.x-last.x) > c.epsilon ||
		math.Abs(now.y-last.y) > c.epsilon ||
		math.Abs(now.r-last.r) > c.epsilon
}

func (c *Compressor) round(v float64) float64 {
	return math.Round(v*c.scale) / c.scale
}
