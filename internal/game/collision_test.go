package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blob-battle/internal/config"
	"blob-battle/internal/game/spatial"
)

func TestEliminationAbsorbsSmaller(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	clock := time.UnixMilli(1700000000123)
	e.SetClock(func() time.Time { return clock })

	p1 := e.AddPlayer(room, "p1", "big", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "small", "#00ff00")
	p1.Size = 22.5 // strictly more than 20 * 1.1
	place(room, p1, 1000, 1000)
	place(room, p2, 1010, 1000)

	e.Tick(room, 0.05)

	assert.True(t, p1.Alive)
	assert.False(t, p2.Alive)
	assert.InDelta(t, 38.5, p1.Size, 1e-9)
	assert.False(t, room.Grid.Contains("p2", spatial.KindPlayer))
	require.Len(t, room.Events, 1)
	assert.Equal(t, CollisionEvent{Eliminated: "p2", Eliminator: "p1", Timestamp: 1700000000123}, room.Events[0])
}

func TestEliminationWorksFromEitherSide(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())

	// The smaller player sorts first, so the pair is found from its query.
	small := e.AddPlayer(room, "a", "small", "#00ff00")
	big := e.AddPlayer(room, "b", "big", "#ff0000")
	big.Size = 30
	place(room, small, 500, 500)
	place(room, big, 505, 505)

	e.Tick(room, 0.05)

	assert.False(t, small.Alive)
	assert.True(t, big.Alive)
	assert.InDelta(t, 46.0, big.Size, 1e-9)
	require.Len(t, room.Events, 1)
	assert.Equal(t, "b", room.Events[0].Eliminator)
}

func TestRatioAtThresholdBounces(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p1 := e.AddPlayer(room, "p1", "a", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "b", "#00ff00")
	p1.Size = 22 // exactly 1.1x is not enough
	place(room, p1, 1000, 1000)
	place(room, p2, 1010, 1000)

	e.Tick(room, 0.05)

	assert.True(t, p1.Alive)
	assert.True(t, p2.Alive)
	assert.Empty(t, room.Events)
	assert.Equal(t, 22.0, p1.Size)
	assert.Equal(t, 20.0, p2.Size)
}

func TestSimilarSizesSeparateOnce(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p1 := e.AddPlayer(room, "p1", "a", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "b", "#00ff00")
	p2.Size = 21
	place(room, p1, 1000, 1000)
	place(room, p2, 1010, 1000)

	e.Tick(room, 0.05)

	// One push of 2 units each; a second evaluation of the pair would double it.
	assert.InDelta(t, 998.0, p1.X, 1e-9)
	assert.InDelta(t, 1012.0, p2.X, 1e-9)
	assert.Equal(t, 1000.0, p1.Y)
	assert.Equal(t, 1000.0, p2.Y)
	assert.Empty(t, room.Events)

	_, _, ok := room.Grid.CellOf("p1", spatial.KindPlayer)
	assert.True(t, ok)
}

func TestCoincidentPlayersSeparateAlongX(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p1 := e.AddPlayer(room, "p1", "a", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "b", "#00ff00")
	place(room, p1, 1000, 1000)
	place(room, p2, 1000, 1000)

	e.Tick(room, 0.05)

	assert.InDelta(t, 998.0, p1.X, 1e-9)
	assert.InDelta(t, 1002.0, p2.X, 1e-9)
}

func TestNoContactWhenApart(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p1 := e.AddPlayer(room, "p1", "a", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "b", "#00ff00")
	p1.Size = 40
	place(room, p1, 1000, 1000)
	place(room, p2, 1031, 1000) // (40+20)/2 = 30

	e.Tick(room, 0.05)

	assert.True(t, p2.Alive)
	assert.Equal(t, 1031.0, p2.X)
	assert.Empty(t, room.Events)
}

func TestEliminatedPlayersAreInert(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p1 := e.AddPlayer(room, "p1", "a", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "b", "#00ff00")
	p1.Size = 60
	place(room, p1, 1000, 1000)
	place(room, p2, 1000, 1000)
	p2.Alive = false
	p2.VX = 100
	room.Grid.Remove("p2", spatial.KindPlayer)

	e.Tick(room, 0.05)

	assert.Empty(t, room.Events)
	assert.Equal(t, 60.0, p1.Size)
	assert.Equal(t, 1000.0, p2.X, "eliminated players do not integrate")
}

func TestEventsResetEachTick(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p1 := e.AddPlayer(room, "p1", "a", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "b", "#00ff00")
	p1.Size = 50
	place(room, p1, 1000, 1000)
	place(room, p2, 1005, 1000)

	e.Tick(room, 0.05)
	require.Len(t, room.Events, 1)

	e.Tick(room, 0.05)
	assert.Empty(t, room.Events)
}

func TestGrowthNearWallIsClamped(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p1 := e.AddPlayer(room, "p1", "a", "#ff0000")
	p2 := e.AddPlayer(room, "p2", "b", "#00ff00")
	p1.Size = 30
	place(room, p1, 30, 1000)
	place(room, p2, 35, 1000)

	e.Tick(room, 0.05)

	require.False(t, p2.Alive)
	assert.InDelta(t, 46.0, p1.Size, 1e-9)
	assert.GreaterOrEqual(t, p1.X, p1.Size)
	col, _, ok := room.Grid.CellOf("p1", spatial.KindPlayer)
	require.True(t, ok)
	assert.Equal(t, 0, col)
}

// clearFood drops every pellet inside the rectangle.
func clearFood(room *RoomState, minX, minY, maxX, maxY float64) {
	for id, f := range room.Foods {
		if f.X >= minX && f.X <= maxX && f.Y >= minY && f.Y <= maxY {
			delete(room.Foods, id)
			room.Grid.Remove(id, spatial.KindFood)
		}
	}
}

func TestChaseEatAndEliminate(t *testing.T) {
	cfg := config.DefaultSimulation()
	cfg.FoodTarget = 500
	e, room := newTestRoom(t, cfg)
	require.Len(t, room.Foods, 500)

	hunter := e.AddPlayer(room, "p1", "hunter", "#ff0000")
	prey := e.AddPlayer(room, "p2", "prey", "#00ff00")
	require.Equal(t, 20.0, hunter.Size)
	require.Equal(t, 20.0, prey.Size)

	// An empty corridor with six pellets between the two blobs.
	clearFood(room, 250, 940, 760, 1060)
	place(room, hunter, 300, 1000)
	place(room, prey, 700, 1000)
	pellets := []string{"trail-1", "trail-2", "trail-3", "trail-4", "trail-5", "trail-6"}
	for i, id := range pellets {
		addFood(room, id, 340+40*float64(i), 1000, 5)
	}

	var events []CollisionEvent
	var hunterBefore, preyBefore float64
	for seq := uint64(1); seq <= 100 && len(events) == 0; seq++ {
		hunterBefore, preyBefore = hunter.Size, prey.Size
		require.NoError(t, e.ProcessInput(room, "p1", Input{Seq: seq, DX: 1}))
		e.Tick(room, 0.05)
		events = append(events, room.Events...)
	}

	for _, id := range pellets {
		assert.NotContains(t, room.Foods, id)
	}
	assert.Greater(t, hunterBefore, 22.0, "six pellets carry the hunter past the elimination ratio")
	assert.Equal(t, 20.0, preyBefore)

	require.Len(t, events, 1)
	assert.Equal(t, "p2", events[0].Eliminated)
	assert.Equal(t, "p1", events[0].Eliminator)
	assert.False(t, prey.Alive)
	assert.True(t, hunter.Alive)
	assert.InDelta(t, hunterBefore+16, hunter.Size, 1e-9)

	// the eliminated blob stays out of later ticks
	e.Tick(room, 0.05)
	assert.Empty(t, room.Events)
}
