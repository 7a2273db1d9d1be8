package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func playerIDs(ps []*Player) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func foodIDs(fs []*Food) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestVisibleToUsesRings(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())

	viewer := e.AddPlayer(room, "viewer", "v", "#ffffff")
	near := e.AddPlayer(room, "near", "n", "#ffffff")
	edge := e.AddPlayer(room, "edge", "e", "#ffffff")
	far := e.AddPlayer(room, "far", "f", "#ffffff")
	dead := e.AddPlayer(room, "dead", "d", "#ffffff")

	place(room, viewer, 1000, 1000) // cell (3,3)
	place(room, near, 1300, 1000)   // cell (5,3)
	place(room, edge, 1800, 1900)   // cell (7,7), four rings out
	place(room, far, 3000, 1000)    // cell (11,3)
	place(room, dead, 1010, 1000)
	dead.Alive = false

	addFood(room, "f-near", 1100, 1100, 5)
	addFood(room, "f-far", 3500, 3500, 5)

	players, foods := e.VisibleTo(room, "viewer")
	assert.Equal(t, []string{"near"}, playerIDs(players))
	assert.Equal(t, []string{"f-near"}, foodIDs(foods))
}

func TestVisibleToIncludesThirdRing(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	viewer := e.AddPlayer(room, "viewer", "v", "#ffffff")
	other := e.AddPlayer(room, "other", "o", "#ffffff")
	place(room, viewer, 100, 100)  // cell (0,0)
	place(room, other, 1000, 1000) // cell (3,3)

	players, _ := e.VisibleTo(room, "viewer")
	assert.Equal(t, []string{"other"}, playerIDs(players))

	place(room, other, 1030, 100) // cell (4,0)
	players, _ = e.VisibleTo(room, "viewer")
	assert.Empty(t, players)
}

func TestVisibleToUnknownOrEliminatedViewer(t *testing.T) {
	e, room := newTestRoom(t, testSimulation())
	p := e.AddPlayer(room, "p1", "a", "#ffffff")

	players, foods := e.VisibleTo(room, "ghost")
	assert.Nil(t, players)
	assert.Nil(t, foods)

	p.Alive = false
	players, foods = e.VisibleTo(room, "p1")
	assert.Nil(t, players)
	assert.Nil(t, foods)
}
