// Package spatial provides the uniform grid used for collision broad-phase
// and area-of-interest queries.
//
// The grid is owned by a single room goroutine and performs no locking.
package spatial

import (
	"math"
	"sort"
)

// Kind separates entity ID namespaces inside a cell.
type Kind uint8

const (
	KindPlayer Kind = iota
	KindFood
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindFood:
		return "food"
	default:
		return "unknown"
	}
}

type entityKey struct {
	id   string
	kind Kind
}

// cell is one bucket of the grid. Sets are allocated lazily so that a mostly
// empty map does not pay for thousands of idle maps.
type cell struct {
	players map[string]struct{}
	foods   map[string]struct{}
}

func (c *cell) set(kind Kind, create bool) map[string]struct{} {
	switch kind {
	case KindPlayer:
		if c.players == nil && create {
			c.players = make(map[string]struct{}, 4)
		}
		return c.players
	default:
		if c.foods == nil && create {
			c.foods = make(map[string]struct{}, 8)
		}
		return c.foods
	}
}

// Grid maps cells keyed by (floor(x/cellSize), floor(y/cellSize)) to the
// players and food located there.
//
// Every entity's last cell is tracked so Remove is O(1) instead of a scan
// over all cells. Positions outside [0,width)x[0,height) are dropped.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col])
type Grid struct {
	cellSize    float64
	invCellSize float64
	cols, rows  int
	cells       []cell
	where       map[entityKey]int // entity -> cell index
	counts      [2]int
}

// NewGrid creates a grid covering a width x height world.
func NewGrid(width, height, cellSize float64) *Grid {
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       make([]cell, cols*rows),
		where:       make(map[entityKey]int),
	}
}

// CellCoords returns the integer cell coordinates covering (x, y).
// ok is false when the position lies outside the grid.
func (g *Grid) CellCoords(x, y float64) (col, row int, ok bool) {
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 {
		return 0, 0, false
	}
	col = int(math.Floor(x * g.invCellSize))
	row = int(math.Floor(y * g.invCellSize))
	if col >= g.cols || row >= g.rows {
		return 0, 0, false
	}
	return col, row, true
}

// Insert places the entity into the cell covering (x, y). An entity already
// in the grid is moved. Returns false, leaving the entity out of the grid,
// when the position is out of bounds.
func (g *Grid) Insert(id string, x, y float64, kind Kind) bool {
	col, row, ok := g.CellCoords(x, y)
	if !ok {
		g.Remove(id, kind)
		return false
	}
	idx := row*g.cols + col
	key := entityKey{id: id, kind: kind}

	if prev, exists := g.where[key]; exists {
		if prev == idx {
			return true
		}
		delete(g.cells[prev].set(kind, false), id)
		g.counts[kind]--
	}

	g.cells[idx].set(kind, true)[id] = struct{}{}
	g.where[key] = idx
	g.counts[kind]++
	return true
}

// Remove deletes the entity from its tracked cell. Removing an absent entity
// is a no-op.
func (g *Grid) Remove(id string, kind Kind) {
	key := entityKey{id: id, kind: kind}
	idx, ok := g.where[key]
	if !ok {
		return
	}
	delete(g.cells[idx].set(kind, false), id)
	delete(g.where, key)
	g.counts[kind]--
}

// Contains reports whether the entity is currently indexed.
func (g *Grid) Contains(id string, kind Kind) bool {
	_, ok := g.where[entityKey{id: id, kind: kind}]
	return ok
}

// CellOf returns the cell coordinates the entity is indexed under.
func (g *Grid) CellOf(id string, kind Kind) (col, row int, ok bool) {
	idx, ok := g.where[entityKey{id: id, kind: kind}]
	if !ok {
		return 0, 0, false
	}
	return idx % g.cols, idx / g.cols, true
}

// QueryRadius returns the IDs in every cell within rings (Chebyshev distance)
// of the cell containing (x, y). Candidates may lie outside any Euclidean
// radius; callers perform the narrow-phase distance check.
//
// Results are sorted so that iteration order is deterministic.
func (g *Grid) QueryRadius(x, y float64, rings int) (players, foods []string) {
	return g.QueryKind(x, y, rings, KindPlayer), g.QueryKind(x, y, rings, KindFood)
}

// QueryKind is QueryRadius restricted to one entity kind. Only that kind is
// collected and sorted.
func (g *Grid) QueryKind(x, y float64, rings int, kind Kind) []string {
	col, row, ok := g.CellCoords(x, y)
	if !ok {
		return nil
	}
	if rings < 0 {
		rings = 0
	}

	minCol, maxCol := clampRange(col-rings, col+rings, g.cols)
	minRow, maxRow := clampRange(row-rings, row+rings, g.rows)

	var ids []string
	for r := minRow; r <= maxRow; r++ {
		for c := minCol; c <= maxCol; c++ {
			for id := range g.cells[r*g.cols+c].set(kind, false) {
				ids = append(ids, id)
			}
		}
	}

	sort.Strings(ids)
	return ids
}

// RingsFor returns the smallest ring count whose coverage is at least
// distance world units from any point of the centre cell.
func (g *Grid) RingsFor(distance float64) int {
	if distance <= 0 {
		return 0
	}
	return int(math.Ceil(distance * g.invCellSize))
}

// Len returns how many entities of kind are indexed.
func (g *Grid) Len(kind Kind) int {
	return g.counts[kind]
}

// Clear removes every entity.
func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = cell{}
	}
	g.where = make(map[entityKey]int)
	g.counts = [2]int{}
}

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	return lo, hi
}

// Stats returns grid statistics for debugging/profiling.
func (g *Grid) Stats() GridStats {
	var maxInCell, nonEmpty int
	for i := range g.cells {
		count := len(g.cells[i].players) + len(g.cells[i].foods)
		if count > maxInCell {
			maxInCell = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	total := g.counts[KindPlayer] + g.counts[KindFood]
	avgPerCell := 0.0
	if nonEmpty > 0 {
		avgPerCell = float64(total) / float64(nonEmpty)
	}

	return GridStats{
		TotalCells:     len(g.cells),
		NonEmptyCells:  nonEmpty,
		Players:        g.counts[KindPlayer],
		Foods:          g.counts[KindFood],
		MaxInCell:      maxInCell,
		AvgPerNonEmpty: avgPerCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells     int
	NonEmptyCells  int
	Players        int
	Foods          int
	MaxInCell      int
	AvgPerNonEmpty float64
}

// Dimensions returns the grid dimensions.
func (g *Grid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}
