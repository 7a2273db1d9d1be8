package spatial

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGridDimensions(t *testing.T) {
	tests := []struct {
		name             string
		width, height    float64
		cellSize         float64
		wantCols, wantRw int
	}{
		{"exact multiple", 1024, 512, 256, 4, 2},
		{"partial cell", 1000, 300, 256, 4, 2},
		{"tiny world", 10, 10, 256, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGrid(tt.width, tt.height, tt.cellSize)
			cols, rows, size := g.Dimensions()
			assert.Equal(t, tt.wantCols, cols)
			assert.Equal(t, tt.wantRw, rows)
			assert.Equal(t, tt.cellSize, size)
		})
	}
}

func TestInsertAndCellOf(t *testing.T) {
	g := NewGrid(1024, 1024, 256)

	require.True(t, g.Insert("p1", 300, 10, KindPlayer))
	col, row, ok := g.CellOf("p1", KindPlayer)
	require.True(t, ok)
	assert.Equal(t, 1, col)
	assert.Equal(t, 0, row)

	// Moving re-buckets the entity without duplicating it.
	require.True(t, g.Insert("p1", 900, 900, KindPlayer))
	col, row, _ = g.CellOf("p1", KindPlayer)
	assert.Equal(t, 3, col)
	assert.Equal(t, 3, row)
	assert.Equal(t, 1, g.Len(KindPlayer))

	players, _ := g.QueryRadius(300, 10, 0)
	assert.Empty(t, players)
}

func TestInsertOutOfBoundsDrops(t *testing.T) {
	g := NewGrid(512, 512, 256)

	assert.False(t, g.Insert("f1", -1, 10, KindFood))
	assert.False(t, g.Insert("f2", 10, 512, KindFood))
	assert.Equal(t, 0, g.Len(KindFood))

	// An indexed entity moved out of bounds leaves the grid entirely.
	require.True(t, g.Insert("p1", 10, 10, KindPlayer))
	assert.False(t, g.Insert("p1", 600, 10, KindPlayer))
	assert.False(t, g.Contains("p1", KindPlayer))
}

func TestKindsAreSeparateNamespaces(t *testing.T) {
	g := NewGrid(512, 512, 256)
	g.Insert("x", 10, 10, KindPlayer)
	g.Insert("x", 10, 10, KindFood)

	g.Remove("x", KindPlayer)
	assert.False(t, g.Contains("x", KindPlayer))
	assert.True(t, g.Contains("x", KindFood))
}

func TestRemoveIsIdempotent(t *testing.T) {
	g := NewGrid(512, 512, 256)
	g.Insert("p1", 10, 10, KindPlayer)

	g.Remove("p1", KindPlayer)
	g.Remove("p1", KindPlayer)
	g.Remove("never", KindFood)

	assert.Equal(t, 0, g.Len(KindPlayer))
	players, _ := g.QueryRadius(10, 10, 1)
	assert.Empty(t, players)
}

func TestQueryRadiusRings(t *testing.T) {
	g := NewGrid(2560, 2560, 256)

	// Centre cell (5,5); place entities at Chebyshev distances 0..4.
	for d := 0; d <= 4; d++ {
		x := float64(5+d)*256 + 10
		g.Insert(fmt.Sprintf("p%d", d), x, 5*256+10, KindPlayer)
		g.Insert(fmt.Sprintf("f%d", d), 5*256+10, float64(5-d)*256+10, KindFood)
	}

	players, foods := g.QueryRadius(5*256+128, 5*256+128, 2)
	assert.Equal(t, []string{"p0", "p1", "p2"}, players)
	assert.Equal(t, []string{"f0", "f1", "f2"}, foods)

	players, foods = g.QueryRadius(5*256+128, 5*256+128, 0)
	assert.Equal(t, []string{"p0"}, players)
	assert.Equal(t, []string{"f0"}, foods)

	assert.Equal(t, []string{"f0", "f1", "f2", "f3"}, g.QueryKind(5*256+1, 5*256+1, 3, KindFood))
}

func TestQueryKindCollectsOneKind(t *testing.T) {
	g := NewGrid(1024, 1024, 256)
	g.Insert("b", 300, 300, KindPlayer)
	g.Insert("a", 10, 10, KindPlayer)
	g.Insert("f1", 20, 20, KindFood)
	g.Insert("f2", 900, 900, KindFood)

	assert.Equal(t, []string{"a", "b"}, g.QueryKind(10, 10, 1, KindPlayer))
	assert.Equal(t, []string{"f1"}, g.QueryKind(10, 10, 1, KindFood))
	assert.Nil(t, g.QueryKind(900, 900, 0, KindPlayer))
	assert.Nil(t, g.QueryKind(-1, 10, 1, KindFood))
}

func TestQueryRadiusClampsAtEdges(t *testing.T) {
	g := NewGrid(512, 512, 256)
	g.Insert("a", 1, 1, KindPlayer)
	g.Insert("b", 511, 511, KindPlayer)

	players, _ := g.QueryRadius(1, 1, 5)
	assert.Equal(t, []string{"a", "b"}, players)

	players, foods := g.QueryRadius(-5, 1, 5)
	assert.Nil(t, players)
	assert.Nil(t, foods)
}

func TestRingsFor(t *testing.T) {
	g := NewGrid(1024, 1024, 256)
	assert.Equal(t, 0, g.RingsFor(0))
	assert.Equal(t, 1, g.RingsFor(1))
	assert.Equal(t, 1, g.RingsFor(256))
	assert.Equal(t, 2, g.RingsFor(257))
}

// TestIndexConsistency moves entities randomly and checks that every entity is
// indexed under exactly the cell its position maps to.
func TestIndexConsistency(t *testing.T) {
	g := NewGrid(2000, 1500, 128)
	rng := rand.New(rand.NewSource(7))
	pos := make(map[string][2]float64)

	for step := 0; step < 5000; step++ {
		id := fmt.Sprintf("e%d", rng.Intn(200))
		switch rng.Intn(4) {
		case 0:
			g.Remove(id, KindPlayer)
			delete(pos, id)
		default:
			x, y := rng.Float64()*2000, rng.Float64()*1500
			require.True(t, g.Insert(id, x, y, KindPlayer))
			pos[id] = [2]float64{x, y}
		}
	}

	assert.Equal(t, len(pos), g.Len(KindPlayer))
	for id, p := range pos {
		wantCol, wantRow, ok := g.CellCoords(p[0], p[1])
		require.True(t, ok)
		col, row, ok := g.CellOf(id, KindPlayer)
		require.True(t, ok, id)
		assert.Equal(t, wantCol, col)
		assert.Equal(t, wantRow, row)
	}

	stats := g.Stats()
	assert.Equal(t, len(pos), stats.Players)
	assert.Equal(t, 0, stats.Foods)
}

func BenchmarkGridQueryRadius(b *testing.B) {
	g := NewGrid(4096, 4096, 256)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		g.Insert(fmt.Sprintf("f%d", i), rng.Float64()*4096, rng.Float64()*4096, KindFood)
	}
	for i := 0; i < 50; i++ {
		g.Insert(fmt.Sprintf("p%d", i), rng.Float64()*4096, rng.Float64()*4096, KindPlayer)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		g.QueryRadius(2048, 2048, 3)
	}
}

func BenchmarkGridMove(b *testing.B) {
	g := NewGrid(4096, 4096, 256)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		g.Insert("p", float64(i%4096), float64((i*7)%4096), KindPlayer)
	}
}
