package world

import (
	"fmt"
	"iter"
)

// Occupant is anything the grid can hold. Its stored location always equals
// the cell that holds it.
type Occupant interface {
	comparable
	Location() Pos
	SetLocation(Pos)
}

// Intner draws a uniform index in [0, n).
type Intner interface {
	Intn(n int) int
}

// Grid is a fixed-size zoned grid holding at most one occupant per cell.
// Neighbor cells are precomputed so a neighbor lookup is O(1) per cell, and the
// set of empty cells is maintained incrementally for O(1) relocation.
type Grid[A Occupant] struct {
	width  int
	height int

	zones []Zone
	cells []A
	adj   [][]int // cell index → adjacent cell indices

	empties []int // indices of empty cells, unordered
	emptyAt []int // cell index → position in empties, -1 when occupied
}

// NewGrid lays out zones for a width×height grid and returns it empty.
func NewGrid[A Occupant](width, height int, f ZoneFractions, layout Layout, nb Neighborhood, rnd ZoneRandom) (*Grid[A], error) {
	zones, err := LayoutZones(width, height, f, layout, rnd)
	if err != nil {
		return nil, err
	}
	return NewGridWithZones[A](width, height, zones, nb)
}

// NewGridWithZones builds an empty grid from an explicit row-major zone layout.
func NewGridWithZones[A Occupant](width, height int, zones []Zone, nb Neighborhood) (*Grid[A], error) {
	if width <= 0 {
		return nil, &ConfigError{Field: "width", Value: width, Reason: "must be positive"}
	}
	if height <= 0 {
		return nil, &ConfigError{Field: "height", Value: height, Reason: "must be positive"}
	}
	total := width * height
	if len(zones) != total {
		return nil, &ConfigError{Field: "zones", Value: len(zones), Reason: fmt.Sprintf("need exactly %d labels", total)}
	}
	if nb == nil {
		nb = Moore{}
	}

	g := &Grid[A]{
		width:   width,
		height:  height,
		zones:   append([]Zone(nil), zones...),
		cells:   make([]A, total),
		adj:     make([][]int, total),
		empties: make([]int, total),
		emptyAt: make([]int, total),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			for _, q := range nb.Adjacent(Pos{X: x, Y: y}, width, height) {
				g.adj[i] = append(g.adj[i], g.index(q))
			}
			g.empties[i] = i
			g.emptyAt[i] = i
		}
	}
	return g, nil
}

// Width returns the number of columns.
func (g *Grid[A]) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid[A]) Height() int { return g.height }

// Cells returns width × height.
func (g *Grid[A]) Cells() int { return len(g.cells) }

// Occupied returns the number of cells holding an occupant.
func (g *Grid[A]) Occupied() int { return len(g.cells) - len(g.empties) }

// EmptyCount returns the number of empty cells.
func (g *Grid[A]) EmptyCount() int { return len(g.empties) }

// InBounds reports whether p lies on the grid.
func (g *Grid[A]) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

// PosOf returns the position of a row-major cell index.
func (g *Grid[A]) PosOf(i int) Pos {
	return Pos{X: i % g.width, Y: i / g.width}
}

func (g *Grid[A]) index(p Pos) int {
	return p.Y*g.width + p.X
}

// ZoneAt returns the zone label of the cell at p. It reports false when p
// is off the grid.
func (g *Grid[A]) ZoneAt(p Pos) (Zone, bool) {
	if !g.InBounds(p) {
		return 0, false
	}
	return g.zones[g.index(p)], true
}

// ZoneCounts tallies cells per zone.
func (g *Grid[A]) ZoneCounts() [NumZones]int {
	return CountZones(g.zones)
}

// At returns the occupant of p, if any.
func (g *Grid[A]) At(p Pos) (A, bool) {
	var zero A
	if !g.InBounds(p) {
		return zero, false
	}
	a := g.cells[g.index(p)]
	return a, a != zero
}

// Place puts a at p and sets its location.
func (g *Grid[A]) Place(a A, p Pos) error {
	if !g.InBounds(p) {
		return fmt.Errorf("place at %s: %w", p, ErrOutOfBounds)
	}
	var zero A
	i := g.index(p)
	if g.cells[i] != zero {
		return &OccupiedError{Pos: p}
	}
	g.cells[i] = a
	g.takeEmpty(i)
	a.SetLocation(p)
	return nil
}

// Remove vacates a's cell. It reports false when a is not on the grid.
func (g *Grid[A]) Remove(a A) bool {
	p := a.Location()
	if !g.InBounds(p) {
		return false
	}
	i := g.index(p)
	if g.cells[i] != a {
		return false
	}
	var zero A
	g.cells[i] = zero
	g.addEmpty(i)
	return true
}

// MoveToEmpty relocates a to a cell chosen uniformly among all empty cells.
// With no empty cell it does nothing and reports false.
func (g *Grid[A]) MoveToEmpty(a A, rnd Intner) bool {
	if len(g.empties) == 0 {
		return false
	}
	from := g.index(a.Location())
	to := g.empties[rnd.Intn(len(g.empties))]

	var zero A
	g.takeEmpty(to)
	g.cells[to] = a
	g.cells[from] = zero
	g.addEmpty(from)
	a.SetLocation(g.PosOf(to))
	return true
}

// Neighbors yields the occupants of the cells adjacent to p, skipping empty cells.
// A position off the grid has no neighbors.
func (g *Grid[A]) Neighbors(p Pos) iter.Seq[A] {
	var adj []int
	if g.InBounds(p) {
		adj = g.adj[g.index(p)]
	}
	return func(yield func(A) bool) {
		var zero A
		for _, j := range adj {
			if a := g.cells[j]; a != zero {
				if !yield(a) {
					return
				}
			}
		}
	}
}

// MaxNeighbors returns the largest neighborhood size of any cell.
func (g *Grid[A]) MaxNeighbors() int {
	n := 0
	for _, adj := range g.adj {
		n = max(n, len(adj))
	}
	return n
}

// AdjacentCells returns the cells adjacent to p, occupied or not.
func (g *Grid[A]) AdjacentCells(p Pos) []Pos {
	if !g.InBounds(p) {
		return nil
	}
	adj := g.adj[g.index(p)]
	out := make([]Pos, len(adj))
	for k, j := range adj {
		out[k] = g.PosOf(j)
	}
	return out
}

// All yields every cell in row-major order with its occupant, if any.
func (g *Grid[A]) All() iter.Seq2[Pos, A] {
	return func(yield func(Pos, A) bool) {
		for i, a := range g.cells {
			if !yield(g.PosOf(i), a) {
				return
			}
		}
	}
}

func (g *Grid[A]) takeEmpty(i int) {
	k := g.emptyAt[i]
	last := g.empties[len(g.empties)-1]
	g.empties[k] = last
	g.emptyAt[last] = k
	g.empties = g.empties[:len(g.empties)-1]
	g.emptyAt[i] = -1
}

func (g *Grid[A]) addEmpty(i int) {
	g.emptyAt[i] = len(g.empties)
	g.empties = append(g.empties, i)
}
