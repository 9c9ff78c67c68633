package world

import "fmt"

// Neighborhood maps a cell to the distinct cells adjacent to it.
// The cell itself is never part of its own neighborhood, even on grids small
// enough for offsets to wrap back onto it.
type Neighborhood interface {
	Adjacent(p Pos, width, height int) []Pos
}

var mooreOffsets = [8]Pos{
	{X: -1, Y: -1}, {X: 0, Y: -1}, {X: 1, Y: -1},
	{X: -1, Y: 0}, {X: 1, Y: 0},
	{X: -1, Y: 1}, {X: 0, Y: 1}, {X: 1, Y: 1},
}

var vonNeumannOffsets = [4]Pos{
	{X: 0, Y: -1},
	{X: -1, Y: 0}, {X: 1, Y: 0},
	{X: 0, Y: 1},
}

// Moore is the 8-cell neighborhood including diagonals.
// Toroidal unless Bounded is set.
type Moore struct {
	Bounded bool
}

// Adjacent implements Neighborhood.
func (n Moore) Adjacent(p Pos, width, height int) []Pos {
	return adjacent(p, width, height, mooreOffsets[:], n.Bounded)
}

func (n Moore) String() string { return neighborhoodName("moore", n.Bounded) }

// VonNeumann is the 4-cell orthogonal neighborhood.
// Toroidal unless Bounded is set.
type VonNeumann struct {
	Bounded bool
}

// Adjacent implements Neighborhood.
func (n VonNeumann) Adjacent(p Pos, width, height int) []Pos {
	return adjacent(p, width, height, vonNeumannOffsets[:], n.Bounded)
}

func (n VonNeumann) String() string { return neighborhoodName("von_neumann", n.Bounded) }

func neighborhoodName(kind string, bounded bool) string {
	if bounded {
		return kind + "/bounded"
	}
	return kind + "/torus"
}

// ParseNeighborhood returns the neighborhood named by kind ("moore" or "von_neumann").
func ParseNeighborhood(kind string, bounded bool) (Neighborhood, error) {
	switch kind {
	case "", "moore":
		return Moore{Bounded: bounded}, nil
	case "von_neumann", "vonneumann":
		return VonNeumann{Bounded: bounded}, nil
	default:
		return nil, fmt.Errorf("unknown neighborhood %q (valid: moore, von_neumann)", kind)
	}
}

func adjacent(p Pos, width, height int, offsets []Pos, bounded bool) []Pos {
	out := make([]Pos, 0, len(offsets))
	for _, o := range offsets {
		x, y := p.X+o.X, p.Y+o.Y
		if bounded {
			if x < 0 || x >= width || y < 0 || y >= height {
				continue
			}
		} else {
			x = wrap(x, width)
			y = wrap(y, height)
		}
		q := Pos{X: x, Y: y}
		if q == p || containsPos(out, q) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

func containsPos(ps []Pos, p Pos) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}
