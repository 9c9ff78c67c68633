// Zone layout. Assigns exactly one immutable zone label to every cell.
// Residential and commercial get floor(fraction × cells) cells each; the
// remainder goes to industrial.
package world

import (
	"fmt"
	"math"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// fractionSlack absorbs float rounding when fractions are meant to sum to 1.
const fractionSlack = 1e-9

// ZoneFractions holds the requested share of each zone.
// Industrial is the residual zone: its fraction is validated but its count is
// whatever the other two leave over.
type ZoneFractions struct {
	Residential float64 `json:"residential" yaml:"residential"`
	Commercial  float64 `json:"commercial" yaml:"commercial"`
	Industrial  float64 `json:"industrial" yaml:"industrial"`
}

// Validate checks every fraction is in [0, 1] and that they sum to at most 1.
func (f ZoneFractions) Validate() error {
	fields := [NumZones]struct {
		name string
		v    float64
	}{
		{"zones.residential", f.Residential},
		{"zones.commercial", f.Commercial},
		{"zones.industrial", f.Industrial},
	}
	for _, fd := range fields {
		if math.IsNaN(fd.v) || fd.v < 0 || fd.v > 1 {
			return &ConfigError{Field: fd.name, Value: fd.v, Reason: "must be in [0, 1]"}
		}
	}
	if sum := f.Residential + f.Commercial + f.Industrial; sum > 1+fractionSlack {
		return &ConfigError{Field: "zones", Value: sum, Reason: "fractions sum to more than 1"}
	}
	return nil
}

// Counts returns the number of cells per zone for a grid of total cells.
func (f ZoneFractions) Counts(total int) [NumZones]int {
	var c [NumZones]int
	c[ZoneResidential] = int(math.Floor(f.Residential * float64(total)))
	c[ZoneCommercial] = int(math.Floor(f.Commercial * float64(total)))
	c[ZoneIndustrial] = total - c[ZoneResidential] - c[ZoneCommercial]
	return c
}

// Layout selects how zone labels are spread over the grid.
type Layout uint8

const (
	LayoutShuffled  Layout = iota // Uniform random permutation of the labels
	LayoutClustered               // Labels follow simplex noise, forming districts
)

// ParseLayout maps "shuffled" or "clustered" to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "", "shuffled":
		return LayoutShuffled, nil
	case "clustered":
		return LayoutClustered, nil
	default:
		return 0, fmt.Errorf("unknown zone layout %q (valid: shuffled, clustered)", s)
	}
}

// String returns the layout name.
func (l Layout) String() string {
	if l == LayoutClustered {
		return "clustered"
	}
	return "shuffled"
}

// ZoneRandom is the randomness zone layout draws from.
type ZoneRandom interface {
	Shuffle(n int, swap func(i, j int))
	Int63() int64
}

// LayoutZones builds the row-major zone label of every cell.
func LayoutZones(width, height int, f ZoneFractions, layout Layout, rnd ZoneRandom) ([]Zone, error) {
	if width <= 0 {
		return nil, &ConfigError{Field: "width", Value: width, Reason: "must be positive"}
	}
	if height <= 0 {
		return nil, &ConfigError{Field: "height", Value: height, Reason: "must be positive"}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	total := width * height
	counts := f.Counts(total)
	labels := make([]Zone, 0, total)
	for z, n := range counts {
		for i := 0; i < n; i++ {
			labels = append(labels, Zone(z))
		}
	}

	switch layout {
	case LayoutClustered:
		return clusteredZones(width, height, labels, rnd.Int63()), nil
	default:
		rnd.Shuffle(len(labels), func(i, j int) {
			labels[i], labels[j] = labels[j], labels[i]
		})
		return labels, nil
	}
}

// clusteredZones ranks cells by a noise field and hands out labels in rank
// order, so counts stay exact while zones form contiguous districts.
func clusteredZones(width, height int, labels []Zone, seed int64) []Zone {
	noise := opensimplex.NewNormalized(seed)

	total := width * height
	values := make([]float64, total)
	order := make([]int, total)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			values[i] = octaveNoise(noise, float64(x), float64(y), 3, 0.12, 0.5)
			order[i] = i
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})

	zones := make([]Zone, total)
	for rank, cell := range order {
		zones[cell] = labels[rank]
	}
	return zones
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// CountZones tallies labels per zone.
func CountZones(zones []Zone) [NumZones]int {
	var c [NumZones]int
	for _, z := range zones {
		c[z]++
	}
	return c
}
