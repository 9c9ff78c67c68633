// Package world provides the zoned grid, cell coordinates and neighborhoods.
// Cells are addressed by (x, y) and flattened row-major: index = y*width + x.
package world

import (
	"fmt"
	"strings"
)

// Pos is a cell coordinate on the grid.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns "(x,y)".
func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Zone is the immutable land-use label of a cell.
type Zone uint8

const (
	ZoneResidential Zone = iota
	ZoneCommercial
	ZoneIndustrial // Residual zone: absorbs cells not claimed by the others
)

// NumZones is the number of zone labels.
const NumZones = 3

var zoneNames = [NumZones]string{"residential", "commercial", "industrial"}

// String returns the lower-case zone name.
func (z Zone) String() string {
	if int(z) < len(zoneNames) {
		return zoneNames[z]
	}
	return fmt.Sprintf("zone(%d)", uint8(z))
}

// MarshalText encodes the zone by name.
func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText decodes a zone name.
func (z *Zone) UnmarshalText(text []byte) error {
	parsed, err := ParseZone(string(text))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// ParseZone maps a zone name to its label.
func ParseZone(s string) (Zone, error) {
	for i, name := range zoneNames {
		if strings.EqualFold(s, name) {
			return Zone(i), nil
		}
	}
	return 0, fmt.Errorf("unknown zone %q", s)
}

// ZoneSet is a set of zone labels.
type ZoneSet uint8

// ZonesOf builds a set from the given zones.
func ZonesOf(zones ...Zone) ZoneSet {
	var s ZoneSet
	for _, z := range zones {
		s |= 1 << z
	}
	return s
}

// Has reports whether z is a member of the set.
func (s ZoneSet) Has(z Zone) bool {
	return s&(1<<z) != 0
}
