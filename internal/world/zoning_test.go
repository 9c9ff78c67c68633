package world

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneFractions_Counts(t *testing.T) {
	f := ZoneFractions{Residential: 0.34, Commercial: 0.33, Industrial: 0.33}
	assert.Equal(t, [NumZones]int{3, 2, 4}, f.Counts(9))

	// Industrial absorbs the remainder even when its own fraction is zero.
	f = ZoneFractions{Residential: 0.5, Commercial: 0.25}
	assert.Equal(t, [NumZones]int{50, 25, 25}, f.Counts(100))
}

func TestZoneFractions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		f       ZoneFractions
		wantErr bool
	}{
		{"defaults", ZoneFractions{0.4, 0.3, 0.3}, false},
		{"thirds", ZoneFractions{0.34, 0.33, 0.33}, false},
		{"all zero", ZoneFractions{}, false},
		{"negative", ZoneFractions{-0.1, 0.3, 0.3}, true},
		{"above one", ZoneFractions{1.2, 0, 0}, true},
		{"sum over one", ZoneFractions{0.5, 0.4, 0.3}, true},
		{"nan", ZoneFractions{math.NaN(), 0, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.wantErr {
				var cfg *ConfigError
				assert.ErrorAs(t, err, &cfg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLayoutZones_ExactCounts(t *testing.T) {
	cases := []ZoneFractions{
		{0.4, 0.3, 0.3},
		{0.34, 0.33, 0.33},
		{0.1, 0.1, 0},
		{1, 0, 0},
	}
	for _, layout := range []Layout{LayoutShuffled, LayoutClustered} {
		for _, f := range cases {
			rng := rand.New(rand.NewSource(42))
			zones, err := LayoutZones(7, 5, f, layout, rng)
			require.NoError(t, err)
			require.Len(t, zones, 35)

			got := CountZones(zones)
			assert.Equal(t, int(math.Floor(f.Residential*35)), got[ZoneResidential], "%s %+v", layout, f)
			assert.Equal(t, int(math.Floor(f.Commercial*35)), got[ZoneCommercial], "%s %+v", layout, f)
			assert.Equal(t, 35-got[ZoneResidential]-got[ZoneCommercial], got[ZoneIndustrial])
		}
	}
}

func TestLayoutZones_ShuffleIsSeeded(t *testing.T) {
	f := ZoneFractions{0.4, 0.3, 0.3}
	a, err := LayoutZones(10, 10, f, LayoutShuffled, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	b, err := LayoutZones(10, 10, f, LayoutShuffled, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// The layout is not simply the sorted label sequence.
	sorted := true
	for i := 1; i < len(a); i++ {
		if a[i] < a[i-1] {
			sorted = false
			break
		}
	}
	assert.False(t, sorted)
}

func TestZone_TextRoundTrip(t *testing.T) {
	for z := Zone(0); z < NumZones; z++ {
		text, err := z.MarshalText()
		require.NoError(t, err)
		var back Zone
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, z, back)
	}
	var z Zone
	assert.Error(t, z.UnmarshalText([]byte("industry")))
}

func TestZoneSet(t *testing.T) {
	s := ZonesOf(ZoneResidential, ZoneCommercial)
	assert.True(t, s.Has(ZoneResidential))
	assert.True(t, s.Has(ZoneCommercial))
	assert.False(t, s.Has(ZoneIndustrial))
}
