package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/econ-schelling/internal/agents"
	"github.com/talgya/econ-schelling/internal/metrics"
	"github.com/talgya/econ-schelling/internal/world"
)

func testParams(w, h int, seed int64) Params {
	p := DefaultParams()
	p.Width, p.Height = w, h
	p.Seed = seed
	return p
}

// checkOccupancy asserts every live agent sits in the cell that holds it and
// no cell holds an agent the scheduler does not know.
func checkOccupancy(t *testing.T, s *Simulation) {
	t.Helper()
	live := make(map[agents.AgentID]*agents.Agent)
	for _, a := range s.Agents() {
		live[a.ID] = a
		got, ok := s.AgentAt(a.Position)
		require.True(t, ok, "agent %d has no cell", a.ID)
		require.Same(t, a, got)
		require.True(t, a.Alive)
	}
	occupied := 0
	for p, a := range s.Cells() {
		if a == nil {
			continue
		}
		occupied++
		require.Equal(t, p, a.Position)
		require.Contains(t, live, a.ID)
	}
	require.Equal(t, len(live), occupied)
}

func TestNewSimulation_ZoneCounts(t *testing.T) {
	s, err := NewSimulation(testParams(10, 10, 1))
	require.NoError(t, err)

	zc := s.ZoneCounts()
	assert.Equal(t, 40, zc[world.ZoneResidential])
	assert.Equal(t, 30, zc[world.ZoneCommercial])
	assert.Equal(t, 30, zc[world.ZoneIndustrial])
	assert.Equal(t, uint64(0), s.Tick())
	assert.True(t, s.Running())
	checkOccupancy(t, s)
}

func TestNewSimulation_FullDensity(t *testing.T) {
	p := testParams(5, 4, 2)
	p.Density = 1
	s, err := NewSimulation(p)
	require.NoError(t, err)
	assert.Equal(t, 20, s.TotalAgentCount())

	// IDs are issued in row-major placement order.
	for i, a := range s.Agents() {
		assert.Equal(t, agents.AgentID(i+1), a.ID)
		assert.Equal(t, world.Pos{X: i % 5, Y: i / 5}, a.Position)
		assert.Equal(t, agents.Employed, a.Employment)
	}
}

func TestNewSimulation_SeedIsRecorded(t *testing.T) {
	s, err := NewSimulation(testParams(4, 4, 0))
	require.NoError(t, err)
	assert.NotZero(t, s.Params().Seed)
}

func TestNewSimulation_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
		field  string
	}{
		{"zero width", func(p *Params) { p.Width = 0 }, "width"},
		{"negative height", func(p *Params) { p.Height = -3 }, "height"},
		{"zero density", func(p *Params) { p.Density = 0 }, "density"},
		{"density above one", func(p *Params) { p.Density = 1.5 }, "density"},
		{"high class probability", func(p *Params) { p.ChanceHighClass = 2 }, "chance_high_class"},
		{"zones oversubscribed", func(p *Params) { p.Zones.Commercial = 0.9 }, "zones"},
		{"negative zone", func(p *Params) { p.Zones.Industrial = -0.1 }, "zones.industrial"},
		{"negative homophily", func(p *Params) { p.Rules.Homophily = -1 }, "homophily"},
		{"zero downgrade", func(p *Params) { p.Rules.DowngradeAfter[agents.ClassMiddle] = 0 }, "downgrade_after.middle"},
		{"fired probability", func(p *Params) { p.Rules.PFired = 1.1 }, "p_fired"},
		{"negative retention", func(p *Params) { p.MetricsRetain = -1 }, "metrics_retain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams(5, 5, 1)
			tt.modify(&p)

			s, err := NewSimulation(p)
			require.Error(t, err)
			assert.Nil(t, s)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestStep_OccupancyHoldsEveryTick(t *testing.T) {
	s, err := NewSimulation(testParams(12, 12, 99))
	require.NoError(t, err)

	start := s.TotalAgentCount()
	for i := 0; i < 25; i++ {
		s.Step()
		checkOccupancy(t, s)
		assert.Equal(t, start, s.TotalAgentCount())
	}
	assert.Equal(t, uint64(25), s.Tick())
}

func TestStep_LowThresholdConvergesImmediately(t *testing.T) {
	p := testParams(8, 8, 5)
	p.Rules.HappinessThreshold = -1000
	s, err := NewSimulation(p)
	require.NoError(t, err)

	s.Step()

	assert.False(t, s.Running())
	assert.Equal(t, s.TotalAgentCount(), s.HappyCount())
	rec, ok := s.Metrics().Latest()
	require.True(t, ok)
	assert.Zero(t, rec.Relocated)
	assert.True(t, rec.Converged())
}

func TestStep_FullGridNeverMoves(t *testing.T) {
	p := testParams(6, 6, 8)
	p.Density = 1
	p.Rules.HappinessThreshold = 1e6
	s, err := NewSimulation(p)
	require.NoError(t, err)

	before := make(map[agents.AgentID]world.Pos)
	for _, a := range s.Agents() {
		before[a.ID] = a.Position
	}

	for i := 0; i < 5; i++ {
		s.Step()
		rec, _ := s.Metrics().Latest()
		assert.Zero(t, rec.Relocated)
		assert.Equal(t, 36, rec.Stuck)
		assert.Zero(t, rec.Happy)
		assert.True(t, s.Running())
	}
	for _, a := range s.Agents() {
		assert.Equal(t, before[a.ID], a.Position)
	}
}

func TestStep_SmallGridConverges(t *testing.T) {
	p := testParams(3, 3, 13)
	p.Density = 1
	p.ChanceHighClass = 0
	p.Rules.Homophily = 0
	p.Rules.HappinessThreshold = -1
	s, err := NewSimulation(p)
	require.NoError(t, err)
	require.Equal(t, 9, s.TotalAgentCount())

	s.Step()

	assert.Equal(t, 9, s.HappyCount())
	assert.False(t, s.Running())
}

func TestStep_TwoAgentsKeepMoving(t *testing.T) {
	p := testParams(2, 2, 21)
	p.Rules.HappinessThreshold = 1000
	s, err := NewSimulation(p, WithoutPopulation())
	require.NoError(t, err)

	_, err = s.AddAgent(agents.ClassLow, 34, world.Pos{X: 0, Y: 0})
	require.NoError(t, err)
	_, err = s.AddAgent(agents.ClassHigh, 54, world.Pos{X: 1, Y: 1})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.Step()
		rec, _ := s.Metrics().Latest()
		assert.Equal(t, 2, rec.Relocated)
		assert.Zero(t, rec.Happy)
		assert.True(t, s.Running())
		checkOccupancy(t, s)
	}
}

func TestAddAgent_OccupiedCell(t *testing.T) {
	s, err := NewSimulation(testParams(3, 3, 1), WithoutPopulation())
	require.NoError(t, err)

	_, err = s.AddAgent(agents.ClassMiddle, 44, world.Pos{X: 1, Y: 1})
	require.NoError(t, err)
	_, err = s.AddAgent(agents.ClassLow, 24, world.Pos{X: 1, Y: 1})

	var occ *world.OccupiedError
	require.True(t, errors.As(err, &occ))
	assert.Equal(t, world.Pos{X: 1, Y: 1}, occ.Pos)
	assert.Equal(t, 1, s.TotalAgentCount())

	_, err = s.AddAgent(agents.ClassLow, 24, world.Pos{X: 5, Y: 0})
	assert.ErrorIs(t, err, world.ErrOutOfBounds)
}

func TestStep_SameSeedSameTrajectory(t *testing.T) {
	run := func() ([]metrics.TickRecord, []metrics.AgentTrace) {
		s, err := NewSimulation(testParams(10, 10, 4242))
		require.NoError(t, err)
		for i := 0; i < 15; i++ {
			s.Step()
		}
		last, _ := s.Metrics().Latest()
		return s.Metrics().Series(), last.Agents
	}

	seriesA, agentsA := run()
	seriesB, agentsB := run()
	assert.Equal(t, seriesA, seriesB)
	assert.Equal(t, agentsA, agentsB)
}

func TestStep_UnemploymentStreak(t *testing.T) {
	p := testParams(10, 10, 77)
	p.Rules.PFired = 0.4
	p.Rules.PHired = 0.3
	s, err := NewSimulation(p)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		s.Step()
		for _, a := range s.Agents() {
			if a.Employment == agents.Employed {
				assert.Zero(t, a.StepsUnemployed, "employed agent %d", a.ID)
			} else {
				assert.Positive(t, a.StepsUnemployed, "unemployed agent %d", a.ID)
			}
		}
		rec, _ := s.Metrics().Latest()
		assert.Equal(t, rec.Total, rec.Employed+rec.Unemployed)
		assert.Equal(t, rec.Total, rec.Low+rec.Middle+rec.High)
	}
}

func TestStep_ChronicUnemployedRemoved(t *testing.T) {
	p := testParams(5, 5, 3)
	p.Density = 1
	p.ChanceHighClass = 0
	p.ChanceMiddleClass = 0
	p.Rules.HappinessThreshold = -1000
	p.Rules.PFired = 1
	p.Rules.PHired = 0
	p.Rules.RemoveChronicUnemployed = true
	s, err := NewSimulation(p)
	require.NoError(t, err)

	// Converged on tick 1, but stepping continues to drive employment.
	for tick := 1; tick <= 3; tick++ {
		s.Step()
		assert.Equal(t, 25, s.TotalAgentCount(), "tick %d", tick)
	}

	s.Step()
	assert.Zero(t, s.TotalAgentCount())
	rec, _ := s.Metrics().Latest()
	assert.Equal(t, 25, rec.Removed)
	assert.Zero(t, rec.Total)
	checkOccupancy(t, s)
}

func TestStep_MiddleTierDemotedWhenUnemployed(t *testing.T) {
	p := testParams(4, 4, 6)
	p.Density = 1
	p.ChanceHighClass = 0
	p.ChanceMiddleClass = 1
	p.Rules.HappinessThreshold = -1000
	p.Rules.PFired = 1
	p.Rules.PHired = 0
	s, err := NewSimulation(p)
	require.NoError(t, err)

	for tick := 1; tick <= 5; tick++ {
		s.Step()
	}
	rec, _ := s.Metrics().Latest()
	assert.Equal(t, 16, rec.Middle)

	s.Step()
	rec, _ = s.Metrics().Latest()
	assert.Equal(t, 16, rec.Demoted)
	assert.Equal(t, 16, rec.Low)
	assert.Equal(t, 16, s.TotalAgentCount())
}

func TestStep_MetricsRetention(t *testing.T) {
	p := testParams(6, 6, 10)
	p.MetricsRetain = 4
	p.Rules.HappinessThreshold = 1e6
	s, err := NewSimulation(p)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.Step()
	}
	series := s.Metrics().Series()
	require.Len(t, series, 4)
	assert.Equal(t, uint64(7), series[0].Tick)
	assert.Equal(t, uint64(10), series[3].Tick)
}

func TestStep_ClusteredLayout(t *testing.T) {
	p := testParams(16, 16, 31)
	p.ZoneLayout = world.LayoutClustered
	s, err := NewSimulation(p)
	require.NoError(t, err)

	zc := s.ZoneCounts()
	assert.Equal(t, 102, zc[world.ZoneResidential])
	assert.Equal(t, 76, zc[world.ZoneCommercial])
	assert.Equal(t, 78, zc[world.ZoneIndustrial])

	s.Step()
	checkOccupancy(t, s)
}

func TestSimulation_ZoneAtOffGrid(t *testing.T) {
	s, err := NewSimulation(testParams(3, 3, 4))
	require.NoError(t, err)

	_, ok := s.ZoneAt(world.Pos{X: 2, Y: 2})
	assert.True(t, ok)

	for _, p := range []world.Pos{{X: 3, Y: 0}, {X: -1, Y: 0}, {X: 0, Y: 3}} {
		_, ok := s.ZoneAt(p)
		assert.False(t, ok, "zone at %s", p)
		for range s.Neighbors(p) {
			t.Fatalf("neighbor reported for off-grid %s", p)
		}
	}
}

func TestSimulation_RelocationsOutliveRetention(t *testing.T) {
	full := testParams(8, 8, 21)
	full.Rules.HappinessThreshold = 1e6
	capped := full
	capped.MetricsRetain = 2

	a, err := NewSimulation(full)
	require.NoError(t, err)
	b, err := NewSimulation(capped)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		a.Step()
		b.Step()
	}

	var want uint64
	for _, r := range a.Metrics().Series() {
		want += uint64(r.Relocated)
	}
	require.NotZero(t, want)
	assert.Equal(t, want, a.Relocations())
	assert.Equal(t, want, b.Relocations())
	assert.Len(t, b.Metrics().Series(), 2)
}
