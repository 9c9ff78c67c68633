// Simulation owns the zoned grid and the agent population, builds the initial
// population, and advances the model one tick at a time.
package engine

import (
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"github.com/talgya/econ-schelling/internal/agents"
	"github.com/talgya/econ-schelling/internal/entropy"
	"github.com/talgya/econ-schelling/internal/metrics"
	"github.com/talgya/econ-schelling/internal/world"
)

// Simulation holds the complete model state. It is single-threaded; callers
// sharing it across goroutines go through Engine.
type Simulation struct {
	params Params

	rng       *entropy.Stream
	grid      *world.Grid[*agents.Agent]
	spawner   *agents.Spawner
	scheduler *Scheduler
	metrics   *metrics.Collector

	tick    uint64 // Most recent tick processed
	happy   int    // Happy agents in the current tick
	running bool
	tally   tally

	relocations uint64 // Relocations since construction, independent of metrics retention
}

// tally counts step outcomes within one tick.
type tally struct {
	relocated, stuck int
	fired, hired     int
	demoted, removed int
}

func (t *tally) add(out agents.Outcome) {
	if out.Relocated {
		t.relocated++
	}
	if out.Stuck {
		t.stuck++
	}
	if out.Fired {
		t.fired++
	}
	if out.Hired {
		t.hired++
	}
	if out.Demoted {
		t.demoted++
	}
	if out.Removed {
		t.removed++
	}
}

type options struct {
	populate bool
}

// Option customizes NewSimulation.
type Option func(*options)

// WithoutPopulation skips the random initial population; agents are then
// added explicitly with AddAgent.
func WithoutPopulation() Option {
	return func(o *options) { o.populate = false }
}

// NewSimulation validates p, lays out zones and populates the grid.
// Every draw, zones included, comes from one stream seeded with p.Seed.
func NewSimulation(p Params, opts ...Option) (*Simulation, error) {
	o := options{populate: true}
	for _, opt := range opts {
		opt(&o)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Neighborhood == nil {
		p.Neighborhood = world.Moore{}
	}

	rng := entropy.NewStream(p.Seed)
	p.Seed = rng.Seed()

	grid, err := world.NewGrid[*agents.Agent](p.Width, p.Height, p.Zones, p.ZoneLayout, p.Neighborhood, rng)
	if err != nil {
		return nil, fmt.Errorf("build grid: %w", err)
	}

	s := &Simulation{
		params: p,
		rng:    rng,
		grid:   grid,
		spawner: agents.NewSpawner(agents.SpawnConfig{
			ChanceHighClass:   p.ChanceHighClass,
			ChanceMiddleClass: p.ChanceMiddleClass,
		}, rng),
		scheduler: NewScheduler(rng),
		metrics:   metrics.NewCollector(p.MetricsRetain),
		running:   true,
	}

	if o.populate {
		if err := s.populate(); err != nil {
			return nil, err
		}
	}

	zc := grid.ZoneCounts()
	slog.Info("simulation created",
		"width", p.Width,
		"height", p.Height,
		"seed", p.Seed,
		"agents", s.scheduler.Len(),
		"residential", zc[world.ZoneResidential],
		"commercial", zc[world.ZoneCommercial],
		"industrial", zc[world.ZoneIndustrial],
		"layout", p.ZoneLayout,
	)

	_, hi := agents.ScoreBounds(&p.Rules, grid.MaxNeighbors())
	if p.Rules.HappinessThreshold > hi {
		slog.Warn("happiness threshold exceeds the best achievable score; the run cannot converge",
			"threshold", p.Rules.HappinessThreshold,
			"max_score", hi,
		)
	}
	return s, nil
}

// populate visits cells in row-major order and fills each with probability Density.
func (s *Simulation) populate() error {
	for i := 0; i < s.grid.Cells(); i++ {
		if !s.rng.Bernoulli(s.params.Density) {
			continue
		}
		pos := s.grid.PosOf(i)
		a := s.spawner.Spawn()
		if err := s.grid.Place(a, pos); err != nil {
			return fmt.Errorf("populate %s: %w", pos, err)
		}
		s.scheduler.Add(a)
	}
	return nil
}

// AddAgent places a new employed agent of the given class and age at pos.
func (s *Simulation) AddAgent(class agents.ClassTier, age uint8, pos world.Pos) (*agents.Agent, error) {
	a := s.spawner.New(class, age)
	if err := s.grid.Place(a, pos); err != nil {
		return nil, err
	}
	s.scheduler.Add(a)
	return a, nil
}

// Step advances one tick: every live agent acts once in random order, the
// tick is recorded, and the run stops once every live agent is happy.
func (s *Simulation) Step() {
	s.tick++
	s.happy = 0
	s.tally = tally{}

	env := simEnv{s}
	s.scheduler.Step(func(a *agents.Agent) {
		out := a.Step(env, &s.params.Rules)
		if out.Happy && !out.Removed {
			s.happy++
		}
		s.tally.add(out)
	})
	s.relocations += uint64(s.tally.relocated)

	rec := s.collect()

	slog.Debug("tick complete",
		"tick", s.tick,
		"happy", rec.Happy,
		"total", rec.Total,
		"relocated", rec.Relocated,
		"stuck", rec.Stuck,
		"unemployed", rec.Unemployed,
	)

	if s.happy == s.scheduler.Len() {
		if s.running {
			slog.Info("equilibrium reached", "tick", s.tick, "agents", rec.Total)
		}
		s.running = false
	}
}

// collect records the current tick and returns its aggregate.
func (s *Simulation) collect() metrics.TickRecord {
	live := s.Agents()
	rec := metrics.TickRecord{
		Tick:      s.tick,
		Happy:     s.happy,
		Total:     len(live),
		Relocated: s.tally.relocated,
		Stuck:     s.tally.stuck,
		Fired:     s.tally.fired,
		Hired:     s.tally.hired,
		Demoted:   s.tally.demoted,
		Removed:   s.tally.removed,
	}

	traces := make([]metrics.AgentTrace, len(live))
	scores := make([]float64, len(live))
	links, same := 0, 0
	for i, a := range live {
		traces[i] = metrics.TraceOf(a)
		scores[i] = a.Happiness

		if a.Employment == agents.Employed {
			rec.Employed++
		} else {
			rec.Unemployed++
		}
		switch a.Class {
		case agents.ClassLow:
			rec.Low++
		case agents.ClassMiddle:
			rec.Middle++
		case agents.ClassHigh:
			rec.High++
		}
		for n := range s.grid.Neighbors(a.Position) {
			links++
			if n.Class == a.Class {
				same++
			}
		}
	}
	metrics.Summarize(&rec, scores)
	if links > 0 {
		rec.SameClassShare = float64(same) / float64(links)
	}

	s.metrics.Record(metrics.Snapshot{TickRecord: rec, Agents: traces})
	return rec
}

// Tick returns the most recently processed tick (0 before the first Step).
func (s *Simulation) Tick() uint64 { return s.tick }

// Running reports false once every live agent was happy in the same tick.
func (s *Simulation) Running() bool { return s.running }

// HappyCount returns the number of agents happy in the last tick.
func (s *Simulation) HappyCount() int { return s.happy }

// Relocations returns the number of moves made since the model was built.
func (s *Simulation) Relocations() uint64 { return s.relocations }

// TotalAgentCount returns the number of live agents.
func (s *Simulation) TotalAgentCount() int { return s.scheduler.Len() }

// Params returns the run parameters, with the effective seed.
func (s *Simulation) Params() Params { return s.params }

// Width returns the grid width.
func (s *Simulation) Width() int { return s.grid.Width() }

// Height returns the grid height.
func (s *Simulation) Height() int { return s.grid.Height() }

// ZoneAt returns the zone of the cell at p, or false when p is off the grid.
func (s *Simulation) ZoneAt(p world.Pos) (world.Zone, bool) { return s.grid.ZoneAt(p) }

// ZoneCounts tallies cells per zone.
func (s *Simulation) ZoneCounts() [world.NumZones]int { return s.grid.ZoneCounts() }

// AgentAt returns the agent at p, if any.
func (s *Simulation) AgentAt(p world.Pos) (*agents.Agent, bool) { return s.grid.At(p) }

// InBounds reports whether p lies on the grid.
func (s *Simulation) InBounds(p world.Pos) bool { return s.grid.InBounds(p) }

// Cells yields every cell in row-major order with its agent (nil when empty).
func (s *Simulation) Cells() iter.Seq2[world.Pos, *agents.Agent] { return s.grid.All() }

// Neighbors yields the agents adjacent to p.
func (s *Simulation) Neighbors(p world.Pos) iter.Seq[*agents.Agent] { return s.grid.Neighbors(p) }

// Agents returns the live agents ordered by ID.
func (s *Simulation) Agents() []*agents.Agent {
	live := s.scheduler.Agents()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live
}

// Metrics returns the run's time series.
func (s *Simulation) Metrics() *metrics.Collector { return s.metrics }

// simEnv routes an agent's step onto the grid and the shared random stream.
type simEnv struct {
	s *Simulation
}

func (e simEnv) ZoneAt(p world.Pos) world.Zone {
	z, _ := e.s.grid.ZoneAt(p)
	return z
}

func (e simEnv) Neighbors(p world.Pos) iter.Seq[*agents.Agent] { return e.s.grid.Neighbors(p) }

func (e simEnv) MoveToEmpty(a *agents.Agent) bool { return e.s.grid.MoveToEmpty(a, e.s.rng) }

func (e simEnv) Remove(a *agents.Agent) {
	e.s.grid.Remove(a)
	e.s.scheduler.Remove(a)
	slog.Debug("agent removed after chronic unemployment", "agent", a.ID, "tick", e.s.tick)
}

func (e simEnv) Float64() float64 { return e.s.rng.Float64() }
