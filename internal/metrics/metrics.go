// Package metrics records per-tick aggregates and per-agent traces of a run
// in memory, for plotting and export by external consumers.
package metrics

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/talgya/econ-schelling/internal/agents"
)

// TickRecord is the aggregate state of the population after one tick.
type TickRecord struct {
	Tick  uint64 `json:"tick" db:"tick"`
	Happy int    `json:"happy" db:"happy"`
	Total int    `json:"total" db:"total"`

	Relocated int `json:"relocated" db:"relocated"`
	Stuck     int `json:"stuck" db:"stuck"` // Unhappy with nowhere to go

	Employed   int `json:"employed" db:"employed"`
	Unemployed int `json:"unemployed" db:"unemployed"`
	Fired      int `json:"fired" db:"fired"`
	Hired      int `json:"hired" db:"hired"`

	Low    int `json:"low" db:"low"`
	Middle int `json:"middle" db:"middle"`
	High   int `json:"high" db:"high"`

	Demoted int `json:"demoted" db:"demoted"`
	Removed int `json:"removed" db:"removed"`

	MeanHappiness float64 `json:"mean_happiness" db:"mean_happiness"`
	StdHappiness  float64 `json:"std_happiness" db:"std_happiness"`
	MinHappiness  float64 `json:"min_happiness" db:"min_happiness"`
	MaxHappiness  float64 `json:"max_happiness" db:"max_happiness"`

	// SameClassShare is the fraction of occupied neighbor links joining two
	// agents of the same class tier. 0 when no agent has a neighbor.
	SameClassShare float64 `json:"same_class_share" db:"same_class_share"`
}

// Converged reports whether every live agent was happy this tick.
func (r TickRecord) Converged() bool {
	return r.Happy == r.Total
}

// AgentTrace is one agent's state after a tick.
type AgentTrace struct {
	AgentID    agents.AgentID    `json:"agent_id" db:"agent_id"`
	X          int               `json:"x" db:"x"`
	Y          int               `json:"y" db:"y"`
	Class      agents.ClassTier  `json:"class" db:"class"`
	Employment agents.Employment `json:"employment" db:"employment"`
	Age        uint8             `json:"age" db:"age"`
	Happiness  float64           `json:"happiness" db:"happiness"`
}

// TraceOf captures a's current state.
func TraceOf(a *agents.Agent) AgentTrace {
	return AgentTrace{
		AgentID:    a.ID,
		X:          a.Position.X,
		Y:          a.Position.Y,
		Class:      a.Class,
		Employment: a.Employment,
		Age:        a.Age,
		Happiness:  a.Happiness,
	}
}

// Snapshot is the full record of one tick.
type Snapshot struct {
	TickRecord
	Agents []AgentTrace `json:"agents"`
}

// Summarize fills the happiness statistics of rec from per-agent scores.
func Summarize(rec *TickRecord, scores []float64) {
	switch len(scores) {
	case 0:
		rec.MeanHappiness, rec.StdHappiness, rec.MinHappiness, rec.MaxHappiness = 0, 0, 0, 0
		return
	case 1:
		rec.MeanHappiness, rec.StdHappiness = scores[0], 0
	default:
		rec.MeanHappiness, rec.StdHappiness = stat.MeanStdDev(scores, nil)
	}
	rec.MinHappiness = floats.Min(scores)
	rec.MaxHappiness = floats.Max(scores)
}

// Collector keeps the snapshot time series of a run, ordered by tick.
// It is not safe for concurrent use; the engine serializes access.
type Collector struct {
	retain    int // Max snapshots kept; 0 keeps everything
	snapshots []Snapshot
}

// NewCollector creates a collector keeping at most retain snapshots (0 = all).
func NewCollector(retain int) *Collector {
	return &Collector{retain: retain}
}

// Record appends a snapshot. Ticks must be recorded in increasing order.
func (c *Collector) Record(s Snapshot) {
	c.snapshots = append(c.snapshots, s)
	if c.retain > 0 && len(c.snapshots) > c.retain {
		drop := len(c.snapshots) - c.retain
		c.snapshots = append(c.snapshots[:0:0], c.snapshots[drop:]...)
	}
}

// Snapshot returns the record of the given tick, if still retained.
func (c *Collector) Snapshot(tick uint64) (Snapshot, bool) {
	i := sort.Search(len(c.snapshots), func(i int) bool {
		return c.snapshots[i].Tick >= tick
	})
	if i < len(c.snapshots) && c.snapshots[i].Tick == tick {
		return c.snapshots[i], true
	}
	return Snapshot{}, false
}

// Latest returns the most recent snapshot.
func (c *Collector) Latest() (Snapshot, bool) {
	if len(c.snapshots) == 0 {
		return Snapshot{}, false
	}
	return c.snapshots[len(c.snapshots)-1], true
}

// Series returns the aggregate records in tick order.
func (c *Collector) Series() []TickRecord {
	out := make([]TickRecord, len(c.snapshots))
	for i, s := range c.snapshots {
		out[i] = s.TickRecord
	}
	return out
}

// HappySeries returns the happy count per retained tick.
func (c *Collector) HappySeries() []int {
	out := make([]int, len(c.snapshots))
	for i, s := range c.snapshots {
		out[i] = s.Happy
	}
	return out
}

// Len returns the number of retained snapshots.
func (c *Collector) Len() int {
	return len(c.snapshots)
}
