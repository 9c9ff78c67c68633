// Agent decision policy. Recomputes happiness from neighbors, zone and age,
// relocates when unhappy, then advances employment and class mobility.
package agents

import (
	"iter"

	"github.com/talgya/econ-schelling/internal/world"
)

// Env is the grid context and randomness an agent reads and mutates during
// its step. Every draw goes through Float64 or MoveToEmpty, in that call order.
type Env interface {
	ZoneAt(p world.Pos) world.Zone
	Neighbors(p world.Pos) iter.Seq[*Agent]
	MoveToEmpty(a *Agent) bool
	Remove(a *Agent)
	Float64() float64
}

// Rules are the per-run behavioral parameters shared by every agent.
type Rules struct {
	Homophily          float64 `json:"homophily"`
	HappinessThreshold float64 `json:"happiness_threshold"`

	// DowngradeAfter holds, per tier, how many consecutive unemployed ticks
	// are tolerated before demotion (middle, high) or removal (low).
	DowngradeAfter [NumClasses]int `json:"downgrade_after"`

	PFired float64 `json:"p_fired"`
	PHired float64 `json:"p_hired"`

	// RemoveChronicUnemployed drops low-tier agents unemployed past their threshold.
	RemoveChronicUnemployed bool `json:"remove_chronic_unemployed"`

	// LegacyZoneMatching makes every zone test evaluate false, reproducing the
	// historical rule set whose zone comparisons could never match.
	LegacyZoneMatching bool `json:"legacy_zone_matching"`
}

// DefaultRules returns the calibrated baseline parameters.
func DefaultRules() Rules {
	return Rules{
		Homophily:          3,
		HappinessThreshold: 15,
		DowngradeAfter:     [NumClasses]int{ClassLow: 3, ClassMiddle: 5, ClassHigh: 6},
		PFired:             0.053, // Unemployment rate calibration
		PHired:             0.85,  // Keeps steady-state unemployment near 5%
	}
}

// inZone reports whether zone is one of set.
func (r *Rules) inZone(zone world.Zone, set world.ZoneSet) bool {
	if r.LegacyZoneMatching {
		return false
	}
	return set.Has(zone)
}

// Outcome records what happened to an agent during one step.
type Outcome struct {
	Happy     bool
	Relocated bool
	Stuck     bool // Unhappy but no empty cell was available
	Fired     bool
	Hired     bool
	Demoted   bool
	Removed   bool
}

// Step runs one tick of the agent protocol: happiness, relocation,
// employment transition, class mobility.
func (a *Agent) Step(env Env, r *Rules) Outcome {
	var out Outcome

	a.Happiness = Happiness(a, env, r)
	if a.Happiness < r.HappinessThreshold {
		out.Relocated = env.MoveToEmpty(a)
		out.Stuck = !out.Relocated
	} else {
		out.Happy = true
	}

	out.Fired, out.Hired = a.updateEmployment(env, r)
	out.Demoted, out.Removed = a.updateClass(env, r)
	return out
}

func (a *Agent) updateEmployment(env Env, r *Rules) (fired, hired bool) {
	switch a.Employment {
	case Employed:
		if env.Float64() < r.PFired {
			a.Employment = Unemployed
			fired = true
		}
	case Unemployed:
		if env.Float64() < r.PHired {
			a.Employment = Employed
			hired = true
		}
	}

	if a.Employment == Employed {
		a.StepsUnemployed = 0
	} else {
		a.StepsUnemployed++
	}
	return fired, hired
}

// updateClass demotes at most one tier per tick. The streak is not reset by a
// demotion, so a high-tier agent can fall two tiers on consecutive ticks.
func (a *Agent) updateClass(env Env, r *Rules) (demoted, removed bool) {
	if a.Employment != Unemployed || a.StepsUnemployed <= r.DowngradeAfter[a.Class] {
		return false, false
	}
	switch a.Class {
	case ClassLow:
		if r.RemoveChronicUnemployed {
			env.Remove(a)
			a.Alive = false
			return false, true
		}
		return false, false
	default:
		a.Class--
		return true, false
	}
}
