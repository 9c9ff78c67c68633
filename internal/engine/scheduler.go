package engine

import (
	"github.com/talgya/econ-schelling/internal/agents"
)

// Permuter draws a uniformly random permutation of [0, n).
type Permuter interface {
	Perm(n int) []int
}

// Scheduler activates every live agent exactly once per tick, in a fresh
// random order. Activation is sequential: whatever an earlier agent changes
// (position, class, removal) is visible to agents activated after it.
type Scheduler struct {
	rng    Permuter
	agents []*agents.Agent
	index  map[agents.AgentID]int
}

// NewScheduler creates an empty scheduler drawing orders from rng.
func NewScheduler(rng Permuter) *Scheduler {
	return &Scheduler{
		rng:   rng,
		index: make(map[agents.AgentID]int),
	}
}

// Add registers a live agent.
func (sc *Scheduler) Add(a *agents.Agent) {
	if _, ok := sc.index[a.ID]; ok {
		return
	}
	sc.index[a.ID] = len(sc.agents)
	sc.agents = append(sc.agents, a)
}

// Remove unregisters an agent. It is safe to call during Step.
func (sc *Scheduler) Remove(a *agents.Agent) {
	i, ok := sc.index[a.ID]
	if !ok {
		return
	}
	last := len(sc.agents) - 1
	moved := sc.agents[last]
	sc.agents[i] = moved
	sc.index[moved.ID] = i
	sc.agents[last] = nil
	sc.agents = sc.agents[:last]
	delete(sc.index, a.ID)
}

// Len returns the number of live agents.
func (sc *Scheduler) Len() int {
	return len(sc.agents)
}

// Agents returns the live agents in registration order (a copy).
func (sc *Scheduler) Agents() []*agents.Agent {
	return append([]*agents.Agent(nil), sc.agents...)
}

// Step activates each agent live at the start of the tick once, in a
// uniformly random order drawn for this tick only. Agents removed earlier in
// the same tick are skipped.
func (sc *Scheduler) Step(activate func(a *agents.Agent)) {
	perm := sc.rng.Perm(len(sc.agents))
	order := make([]*agents.Agent, len(perm))
	for i, j := range perm {
		order[i] = sc.agents[j]
	}
	for _, a := range order {
		if _, live := sc.index[a.ID]; !live {
			continue
		}
		activate(a)
	}
}
