// Agent spawning: draws class tier and age for the initial population.
package agents

// AgeBuckets are the upper bounds (years) of the age categories agents are
// drawn from, with AgeWeights giving each bucket's population share.
var (
	AgeBuckets = [...]uint8{24, 34, 44, 54, 59, 64, 74, 84, 85}
	AgeWeights = [...]float64{0.0872, 0.2032, 0.1622, 0.1482, 0.0874, 0.0832, 0.1112, 0.0722, 0.0452}
)

// SpawnRandom is the randomness the spawner draws from.
type SpawnRandom interface {
	Float64() float64
	Categorical(weights []float64) int
}

// SpawnConfig controls class assignment for new agents.
type SpawnConfig struct {
	ChanceHighClass   float64 // P(high)
	ChanceMiddleClass float64 // P(middle | not high)
}

// Spawner creates agents with sequential IDs.
type Spawner struct {
	cfg    SpawnConfig
	rng    SpawnRandom
	nextID AgentID
}

// NewSpawner creates a spawner drawing from rng.
func NewSpawner(cfg SpawnConfig, rng SpawnRandom) *Spawner {
	return &Spawner{cfg: cfg, rng: rng, nextID: 1}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// Spawn draws a class tier, then an age bucket, and returns an employed agent.
func (s *Spawner) Spawn() *Agent {
	class := s.drawClass()
	age := AgeBuckets[s.rng.Categorical(AgeWeights[:])]
	return s.New(class, age)
}

// New returns an employed agent with the given class and age, drawing nothing.
func (s *Spawner) New(class ClassTier, age uint8) *Agent {
	id := s.nextID
	s.nextID++
	return &Agent{
		ID:         id,
		Class:      class,
		Age:        age,
		Employment: Employed,
		Alive:      true,
	}
}

// drawClass runs the two-stage cascade: high first, then middle vs low.
func (s *Spawner) drawClass() ClassTier {
	if s.rng.Float64() < s.cfg.ChanceHighClass {
		return ClassHigh
	}
	if s.rng.Float64() < s.cfg.ChanceMiddleClass {
		return ClassMiddle
	}
	return ClassLow
}
