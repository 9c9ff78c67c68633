// Package entropy provides the single seeded random stream that drives every
// stochastic decision in a run. Same seed, same call order, same trajectory.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand"
)

// Stream is a seeded pseudorandom source shared by the grid, the spawner,
// the scheduler and every agent. It is not safe for concurrent use.
type Stream struct {
	seed int64
	rng  *mrand.Rand
}

// NewStream creates a stream from seed. A zero seed is replaced by one drawn
// from crypto/rand so the run can still be replayed from the logged value.
func NewStream(seed int64) *Stream {
	if seed == 0 {
		seed = CryptoSeed()
		slog.Info("random seed chosen", "seed", seed)
	}
	return &Stream{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Seed returns the seed the stream was built from.
func (s *Stream) Seed() int64 {
	return s.seed
}

// Float64 returns a uniform float64 in [0, 1).
func (s *Stream) Float64() float64 {
	return s.rng.Float64()
}

// Intn returns a uniform int in [0, n). n must be positive.
func (s *Stream) Intn(n int) int {
	return s.rng.Intn(n)
}

// Int63 returns a non-negative pseudorandom int64.
func (s *Stream) Int63() int64 {
	return s.rng.Int63()
}

// Bernoulli reports true with probability p.
func (s *Stream) Bernoulli(p float64) bool {
	return s.rng.Float64() < p
}

// Categorical draws an index from weights, which must sum to ~1.
// Floating point slack at the top end falls into the last bucket.
func (s *Stream) Categorical(weights []float64) int {
	r := s.rng.Float64()
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

// Perm returns a uniformly random permutation of [0, n).
func (s *Stream) Perm(n int) []int {
	return s.rng.Perm(n)
}

// Shuffle permutes n elements in place through swap.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	s.rng.Shuffle(n, swap)
}

// CryptoSeed returns a non-zero seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed rather than zero.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
