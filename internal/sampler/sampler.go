// Package sampler implements weighted random choice with an exclusion set.
package sampler

import "math/rand/v2"

// Pick draws one candidate with probability proportional to its weight.
// Candidates in exclude and candidates with a non-positive weight are never
// chosen. ok is false when nothing is eligible.
func Pick[T comparable](candidates []T, weights []float64, exclude map[T]bool, rng *rand.Rand) (choice T, ok bool) {
	total := 0.0
	for i, c := range candidates {
		if exclude[c] || i >= len(weights) || weights[i] <= 0 {
			continue
		}
		total += weights[i]
	}
	if total <= 0 {
		return choice, false
	}

	r := rng.Float64() * total
	last := -1
	for i, c := range candidates {
		if exclude[c] || i >= len(weights) || weights[i] <= 0 {
			continue
		}
		last = i
		r -= weights[i]
		if r < 0 {
			return c, true
		}
	}
	// float rounding can leave r at exactly zero
	return candidates[last], true
}

// NewRand returns a deterministic generator for a seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Derive returns an independent deterministic stream for a named phase so
// that changes in one phase's draw count never shift another phase.
func Derive(seed uint64, phase string) *rand.Rand {
	h := uint64(14695981039346656037)
	for i := 0; i < len(phase); i++ {
		h ^= uint64(phase[i])
		h *= 1099511628211
	}
	return NewRand(seed ^ h)
}
