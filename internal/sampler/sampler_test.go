package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickRespectsExclusion(t *testing.T) {
	rng := NewRand(7)
	candidates := []string{"a", "b", "c"}
	weights := []float64{10, 1, 1}
	exclude := map[string]bool{"a": true}

	for i := 0; i < 200; i++ {
		got, ok := Pick(candidates, weights, exclude, rng)
		require.True(t, ok)
		assert.NotEqual(t, "a", got)
	}
}

func TestPickNothingEligible(t *testing.T) {
	rng := NewRand(1)
	_, ok := Pick([]string{"a", "b"}, []float64{0, 5}, map[string]bool{"b": true}, rng)
	assert.False(t, ok)

	_, ok = Pick[string](nil, nil, nil, rng)
	assert.False(t, ok)
}

func TestPickFollowsWeights(t *testing.T) {
	rng := NewRand(42)
	counts := map[string]int{}
	for i := 0; i < 5000; i++ {
		got, _ := Pick([]string{"heavy", "light"}, []float64{9, 1}, nil, rng)
		counts[got]++
	}
	assert.Greater(t, counts["heavy"], 4000)
	assert.Greater(t, counts["light"], 200)
}

func TestSameSeedSameSequence(t *testing.T) {
	a, b := Derive(99, "allocation"), Derive(99, "allocation")
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}
	c := Derive(99, "timing")
	assert.NotEqual(t, Derive(99, "allocation").Uint64(), c.Uint64())
}
