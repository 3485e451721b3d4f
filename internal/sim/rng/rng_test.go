package rng

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fsmarket.sim/internal/sim/params"
)

func TestSameSeedSameStream(t *testing.T) {
	a, b := New(7), New(7)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Float64(), b.Float64())
		require.Equal(t, a.Normal(params.NormalDist{Mean: 1, Std: 2}), b.Normal(params.NormalDist{Mean: 1, Std: 2}))
		require.Equal(t, a.Beta(params.BetaDist{Alpha: 2, Beta: 20, Scale: 100}), b.Beta(params.BetaDist{Alpha: 2, Beta: 20, Scale: 100}))
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a, b := New(1), New(2)
	same := 0
	for i := 0; i < 32; i++ {
		if a.Float64() == b.Float64() {
			same++
		}
	}
	require.Less(t, same, 32)
}

func TestDegenerateDistributions(t *testing.T) {
	s := New(1)
	require.Equal(t, 3.0, s.Normal(params.NormalDist{Mean: 3}))
	require.Equal(t, 0.5, s.Uniform(params.UniformDist{Min: 0.5, Max: 0.5}))
	require.Equal(t, 4, s.IntRange(4, 4))
	require.Equal(t, 0, s.IntN(0))
	require.False(t, s.Bernoulli(0))
	require.True(t, s.Bernoulli(1))
}

func TestRangesRespected(t *testing.T) {
	s := New(99)
	for i := 0; i < 1000; i++ {
		v := s.IntRange(3, 9)
		require.GreaterOrEqual(t, v, 3)
		require.Less(t, v, 9)

		b := s.Beta(params.BetaDist{Alpha: 2, Beta: 5, Scale: 10})
		require.GreaterOrEqual(t, b, 0.0)
		require.LessOrEqual(t, b, 10.0)

		c := s.Clamped(params.NormalDist{Mean: 0.5, Std: 1}, 0, 1)
		require.GreaterOrEqual(t, c, 0.0)
		require.LessOrEqual(t, c, 1.0)
	}
}

func TestResumeFromMarshalledState(t *testing.T) {
	a := New(3)
	for i := 0; i < 10; i++ {
		a.Normal(params.NormalDist{Std: 1})
	}
	state, err := a.MarshalBinary()
	require.NoError(t, err)

	b := New(99)
	require.NoError(t, b.UnmarshalBinary(state))
	for i := 0; i < 20; i++ {
		require.Equal(t, a.Float64(), b.Float64())
		require.Equal(t, a.IntN(1000), b.IntN(1000))
	}
}
