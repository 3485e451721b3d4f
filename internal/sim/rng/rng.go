// Package rng is the single source of randomness of a simulation run. Every
// stochastic stage draws from the Source it is handed, so a run is fully
// determined by its seed.
package rng

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"fsmarket.sim/internal/sim/params"
)

type Source struct {
	pcg *rand.PCG
	src rand.Source
	r   *rand.Rand
}

func New(seed int64) *Source {
	pcg := rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15)
	return &Source{pcg: pcg, src: pcg, r: rand.New(pcg)}
}

// MarshalBinary captures the generator position so a resumed run draws the
// same numbers as an uninterrupted one.
func (s *Source) MarshalBinary() ([]byte, error) { return s.pcg.MarshalBinary() }

func (s *Source) UnmarshalBinary(b []byte) error { return s.pcg.UnmarshalBinary(b) }

func (s *Source) Float64() float64 { return s.r.Float64() }

// IntN returns a uniform int in [0, n). n <= 0 yields 0.
func (s *Source) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return s.r.IntN(n)
}

// IntRange returns a uniform int in [lo, hi). An empty range yields lo.
func (s *Source) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.r.IntN(hi-lo)
}

func (s *Source) Shuffle(n int, swap func(i, j int)) { s.r.Shuffle(n, swap) }

func (s *Source) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.r.Float64() < p
}

func (s *Source) Normal(d params.NormalDist) float64 {
	if d.Std <= 0 {
		return d.Mean
	}
	return distuv.Normal{Mu: d.Mean, Sigma: d.Std, Src: s.src}.Rand()
}

func (s *Source) Beta(d params.BetaDist) float64 {
	scale := d.Scale
	if scale == 0 {
		scale = 1
	}
	return distuv.Beta{Alpha: d.Alpha, Beta: d.Beta, Src: s.src}.Rand() * scale
}

func (s *Source) LogNormal(d params.LogNormalDist) float64 {
	if d.Sigma <= 0 {
		return math.Exp(d.Mu)
	}
	return distuv.LogNormal{Mu: d.Mu, Sigma: d.Sigma, Src: s.src}.Rand()
}

func (s *Source) Uniform(d params.UniformDist) float64 {
	if d.Max <= d.Min {
		return d.Min
	}
	return distuv.Uniform{Min: d.Min, Max: d.Max, Src: s.src}.Rand()
}

// Clamped draws from d and clamps the result into [lo, hi].
func (s *Source) Clamped(d params.NormalDist, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, s.Normal(d)))
}
