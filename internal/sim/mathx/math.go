package mathx

import (
	"math"
	"sort"
)

// Eps absorbs float rounding when comparing balances and capacities.
const Eps = 1e-9

// ClampZero snaps tiny negative results of a subtraction back to zero.
func ClampZero(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	return x
}

func Min01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 || math.IsNaN(x) {
		return 1
	}
	return x
}

// SafeRatio returns num/den, or 0 when den is zero.
func SafeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func Gini(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	sum := 0.0
	valid := make([]float64, 0, len(values))
	for _, x := range values {
		if x <= 0 {
			continue
		}
		valid = append(valid, x)
		sum += x
	}
	if len(valid) <= 1 || sum <= 0 {
		return 0
	}
	sort.Float64s(valid)
	// (2*sum_i i*x_i)/(n*sum x) - (n+1)/n, with i=1..n.
	n := float64(len(valid))
	var weighted float64
	for i, x := range valid {
		weighted += float64(i+1) * x
	}
	g := (2.0*weighted)/(n*sum) - (n+1.0)/n
	return Min01(g)
}
