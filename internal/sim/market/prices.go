// Package market implements the global price processes: storage price decay,
// gas and token draws, the prevailing storage price and the token auction.
package market

import (
	"math"

	"github.com/samber/lo"

	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// StoragePrice decays the base price geometrically per year-equivalent of
// ticks. The first call (prev == 0) seeds the base price.
func StoragePrice(p params.Params, tick uint64, prev float64) float64 {
	if prev == 0 || p.TicksPerYear <= 0 {
		return p.BaseStoragePrice
	}
	years := float64(tick) / float64(p.TicksPerYear)
	return p.BaseStoragePrice * math.Pow(p.DBiyearStoragePrice, years)
}

func GasPrice(p params.Params, r *rng.Source) float64 {
	return math.Max(p.MinGasPrice, r.Normal(p.GasPriceDist))
}

// TokenPrice takes one geometric random walk step from prev.
func TokenPrice(p params.Params, prev float64, r *rng.Source) float64 {
	step := r.Normal(params.NormalDist{Std: p.TokenVolatility})
	return math.Max(p.MinTokenPrice, prev*math.Exp(step))
}

// PrevailingPrice is the size weighted mean fill price over the given ticks,
// or 0 when nothing filled.
func PrevailingPrice(fills []model.Fills) float64 {
	volume := lo.SumBy(fills, func(f model.Fills) float64 { return f.Volume })
	if volume <= 0 {
		return 0
	}
	return lo.SumBy(fills, func(f model.Fills) float64 { return f.Value }) / volume
}
