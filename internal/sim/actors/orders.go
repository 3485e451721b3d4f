package actors

import (
	"math"

	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// GenerateOrders places one order for every buyer whose idea fired this
// tick. The buyer bids the reference price when it can afford the whole
// order and otherwise spreads its balance over the size.
func GenerateOrders(p params.Params, st *model.State, r *rng.Source) []model.Order {
	now := st.Tick
	ref := st.Market.ReferencePrice()
	var out []model.Order
	for _, id := range st.BuyerIDs() {
		b := st.Buyers[id]
		if b.LastContract != now {
			continue
		}
		size := r.Beta(p.OrderSizeDist)
		if size <= 0 {
			continue
		}
		duration := math.Max(1, math.Round(r.Normal(p.ContractDurationDist)))
		price := math.Min(ref*size, mathx.ClampZero(b.Balance)) / size
		out = append(out, model.Order{
			Buyer:          id,
			Size:           size,
			Duration:       uint64(duration),
			CreatedAt:      now,
			Price:          price,
			Escrow:         price * size,
			ChallengeQuota: p.ChallengesPerContract,
		})
	}
	return out
}

// ApplyOrders escrows each order's cost from its buyer and books it.
func ApplyOrders(st *model.State, orders []model.Order) {
	for _, o := range orders {
		b, ok := st.Buyers[o.Buyer]
		if !ok {
			continue
		}
		o.Escrow = math.Min(o.Escrow, b.Balance)
		b.Balance = mathx.ClampZero(b.Balance - o.Escrow)
		b.AllOrders++
		st.AddOrder(o)
	}
}
