// Package matching clears pending storage orders against provider capacity
// and collateral. The pass is myopic on purpose: providers pick in registry
// order and no global optimum is searched for.
package matching

import (
	"sort"

	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
)

// Shuffler randomizes the order in which providers discover orders.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Spend is what a provider committed during one pass.
type Spend struct {
	Size    float64 `json:"size"`
	Balance float64 `json:"balance"`
}

type MatchResult struct {
	Filled map[model.OrderID]model.ProviderID `json:"filled"`
	Spent  map[model.ProviderID]Spend         `json:"spent"`
	Value  float64                            `json:"value"`
	Volume float64                            `json:"volume"`
}

func (r MatchResult) Empty() bool { return len(r.Filled) == 0 }

// Collateral is the stake a provider posts for an order.
func Collateral(p params.Params, pr *model.Provider, o *model.Order) float64 {
	if pr.Treasury {
		return 0
	}
	return p.CollateralizationRate * o.Size * o.Price
}

// Match runs one matching pass over st. Orders are visited in a shuffled
// order; each provider, treasury last, keeps the most valuable subset of the
// unclaimed orders it is willing to serve that fits its free capacity and
// collateral budget.
func Match(p params.Params, st *model.State, r Shuffler) MatchResult {
	res := MatchResult{
		Filled: map[model.OrderID]model.ProviderID{},
		Spent:  map[model.ProviderID]Spend{},
	}
	if len(st.Orders) == 0 || len(st.Providers) == 0 {
		return res
	}

	pending := make([]*model.Order, 0, len(st.Orders))
	for _, id := range st.OrderIDs() {
		pending = append(pending, st.Orders[id])
	}
	r.Shuffle(len(pending), func(i, j int) { pending[i], pending[j] = pending[j], pending[i] })

	for _, pid := range st.ProviderIDs() {
		pr := st.Providers[pid]
		fee := pr.MinFee(st.Market, p.FeeScaleUnit)

		var eligible []*model.Order
		for _, o := range pending {
			if _, claimed := res.Filled[o.ID]; claimed {
				continue
			}
			if o.Size > 0 && o.Price >= fee {
				eligible = append(eligible, o)
			}
		}
		if len(eligible) == 0 {
			continue
		}
		sort.SliceStable(eligible, func(i, j int) bool {
			return eligible[i].Value() < eligible[j].Value()
		})

		accepted := fill(p, pr, eligible)
		if len(accepted) == 0 {
			continue
		}
		var sp Spend
		for _, o := range accepted {
			res.Filled[o.ID] = pid
			sp.Size += o.Size
			sp.Balance += Collateral(p, pr, o)
			res.Value += o.Value()
			res.Volume += o.Size
		}
		res.Spent[pid] = sp
	}
	return res
}

// fill accepts every ranked order, evicts the cheapest until the provider's
// free capacity and balance cover the rest, then backfills evicted orders from
// the most to the least valuable wherever they still fit. ranked is sorted by
// ascending value.
func fill(p params.Params, pr *model.Provider, ranked []*model.Order) []*model.Order {
	free := mathx.ClampZero(pr.Capacity - pr.Used)
	budget := mathx.ClampZero(pr.Balance)

	var size, coll float64
	for _, o := range ranked {
		size += o.Size
		coll += Collateral(p, pr, o)
	}

	cut := 0
	for cut < len(ranked) && (size > free || coll > budget) {
		size -= ranked[cut].Size
		coll -= Collateral(p, pr, ranked[cut])
		cut++
	}
	accepted := append([]*model.Order(nil), ranked[cut:]...)
	size, coll = 0, 0
	for _, o := range accepted {
		size += o.Size
		coll += Collateral(p, pr, o)
	}

	for i := cut - 1; i >= 0; i-- {
		o := ranked[i]
		c := Collateral(p, pr, o)
		if size+o.Size <= free && coll+c <= budget {
			accepted = append(accepted, o)
			size += o.Size
			coll += c
		}
	}
	return accepted
}
