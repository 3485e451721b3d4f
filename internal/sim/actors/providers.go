package actors

import (
	"math"

	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// GenerateProviders lets one provider join every new_provider_interval ticks.
func GenerateProviders(p params.Params, st *model.State, r *rng.Source) []model.Provider {
	now := st.Tick
	if p.NewProviderInterval <= 0 || now%uint64(p.NewProviderInterval) != 0 {
		return nil
	}
	return []model.Provider{{
		Capacity:      r.LogNormal(p.ProviderInitStorageDist),
		Balance:       math.Max(0, r.Normal(p.ProviderInitBalanceDist)),
		Discount:      math.Min(r.Beta(p.StoragePriceDiscountDist), 1-mathx.Eps),
		RiskTolerance: r.Uniform(p.RiskToleranceDist),
		ResizeRate:    p.ProviderResizeRate,
		Timeout:       uint64(p.ProviderTimeout),
		LastActive:    now,
		JoinedAt:      now,
	}}
}

func AddProviders(st *model.State, ps []model.Provider) {
	for _, pr := range ps {
		st.AddProvider(pr)
	}
}

// Utilization averages a provider's used share of capacity over past states.
// Ticks before the provider joined are skipped. Without any sample it falls
// back to the current utilization.
func Utilization(id model.ProviderID, cur *model.Provider, past []*model.State) float64 {
	var sum float64
	var n int
	for _, s := range past {
		if pr, ok := s.Providers[id]; ok {
			sum += pr.Utilization()
			n++
		}
	}
	if n == 0 {
		return cur.Utilization()
	}
	return sum / float64(n)
}

// Resize computes each regular provider's next capacity from its trailing
// utilization: busy providers grow, idle ones shrink but never below what
// they have committed, and a shrunken idle provider below min_capacity
// closes shop.
func Resize(p params.Params, st *model.State, past []*model.State) map[model.ProviderID]float64 {
	out := map[model.ProviderID]float64{}
	for _, id := range st.ProviderIDs() {
		pr := st.Providers[id]
		if pr.Treasury {
			continue
		}
		util := Utilization(id, pr, past)
		next := pr.Capacity
		switch {
		case util > p.ExpandThreshold:
			next = pr.Capacity * (1 + pr.ResizeRate)
		case util < p.ShrinkThreshold:
			next = math.Max(pr.Used, pr.Capacity*(1-pr.ResizeRate))
		}
		if next < p.MinCapacity && pr.Used <= 0 {
			next = 0
		}
		if next != pr.Capacity {
			out[id] = next
		}
	}
	return out
}

// ApplyResize sets the new capacities and marks providers with committed
// storage as active.
func ApplyResize(st *model.State, caps map[model.ProviderID]float64) {
	for _, id := range model.SortedKeys(caps) {
		if pr, ok := st.Providers[id]; ok {
			pr.Capacity = math.Max(caps[id], pr.Used)
		}
	}
	for _, id := range st.ProviderIDs() {
		if pr := st.Providers[id]; pr.Used > 0 {
			pr.LastActive = st.Tick
		}
	}
}

// Bankrupt lists regular providers without capacity that have been idle for
// their whole timeout.
func Bankrupt(st *model.State) []model.ProviderID {
	var out []model.ProviderID
	for _, id := range st.ProviderIDs() {
		pr := st.Providers[id]
		if pr.Treasury || pr.Capacity > 0 {
			continue
		}
		if st.Tick-pr.LastActive >= pr.Timeout {
			out = append(out, id)
		}
	}
	return out
}

func RemoveProviders(st *model.State, ids []model.ProviderID) {
	for _, id := range ids {
		st.RemoveProvider(id)
	}
}
