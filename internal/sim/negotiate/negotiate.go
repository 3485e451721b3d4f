// Package negotiate ages pending orders: young orders wait, older ones raise
// their bid toward what the buyer will pay, and expired ones are cancelled.
package negotiate

import (
	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
)

// Result is the renegotiated order book plus what it means for buyers.
type Result struct {
	Orders    map[model.OrderID]*model.Order `json:"orders"`
	Cancelled map[model.BuyerID]int          `json:"cancelled"`
	// BalanceDelta is negative for raised bids escrowed this tick and
	// positive for escrow refunded by cancellations.
	BalanceDelta map[model.BuyerID]float64 `json:"balance_delta"`
}

// Negotiate reads st without modifying it.
func Negotiate(p params.Params, st *model.State) Result {
	res := Result{
		Orders:       make(map[model.OrderID]*model.Order, len(st.Orders)),
		Cancelled:    map[model.BuyerID]int{},
		BalanceDelta: map[model.BuyerID]float64{},
	}
	now := st.Tick
	resubmit := uint64(p.OrderResubmitInterval)
	timeout := uint64(p.OrderTimeoutInterval)
	committed := map[model.BuyerID]float64{}

	for _, id := range st.OrderIDs() {
		o := *st.Orders[id]
		age := o.Age(now)

		switch {
		case age < resubmit:
			res.Orders[id] = &o

		case age < timeout:
			if b, ok := st.Buyers[o.Buyer]; ok {
				if raise := haggle(p, st.Market.SPrice, b, &o, b.Balance-committed[o.Buyer]); raise > 0 {
					committed[o.Buyer] += raise
					res.BalanceDelta[o.Buyer] -= raise
				}
			}
			res.Orders[id] = &o

		default:
			res.Cancelled[o.Buyer]++
			res.BalanceDelta[o.Buyer] += o.Escrow
		}
	}
	return res
}

// haggle raises o's unit price toward the buyer's target and returns the
// extra escrow, or leaves o untouched and returns 0.
func haggle(p params.Params, mkt float64, b *model.Buyer, o *model.Order, available float64) float64 {
	if b.Stinginess <= 0 || o.Size <= 0 {
		return 0
	}
	delta := p.HaggleResolution
	if mkt != 0 {
		delta = mkt*b.Stinginess - o.Price
	}
	if delta <= 0 || available <= 0 {
		return 0
	}
	cost := delta * o.Size
	if cost > available {
		cost = available
		delta = available / o.Size
	}
	o.Price += delta
	o.Escrow += cost
	return cost
}

// ApplyOrders replaces the order book.
func (r Result) ApplyOrders(st *model.State) {
	st.Orders = make(map[model.OrderID]*model.Order, len(r.Orders))
	for id, o := range r.Orders {
		cp := *o
		st.Orders[id] = &cp
	}
}

// ApplyBuyers books cancellations and settles balance deltas.
func (r Result) ApplyBuyers(st *model.State) {
	for _, id := range model.SortedKeys(r.Cancelled) {
		if b, ok := st.Buyers[id]; ok {
			b.UnfilledOrders += r.Cancelled[id]
		}
	}
	for _, id := range model.SortedKeys(r.BalanceDelta) {
		d := r.BalanceDelta[id]
		if b, ok := st.Buyers[id]; ok {
			b.Balance = mathx.ClampZero(b.Balance + d)
			continue
		}
		st.CreditBuyer(id, d)
	}
}
