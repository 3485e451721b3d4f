// Package contracts manages active storage contracts from promotion of a
// matched order to expiry.
package contracts

import (
	"math"

	"fsmarket.sim/internal/sim/matching"
	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// Promote turns every filled order of res into an active contract: the
// buyer's escrow moves onto the contract, the provider posts its collateral
// as stake and commits the storage. It records the pass in st.Fills and
// returns the promoted ids in order.
func Promote(p params.Params, st *model.State, res matching.MatchResult, r *rng.Source) []model.OrderID {
	now := st.Tick
	st.Fills = model.Fills{}

	var promoted []model.OrderID
	for _, id := range model.SortedKeys(res.Filled) {
		o, ok := st.Orders[id]
		if !ok {
			continue
		}
		pr, ok := st.Providers[res.Filled[id]]
		if !ok {
			continue
		}

		stake := math.Min(matching.Collateral(p, pr, o), pr.Balance)
		pr.Balance = mathx.ClampZero(pr.Balance - stake)
		pr.Used += o.Size
		pr.LastActive = now

		term := o.Duration
		if term == 0 {
			term = 1
		}
		st.Active[id] = &model.Contract{
			ID:             id,
			Provider:       pr.ID,
			Buyer:          o.Buyer,
			Size:           o.Size,
			EpochCreatedAt: now,
			NextEpoch:      term,
			Price:          o.Price,
			Escrow:         o.Escrow,
			Stake:          stake,
			ChallengesLeft: o.ChallengeQuota,
			NextChallenge:  now + uint64(r.IntN(int(term))),
		}
		delete(st.Orders, id)

		st.Fills.Volume += o.Size
		st.Fills.Value += o.Value()
		st.Fills.Count++
		promoted = append(promoted, id)
	}
	return promoted
}

// Installment is the per tick payment of a contract: twice the fee spread
// over the term, covering the fee and the stake refund.
func Installment(c *model.Contract) float64 {
	if c.NextEpoch == 0 {
		return c.Locked()
	}
	return 2 * c.Value() / float64(c.NextEpoch)
}

// PayInstallments releases one installment per active contract to its
// provider, from escrow first and then stake. It returns the total paid.
func PayInstallments(st *model.State) float64 {
	total := 0.0
	for _, id := range st.ContractIDs() {
		c := st.Active[id]
		amt := math.Min(Installment(c), c.Locked())
		if amt <= 0 {
			continue
		}
		fromEscrow := math.Min(amt, c.Escrow)
		c.Escrow = mathx.ClampZero(c.Escrow - fromEscrow)
		c.Stake = mathx.ClampZero(c.Stake - (amt - fromEscrow))
		st.CreditProvider(c.Provider, amt)
		total += amt
	}
	return total
}

// OrphanExpired lists contracts whose term has elapsed or whose buyer has
// left the market.
func OrphanExpired(st *model.State) []model.OrderID {
	var out []model.OrderID
	for _, id := range st.ContractIDs() {
		c := st.Active[id]
		_, buyerLeft := st.Buyers[c.Buyer]
		if c.Expired(st.Tick) || !buyerLeft {
			out = append(out, id)
		}
	}
	return out
}

// Remove retires contracts: the provider gets back the storage and whatever
// is still locked, and a pending challenge closes as a provider win. Buyer
// churn counters are untouched. It returns the closed challenges.
func Remove(st *model.State, ids []model.OrderID) []model.OrderID {
	var closed []model.OrderID
	for _, id := range ids {
		c, ok := st.Active[id]
		if !ok {
			continue
		}
		if pr, ok := st.Providers[c.Provider]; ok {
			pr.Used = mathx.ClampZero(pr.Used - c.Size)
		}
		st.CreditProvider(c.Provider, c.Locked())
		if _, ok := st.Challenges[id]; ok {
			delete(st.Challenges, id)
			closed = append(closed, id)
		}
		delete(st.Active, id)
	}
	return closed
}
