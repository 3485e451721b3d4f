// Package actors models who enters and leaves the market and what they do on
// their own: buyers join in cohorts, get ideas, place orders and churn;
// providers join, resize and go out of business.
package actors

import (
	"math"

	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// Arrivals are the buyers joining this tick.
type Arrivals struct {
	Buyers     []model.Buyer `json:"buyers,omitempty"`
	NextCohort int           `json:"next_cohort"`
}

// GenerateUsers lets a cohort join every new_user_interval ticks. Cohorts
// double in size each burst up to max_cohort.
func GenerateUsers(p params.Params, st *model.State, r *rng.Source) Arrivals {
	now := st.Tick
	out := Arrivals{NextCohort: st.Cohort}
	if p.NewUserInterval <= 0 || now%uint64(p.NewUserInterval) != 0 {
		return out
	}
	for i := 0; i < st.Cohort; i++ {
		out.Buyers = append(out.Buyers, model.Buyer{
			Balance:      math.Max(0, r.Normal(p.UserInitBalanceDist)),
			Fiat:         math.Max(0, r.Normal(p.UserInitFiatDist)),
			Stinginess:   r.Normal(p.StinginessDist),
			UXTolerance:  r.Clamped(p.UXToleranceDist, 0, 1),
			LastContract: now,
			JoinedAt:     now,
		})
	}
	out.NextCohort = min(st.Cohort*2, p.MaxCohort)
	return out
}

func (a Arrivals) Apply(st *model.State) {
	for _, b := range a.Buyers {
		st.AddBuyer(b)
	}
	st.Cohort = a.NextCohort
}

// Grants are treasury payouts to buyers that ran dry.
type Grants struct {
	PerBuyer map[model.BuyerID]float64 `json:"per_buyer,omitempty"`
	Total    float64                   `json:"total"`
}

// FundUsers grants every buyer with an empty balance a random share of the
// treasury, capped at grant_max. Grants never exceed what the treasury holds.
func FundUsers(p params.Params, st *model.State, r *rng.Source) Grants {
	g := Grants{PerBuyer: map[model.BuyerID]float64{}}
	tr := st.Treasury()
	if tr == nil {
		return g
	}
	left := tr.Balance
	for _, id := range st.BuyerIDs() {
		if st.Buyers[id].Balance > mathx.Eps || left <= 0 {
			continue
		}
		amt := math.Min(r.Float64()*p.GrantPortion*tr.Balance, p.GrantMax)
		amt = math.Min(amt, left)
		if amt <= 0 {
			continue
		}
		g.PerBuyer[id] = amt
		g.Total += amt
		left -= amt
	}
	return g
}

func (g Grants) ApplyBuyers(st *model.State) {
	for _, id := range model.SortedKeys(g.PerBuyer) {
		st.CreditBuyer(id, g.PerBuyer[id])
	}
}

func (g Grants) ApplyTreasury(st *model.State) {
	tr := st.Treasury()
	tr.Balance = mathx.ClampZero(tr.Balance - g.Total)
	st.VGranted += g.Total
}

// UpdateLastContract fires the idea timer of every buyer whose last idea is
// new_idea_interval ticks old.
func UpdateLastContract(p params.Params, st *model.State) {
	now := st.Tick
	for _, id := range st.BuyerIDs() {
		b := st.Buyers[id]
		if now-b.LastContract == uint64(p.NewIdeaInterval) {
			b.LastContract = now
		}
	}
}

// Churn lists the buyers whose share of unfilled orders exceeds their
// tolerance. Buyers that never ordered stay.
func Churn(st *model.State) []model.BuyerID {
	var out []model.BuyerID
	for _, id := range st.BuyerIDs() {
		if st.Buyers[id].WantsToLeave() {
			out = append(out, id)
		}
	}
	return out
}

// RemoveBuyers drops the churned buyers and their pending orders.
func RemoveBuyers(st *model.State, ids []model.BuyerID) {
	for _, id := range ids {
		st.RemoveBuyer(id)
	}
}
