// Package challenge runs the proof-of-storage game: buyers challenge active
// contracts and providers that withheld proofs get slashed.
package challenge

import (
	"math"

	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// IssueResult holds the challenges created in one tick, in contract order.
type IssueResult struct {
	Issued []model.Challenge `json:"issued,omitempty"`
	Gas    float64           `json:"gas"` // tokens paid per challenge
}

// Issue picks an enforcer for every contract due for a challenge. Each time,
// a random share of the buyers who can afford gas is aware of the
// opportunity, and the aware buyer with the best record takes it and pays
// gas. A buyer that can no longer pay leaves the pool for the rest of the
// tick.
func Issue(p params.Params, st *model.State, r *rng.Source) IssueResult {
	now := st.Tick
	res := IssueResult{Gas: st.Market.Gas()}

	type candidate struct {
		id      model.BuyerID
		balance float64
		won     float64
	}
	var pool []*candidate
	for _, id := range st.BuyerIDs() {
		b := st.Buyers[id]
		if b.Balance >= res.Gas {
			pool = append(pool, &candidate{id: id, balance: b.Balance, won: b.ChallengesWon})
		}
	}
	nAware := int(math.Ceil(p.ChallengeAwarenessRate * float64(len(st.Buyers))))

	for _, id := range st.ContractIDs() {
		c := st.Active[id]
		if !Due(c, st, now) {
			continue
		}
		if len(pool) == 0 || nAware == 0 {
			break
		}

		r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		aware := pool[:min(nAware, len(pool))]
		best := 0
		for i, cand := range aware {
			if cand.won > aware[best].won {
				best = i
			}
		}
		enf := aware[best]
		enf.balance -= res.Gas
		enf.won -= res.Gas
		if enf.balance < res.Gas {
			pool = append(pool[:best], pool[best+1:]...)
		}

		age := int(c.Age(now))
		next := c.EpochCreatedAt + uint64(r.IntRange(age, int(c.NextEpoch)))
		res.Issued = append(res.Issued, model.Challenge{
			Enforcer: enf.id,
			Contract: id,
			IssuedAt: now,
			DueBy:    next,
		})
	}
	return res
}

// Due reports whether c can be challenged at now.
func Due(c *model.Contract, st *model.State, now uint64) bool {
	if _, pending := st.Challenges[c.ID]; pending {
		return false
	}
	return c.ChallengesLeft > 0 && now >= c.NextChallenge && c.Age(now) < c.NextEpoch
}

// ApplyBuyers charges every enforcer its gas.
func (res IssueResult) ApplyBuyers(st *model.State) {
	for _, ch := range res.Issued {
		b, ok := st.Buyers[ch.Enforcer]
		if !ok {
			continue
		}
		gas := math.Min(res.Gas, b.Balance)
		b.Balance = mathx.ClampZero(b.Balance - gas)
		b.ChallengesWon -= gas
		st.VGasSpent += gas
	}
}

func (res IssueResult) ApplyChallenges(st *model.State) {
	for _, ch := range res.Issued {
		cp := ch
		st.Challenges[ch.Contract] = &cp
	}
}

// ApplyContracts moves each challenged contract's next challenge tick and
// spends one unit of its challenge budget.
func (res IssueResult) ApplyContracts(st *model.State) {
	for _, ch := range res.Issued {
		if c, ok := st.Active[ch.Contract]; ok {
			c.NextChallenge = ch.DueBy
			c.ChallengesLeft--
		}
	}
}
