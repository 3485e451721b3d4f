package challenge

import (
	"math"

	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
)

// Forge is a withheld proof that went unnoticed.
type Forge struct {
	Contract model.OrderID `json:"contract"`
	Gain     float64       `json:"gain"`
	Size     float64       `json:"size"`
}

// Outcome lists how every contract and pending challenge resolved this tick.
// A challenge id appears in exactly one of Slashed and Won.
type Outcome struct {
	Slashed []model.OrderID `json:"slashed,omitempty"`
	Won     []model.OrderID `json:"won,omitempty"`
	Forged  []Forge         `json:"forged,omitempty"`
}

// Answer decides, without randomness, how each provider responds this tick.
// A provider withholds proofs while its past forging gains stay below its
// risk budget. Challenged cheats are slashed; unchallenged ones pocket the
// storage cost of the period.
func Answer(p params.Params, st *model.State) Outcome {
	var out Outcome
	for _, id := range st.ContractIDs() {
		c := st.Active[id]
		pr, ok := st.Providers[c.Provider]
		if !ok {
			continue
		}
		_, challenged := st.Challenges[id]
		switch {
		case pr.Cheats() && challenged:
			out.Slashed = append(out.Slashed, id)
		case pr.Cheats():
			var gain float64
			if c.NextEpoch > 0 {
				gain = pr.MinFee(st.Market, p.FeeScaleUnit) * c.Size / float64(c.NextEpoch)
			}
			out.Forged = append(out.Forged, Forge{Contract: id, Gain: gain, Size: c.Size})
		case challenged:
			out.Won = append(out.Won, id)
		}
	}
	for _, id := range st.ChallengeIDs() {
		if _, ok := st.Active[id]; !ok {
			out.Won = append(out.Won, id)
		}
	}
	return out
}

// Slash is the settlement of one lost challenge.
type Slash struct {
	Contract   model.OrderID    `json:"contract"`
	Provider   model.ProviderID `json:"provider"`
	Enforcer   model.BuyerID    `json:"enforcer"`
	Amount     float64          `json:"amount"`
	ToEnforcer float64          `json:"to_enforcer"`
	ToTreasury float64          `json:"to_treasury"`
	Burned     float64          `json:"burned"`
	Refund     float64          `json:"refund"`
}

// Settle applies o to st and returns the slashing transfers. Forgeries are
// booked first, then slashes in contract order, then won challenges are
// dropped.
func Settle(p params.Params, st *model.State, o Outcome) []Slash {
	for _, f := range o.Forged {
		c, ok := st.Active[f.Contract]
		if !ok {
			continue
		}
		if pr, ok := st.Providers[c.Provider]; ok {
			pr.ForgesWon += f.Gain
		}
		st.StorageStolen += f.Size
	}

	var slashes []Slash
	for _, id := range o.Slashed {
		if s, ok := slash(p, st, id); ok {
			slashes = append(slashes, s)
		}
	}

	for _, id := range o.Won {
		delete(st.Challenges, id)
	}
	return slashes
}

func slash(p params.Params, st *model.State, id model.OrderID) (Slash, bool) {
	c, ok := st.Active[id]
	if !ok {
		return Slash{}, false
	}
	ch, ok := st.Challenges[id]
	if !ok {
		return Slash{}, false
	}
	pr := st.Providers[c.Provider]
	reaped := c.Size * c.Price

	fromStake := math.Min(reaped, c.Stake)
	fromBalance := math.Min(reaped-fromStake, pr.Balance)
	c.Stake = mathx.ClampZero(c.Stake - fromStake)
	pr.Balance = mathx.ClampZero(pr.Balance - fromBalance)

	s := Slash{Contract: id, Provider: pr.ID, Enforcer: ch.Enforcer}
	s.Amount = fromStake + fromBalance
	s.ToEnforcer = s.Amount * p.SlashingDistEnf
	s.ToTreasury = s.Amount * p.SlashingDistDAO
	s.Burned = mathx.ClampZero(s.Amount - s.ToEnforcer - s.ToTreasury)

	if enf, ok := st.Buyers[ch.Enforcer]; ok {
		enf.Balance += s.ToEnforcer
		enf.ChallengesWon += s.ToEnforcer
	} else {
		// Nobody left to reward.
		s.Burned += s.ToEnforcer
		s.ToEnforcer = 0
	}
	st.Treasury().Balance += s.ToTreasury

	refundEscrow := math.Min(reaped, c.Escrow)
	refundBalance := math.Min(reaped-refundEscrow, pr.Balance)
	c.Escrow = mathx.ClampZero(c.Escrow - refundEscrow)
	pr.Balance = mathx.ClampZero(pr.Balance - refundBalance)
	s.Refund = refundEscrow + refundBalance
	st.CreditBuyer(c.Buyer, s.Refund)

	pr.Balance += c.Locked()
	pr.Used = mathx.ClampZero(pr.Used - c.Size)
	delete(st.Active, id)
	delete(st.Challenges, id)

	st.VSlashed += s.Amount
	st.VBurned += s.Burned
	return s, true
}
