package model

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"

	"fsmarket.sim/internal/sim/mathx"
)

// conservationTol is relative to the minted supply.
const conservationTol = 1e-6

// CheckInvariants reports every broken state invariant of s.
func (s *State) CheckInvariants() error {
	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf("tick %d: "+format, append([]any{s.Tick}, args...)...))
	}

	tr, ok := s.Providers[TreasuryID]
	if !ok || !tr.Treasury {
		fail("treasury provider missing")
	}

	for _, id := range s.BuyerIDs() {
		b := s.Buyers[id]
		if b.UnfilledOrders > b.AllOrders {
			fail("buyer %d: unfilled_orders %d > all_orders %d", id, b.UnfilledOrders, b.AllOrders)
		}
		if b.Balance < -mathx.Eps {
			fail("buyer %d: negative balance %g", id, b.Balance)
		}
		if b.Fiat < -mathx.Eps {
			fail("buyer %d: negative fiat %g", id, b.Fiat)
		}
	}

	used := make(map[ProviderID]float64, len(s.Providers))
	for _, id := range s.ContractIDs() {
		c := s.Active[id]
		if _, ok := s.Providers[c.Provider]; !ok {
			fail("contract %d: provider %d not registered", id, c.Provider)
		}
		if c.Escrow < -mathx.Eps || c.Stake < -mathx.Eps {
			fail("contract %d: negative escrow %g or stake %g", id, c.Escrow, c.Stake)
		}
		if c.ChallengesLeft < 0 {
			fail("contract %d: challenges_left %d", id, c.ChallengesLeft)
		}
		used[c.Provider] += c.Size
	}

	for _, id := range s.ProviderIDs() {
		p := s.Providers[id]
		if p.Used > p.Capacity+mathx.Eps {
			fail("provider %d: used %g exceeds capacity %g", id, p.Used, p.Capacity)
		}
		if p.Capacity < 0 {
			fail("provider %d: negative capacity %g", id, p.Capacity)
		}
		if p.Balance < -mathx.Eps {
			fail("provider %d: negative balance %g", id, p.Balance)
		}
		if math.Abs(p.Used-used[id]) > mathx.Eps*math.Max(1, p.Used) {
			fail("provider %d: used %g but contracts hold %g", id, p.Used, used[id])
		}
	}

	for _, id := range s.OrderIDs() {
		o := s.Orders[id]
		if _, ok := s.Active[id]; ok {
			fail("order %d: both pending and active", id)
		}
		if o.Size <= 0 {
			fail("order %d: size %g", id, o.Size)
		}
		if o.Escrow < -mathx.Eps {
			fail("order %d: negative escrow %g", id, o.Escrow)
		}
	}

	for _, id := range s.ChallengeIDs() {
		ch := s.Challenges[id]
		if ch.Contract != id {
			fail("challenge keyed %d points at contract %d", id, ch.Contract)
		}
		if _, ok := s.Active[id]; !ok {
			fail("challenge %d: contract not active", id)
		}
	}

	if d := s.SupplyDrift(); math.Abs(d) > conservationTol*math.Max(1, s.VMinted) {
		fail("token supply drifted by %g", d)
	}

	return errs.ErrorOrNil()
}

// SupplyDrift is minted supply minus everything accounted for. It stays at
// zero up to rounding: tokens only move between holders, get burned, pay gas
// or leave with departing participants.
func (s *State) SupplyDrift() float64 {
	return s.VMinted - (s.Circulating() + s.VBurned + s.VGasSpent + s.VExited)
}
