package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
)

type digester struct {
	h   hash.Hash
	tmp [8]byte
}

func (d *digester) u64(v uint64) {
	binary.LittleEndian.PutUint64(d.tmp[:], v)
	d.h.Write(d.tmp[:])
}

func (d *digester) i64(v int)     { d.u64(uint64(int64(v))) }
func (d *digester) f64(v float64) { d.u64(math.Float64bits(v)) }

func (d *digester) flag(b bool) {
	if b {
		d.h.Write([]byte{1})
		return
	}
	d.h.Write([]byte{0})
}

// Digest is a sha256 over the full state in registry order. Two runs with the
// same seed and params produce the same digest at every tick.
func (s *State) Digest() string {
	d := &digester{h: sha256.New()}

	d.u64(s.Tick)
	d.f64(s.Market.StoragePrice)
	d.f64(s.Market.GasPrice)
	d.f64(s.Market.TokenPrice)
	d.f64(s.Market.SPrice)
	d.f64(s.Fills.Volume)
	d.f64(s.Fills.Value)
	d.i64(s.Fills.Count)
	for _, v := range []float64{s.StorageStolen, s.VSlashed, s.VBurned, s.VGasSpent, s.VGranted, s.VMinted, s.VExited} {
		d.f64(v)
	}
	d.i64(s.Cohort)
	d.u64(s.NextIdeaAt)
	d.u64(uint64(s.NextBuyer))
	d.u64(uint64(s.NextProvider))
	d.u64(uint64(s.NextOrder))

	for _, id := range s.BuyerIDs() {
		b := s.Buyers[id]
		d.u64(uint64(id))
		d.f64(b.Balance)
		d.f64(b.Fiat)
		d.f64(b.Stinginess)
		d.u64(b.LastContract)
		d.i64(b.UnfilledOrders)
		d.i64(b.AllOrders)
		d.f64(b.UXTolerance)
		d.f64(b.ChallengesWon)
		d.u64(b.JoinedAt)
	}
	for _, id := range s.ProviderIDs() {
		p := s.Providers[id]
		d.u64(uint64(id))
		d.f64(p.Balance)
		d.f64(p.Fiat)
		d.f64(p.Capacity)
		d.f64(p.Used)
		d.f64(p.Discount)
		d.f64(p.RiskTolerance)
		d.f64(p.ForgesWon)
		d.f64(p.ResizeRate)
		d.u64(p.Timeout)
		d.u64(p.LastActive)
		d.flag(p.Treasury)
		d.u64(p.JoinedAt)
	}
	for _, id := range s.OrderIDs() {
		o := s.Orders[id]
		d.u64(uint64(id))
		d.u64(uint64(o.Buyer))
		d.f64(o.Size)
		d.u64(o.Duration)
		d.u64(o.CreatedAt)
		d.f64(o.Price)
		d.f64(o.Escrow)
		d.i64(o.ChallengeQuota)
	}
	for _, id := range s.ContractIDs() {
		c := s.Active[id]
		d.u64(uint64(id))
		d.u64(uint64(c.Provider))
		d.u64(uint64(c.Buyer))
		d.f64(c.Size)
		d.u64(c.EpochCreatedAt)
		d.u64(c.NextEpoch)
		d.f64(c.Price)
		d.f64(c.Escrow)
		d.f64(c.Stake)
		d.i64(c.ChallengesLeft)
		d.u64(c.NextChallenge)
	}
	for _, id := range s.ChallengeIDs() {
		ch := s.Challenges[id]
		d.u64(uint64(id))
		d.u64(uint64(ch.Enforcer))
		d.u64(ch.IssuedAt)
		d.u64(ch.DueBy)
		d.flag(ch.ProofSubmitted)
	}

	return hex.EncodeToString(d.h.Sum(nil))
}
