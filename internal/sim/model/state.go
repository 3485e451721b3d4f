// Package model holds the simulation state and its records. State is plain
// data: every stage reads the previous state and writes into a deep copy.
package model

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"fsmarket.sim/internal/sim/params"
)

// Fills aggregates the orders matched in one tick.
type Fills struct {
	Volume float64 `json:"volume"`
	Value  float64 `json:"value"`
	Count  int     `json:"count"`
}

// Price is the size weighted mean unit price of the tick's fills.
func (f Fills) Price() float64 {
	if f.Volume <= 0 {
		return 0
	}
	return f.Value / f.Volume
}

type State struct {
	Tick uint64 `json:"tick"`

	Buyers     map[BuyerID]*Buyer       `json:"buyers"`
	Providers  map[ProviderID]*Provider `json:"providers"`
	Orders     map[OrderID]*Order       `json:"orders"`
	Active     map[OrderID]*Contract    `json:"active"`
	Challenges map[OrderID]*Challenge   `json:"challenges"`

	Market Market `json:"market"`
	Fills  Fills  `json:"fills"`

	// Cumulative counters.
	StorageStolen float64 `json:"storage_stolen"`
	VSlashed      float64 `json:"v_slashed"`
	VBurned       float64 `json:"v_burned"`
	VGasSpent     float64 `json:"v_gas_spent"`
	VGranted      float64 `json:"v_granted"`
	VMinted       float64 `json:"v_minted"`
	VExited       float64 `json:"v_exited"`

	Cohort       int        `json:"cohort"`
	NextIdeaAt   uint64     `json:"next_idea_at"`
	NextBuyer    BuyerID    `json:"next_buyer"`
	NextProvider ProviderID `json:"next_provider"`
	NextOrder    OrderID    `json:"next_order"`
}

// NewState returns the tick 0 state: no buyers, no orders, and the treasury
// provider endowed from p.
func NewState(p params.Params) *State {
	s := &State{
		Buyers:       map[BuyerID]*Buyer{},
		Providers:    map[ProviderID]*Provider{},
		Orders:       map[OrderID]*Order{},
		Active:       map[OrderID]*Contract{},
		Challenges:   map[OrderID]*Challenge{},
		Market:       Market{TokenPrice: p.InitTokenPrice, GasPrice: p.GasPriceDist.Mean},
		Cohort:       p.InitialCohort,
		NextBuyer:    1,
		NextProvider: TreasuryID + 1,
		NextOrder:    1,
	}
	s.Providers[TreasuryID] = &Provider{
		ID:       TreasuryID,
		Balance:  p.TreasuryInitBalance,
		Capacity: p.TreasuryCapacity,
		Treasury: true,
	}
	s.VMinted = p.TreasuryInitBalance
	return s
}

// EnsureRegistries allocates registries a decoder left nil.
func (s *State) EnsureRegistries() {
	if s.Buyers == nil {
		s.Buyers = map[BuyerID]*Buyer{}
	}
	if s.Providers == nil {
		s.Providers = map[ProviderID]*Provider{}
	}
	if s.Orders == nil {
		s.Orders = map[OrderID]*Order{}
	}
	if s.Active == nil {
		s.Active = map[OrderID]*Contract{}
	}
	if s.Challenges == nil {
		s.Challenges = map[OrderID]*Challenge{}
	}
}

func (s *State) Treasury() *Provider { return s.Providers[TreasuryID] }

// AddBuyer registers b under a fresh id and books its balance as minted.
func (s *State) AddBuyer(b Buyer) *Buyer {
	b.ID = s.NextBuyer
	s.NextBuyer++
	s.Buyers[b.ID] = &b
	s.VMinted += b.Balance
	return &b
}

func (s *State) AddProvider(p Provider) *Provider {
	p.ID = s.NextProvider
	s.NextProvider++
	s.Providers[p.ID] = &p
	s.VMinted += p.Balance
	return &p
}

func (s *State) AddOrder(o Order) *Order {
	o.ID = s.NextOrder
	s.NextOrder++
	s.Orders[o.ID] = &o
	return &o
}

// RemoveBuyer drops a buyer together with its pending orders. Their balance
// and refunded escrow leave the system.
func (s *State) RemoveBuyer(id BuyerID) {
	b, ok := s.Buyers[id]
	if !ok {
		return
	}
	out := b.Balance
	for _, oid := range s.OrderIDs() {
		if o := s.Orders[oid]; o.Buyer == id {
			out += o.Escrow
			delete(s.Orders, oid)
		}
	}
	s.VExited += out
	delete(s.Buyers, id)
}

func (s *State) RemoveProvider(id ProviderID) {
	p, ok := s.Providers[id]
	if !ok || p.Treasury {
		return
	}
	s.VExited += p.Balance
	delete(s.Providers, id)
}

// CreditBuyer pays amount to a buyer, or books it as exited when the buyer
// has already left.
func (s *State) CreditBuyer(id BuyerID, amount float64) {
	if b, ok := s.Buyers[id]; ok {
		b.Balance += amount
		return
	}
	s.VExited += amount
}

func (s *State) CreditProvider(id ProviderID, amount float64) {
	if p, ok := s.Providers[id]; ok {
		p.Balance += amount
		return
	}
	s.VExited += amount
}

// Clone deep-copies every record so the copy can be mutated freely.
func (s *State) Clone() *State {
	c := *s
	c.Buyers = cloneRecords(s.Buyers)
	c.Providers = cloneRecords(s.Providers)
	c.Orders = cloneRecords(s.Orders)
	c.Active = cloneRecords(s.Active)
	c.Challenges = cloneRecords(s.Challenges)
	return &c
}

func cloneRecords[K comparable, V any](m map[K]*V) map[K]*V {
	out := make(map[K]*V, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

// SortedKeys is the iteration order of every registry.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func (s *State) BuyerIDs() []BuyerID { return SortedKeys(s.Buyers) }

// ProviderIDs lists regular providers by id with the treasury last.
func (s *State) ProviderIDs() []ProviderID {
	ids := lo.Filter(SortedKeys(s.Providers), func(id ProviderID, _ int) bool {
		return id != TreasuryID
	})
	if _, ok := s.Providers[TreasuryID]; ok {
		ids = append(ids, TreasuryID)
	}
	return ids
}

func (s *State) OrderIDs() []OrderID     { return SortedKeys(s.Orders) }
func (s *State) ContractIDs() []OrderID  { return SortedKeys(s.Active) }
func (s *State) ChallengeIDs() []OrderID { return SortedKeys(s.Challenges) }

// Circulating sums every token still held inside the market.
func (s *State) Circulating() float64 {
	total := sumSorted(s.Buyers, func(b *Buyer) float64 { return b.Balance })
	total += sumSorted(s.Providers, func(p *Provider) float64 { return p.Balance })
	total += sumSorted(s.Orders, func(o *Order) float64 { return o.Escrow })
	total += sumSorted(s.Active, func(c *Contract) float64 { return c.Locked() })
	return total
}

// UsedStorage and TotalCapacity cover every provider, the treasury included.
func (s *State) UsedStorage() float64 {
	return sumSorted(s.Providers, func(p *Provider) float64 { return p.Used })
}

func (s *State) TotalCapacity() float64 {
	return sumSorted(s.Providers, func(p *Provider) float64 { return p.Capacity })
}

// sumSorted adds in key order so float totals are reproducible.
func sumSorted[K cmp.Ordered, V any](m map[K]V, f func(V) float64) float64 {
	return lo.SumBy(SortedKeys(m), func(k K) float64 { return f(m[k]) })
}
