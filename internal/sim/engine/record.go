package engine

import (
	"fsmarket.sim/internal/sim/model"
)

// Event is one audited transition inside a tick.
type Event struct {
	Tick     uint64           `json:"tick"`
	Kind     string           `json:"kind"`
	Order    model.OrderID    `json:"order,omitempty"`
	Buyer    model.BuyerID    `json:"buyer,omitempty"`
	Provider model.ProviderID `json:"provider"`
	Amount   float64          `json:"amount,omitempty"`
}

// Event kinds.
const (
	EventMatch           = "MATCH"
	EventCancel          = "CANCEL"
	EventExpire          = "EXPIRE"
	EventChallenge       = "CHALLENGE"
	EventChallengeWon    = "CHALLENGE_WON"
	EventChallengeClosed = "CHALLENGE_CLOSED"
	EventSlash           = "SLASH"
	EventGrant           = "GRANT"
	EventJoin            = "JOIN"
	EventChurn           = "CHURN"
	EventProviderJoin    = "PROVIDER_JOIN"
	EventBankrupt        = "BANKRUPT"
	EventTokenTrade      = "TOKEN_TRADE"
)

// TickRecord summarizes one tick for the tick log, the index and observers.
type TickRecord struct {
	Tick   uint64       `json:"tick"`
	Digest string       `json:"digest"`
	Market model.Market `json:"market"`
	Fills  model.Fills  `json:"fills"`

	Buyers     int `json:"buyers"`
	Providers  int `json:"providers"`
	Orders     int `json:"orders"`
	Contracts  int `json:"contracts"`
	Challenges int `json:"challenges"`

	UsedStorage     float64 `json:"used_storage"`
	Capacity        float64 `json:"capacity"`
	TreasuryBalance float64 `json:"treasury_balance"`
	Circulating     float64 `json:"circulating"`

	StorageStolen float64 `json:"storage_stolen"`
	VSlashed      float64 `json:"v_slashed"`
	VBurned       float64 `json:"v_burned"`
	VGasSpent     float64 `json:"v_gas_spent"`
	VGranted      float64 `json:"v_granted"`

	Events []Event `json:"events,omitempty"`
}

func newRecord(tick uint64, st *model.State, digest string, events []Event) TickRecord {
	rec := TickRecord{
		Tick:          tick,
		Digest:        digest,
		Market:        st.Market,
		Fills:         st.Fills,
		Buyers:        len(st.Buyers),
		Providers:     len(st.Providers),
		Orders:        len(st.Orders),
		Contracts:     len(st.Active),
		Challenges:    len(st.Challenges),
		UsedStorage:   st.UsedStorage(),
		Capacity:      st.TotalCapacity(),
		Circulating:   st.Circulating(),
		StorageStolen: st.StorageStolen,
		VSlashed:      st.VSlashed,
		VBurned:       st.VBurned,
		VGasSpent:     st.VGasSpent,
		VGranted:      st.VGranted,
		Events:        events,
	}
	if tr := st.Treasury(); tr != nil {
		rec.TreasuryBalance = tr.Balance
	}
	return rec
}

// Count returns how many events of kind the record holds.
func (r TickRecord) Count(kind string) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
