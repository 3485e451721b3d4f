package model

import (
	"math"

	"fsmarket.sim/internal/sim/mathx"
)

type (
	BuyerID    uint64
	ProviderID uint64
	OrderID    uint64
)

// TreasuryID is the registry key of the treasury provider.
const TreasuryID ProviderID = 0

// Buyer is a data owner renting storage.
type Buyer struct {
	ID      BuyerID `json:"id"`
	Balance float64 `json:"balance"`
	Fiat    float64 `json:"fiat"`

	// Premium over the prevailing price the buyer will haggle up to. Zero or
	// negative means the buyer never renegotiates.
	Stinginess float64 `json:"stinginess"`

	LastContract   uint64  `json:"last_contract"`
	UnfilledOrders int     `json:"unfilled_orders"`
	AllOrders      int     `json:"all_orders"`
	UXTolerance    float64 `json:"ux_tolerance"`
	ChallengesWon  float64 `json:"challenges_won"`
	JoinedAt       uint64  `json:"joined_at"`
}

// ChurnRatio is the share of orders that were never filled.
func (b *Buyer) ChurnRatio() float64 {
	return mathx.SafeRatio(float64(b.UnfilledOrders), float64(b.AllOrders))
}

// WantsToLeave never fires before the first order.
func (b *Buyer) WantsToLeave() bool {
	if b.AllOrders == 0 {
		return false
	}
	return b.ChurnRatio() > b.UXTolerance
}

// Provider offers storage capacity against posted collateral.
type Provider struct {
	ID            ProviderID `json:"id"`
	Balance       float64    `json:"balance"`
	Fiat          float64    `json:"fiat"`
	Capacity      float64    `json:"capacity"`
	Used          float64    `json:"used"`
	Discount      float64    `json:"discount"`
	RiskTolerance float64    `json:"risk_tolerance"`
	ForgesWon     float64    `json:"forges_won"`
	ResizeRate    float64    `json:"resize_rate"`
	Timeout       uint64     `json:"timeout"`
	LastActive    uint64     `json:"last_active"`
	Treasury      bool       `json:"treasury,omitempty"`
	JoinedAt      uint64     `json:"joined_at"`
}

func (p *Provider) Free() float64 { return mathx.ClampZero(p.Capacity - p.Used) }

func (p *Provider) Utilization() float64 {
	return mathx.Min01(mathx.SafeRatio(p.Used, p.Capacity))
}

// MinFee is the lowest unit price the provider accepts: the storage cost in
// tokens, less its material discount, with economies of scale on capacity.
func (p *Provider) MinFee(m Market, feeScaleUnit float64) float64 {
	if p.Treasury {
		return 0
	}
	cost := m.TokenCost(m.StoragePrice)
	scale := 1.0
	if feeScaleUnit > 0 {
		scale = 1 / (1 + math.Log1p(p.Capacity/feeScaleUnit))
	}
	return cost * (1 - p.Discount) * scale
}

// Cheats reports whether the provider withholds proofs this tick: it keeps
// forging while its past gains stay below what it is willing to risk.
func (p *Provider) Cheats() bool {
	if p.Treasury {
		return false
	}
	return p.ForgesWon < p.RiskTolerance*p.Balance
}

// Order is a pending bid for storage.
type Order struct {
	ID             OrderID `json:"id"`
	Buyer          BuyerID `json:"buyer"`
	Size           float64 `json:"size"`
	Duration       uint64  `json:"duration"`
	CreatedAt      uint64  `json:"epoch_created_at"`
	Price          float64 `json:"price"`
	Escrow         float64 `json:"escrow"`
	ChallengeQuota int     `json:"challenge_quota"`
}

func (o *Order) Value() float64 { return o.Price * o.Size }

func (o *Order) Age(now uint64) uint64 {
	if now < o.CreatedAt {
		return 0
	}
	return now - o.CreatedAt
}

// Contract is a matched order. It keeps the order's id.
type Contract struct {
	ID             OrderID    `json:"id"`
	Provider       ProviderID `json:"provider"`
	Buyer          BuyerID    `json:"buyer"`
	Size           float64    `json:"size"`
	EpochCreatedAt uint64     `json:"epoch_created_at"`
	NextEpoch      uint64     `json:"next_epoch"`
	Price          float64    `json:"price"`
	Escrow         float64    `json:"escrow"`
	Stake          float64    `json:"stake"`
	ChallengesLeft int        `json:"challenges_left"`
	NextChallenge  uint64     `json:"next_challenge"`
}

func (c *Contract) Value() float64 { return c.Price * c.Size }

func (c *Contract) Age(now uint64) uint64 {
	if now < c.EpochCreatedAt {
		return 0
	}
	return now - c.EpochCreatedAt
}

func (c *Contract) Expired(now uint64) bool { return c.Age(now) >= c.NextEpoch }

// Locked is what is still held on the contract for its provider.
func (c *Contract) Locked() float64 { return c.Escrow + c.Stake }

// Challenge is a pending proof-of-storage request against one contract.
type Challenge struct {
	Enforcer       BuyerID `json:"enforcer"`
	Contract       OrderID `json:"contract"`
	IssuedAt       uint64  `json:"issued_at"`
	DueBy          uint64  `json:"due_by"`
	ProofSubmitted bool    `json:"proof_submitted"`
}

// Market holds the scalar global prices.
type Market struct {
	StoragePrice float64 `json:"mkt_fsprice"` // $ per storage unit
	GasPrice     float64 `json:"mkt_gprice"`  // $ per challenge
	TokenPrice   float64 `json:"mkt_vprice"`  // $ per token
	SPrice       float64 `json:"mkt_sprice"`  // prevailing fill price, tokens per unit
}

// TokenCost converts a dollar amount into tokens.
func (m Market) TokenCost(usd float64) float64 {
	if m.TokenPrice <= 0 {
		return 0
	}
	return usd / m.TokenPrice
}

// Gas is the challenge cost in tokens.
func (m Market) Gas() float64 { return m.TokenCost(m.GasPrice) }

// ReferencePrice is the unit price new orders are placed at: the prevailing
// fill price, or the raw storage cost before anything has filled.
func (m Market) ReferencePrice() float64 {
	if m.SPrice > 0 {
		return m.SPrice
	}
	return m.TokenCost(m.StoragePrice)
}
