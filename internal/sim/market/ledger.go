package market

import (
	"math"
	"slices"

	"github.com/samber/lo"

	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

// Trade is one execution of the token auction.
type Trade struct {
	Seller model.ProviderID `json:"seller"`
	Buyer  model.BuyerID    `json:"buyer"`
	Tokens float64          `json:"tokens"`
	Price  float64          `json:"price"` // $ per token
}

func (t Trade) Fiat() float64 { return t.Tokens * t.Price }

type ask struct {
	seller model.ProviderID
	tokens float64
}

type bid struct {
	buyer model.BuyerID
	fiat  float64
}

// Ledger is a price-bucketed book for the token double auction. Buckets are
// width wide relative to the reference price; within a bucket orders fill in
// arrival order.
type Ledger struct {
	ref   float64
	width float64
	asks  map[int64][]*ask
	bids  map[int64][]*bid
}

func NewLedger(ref, width float64) *Ledger {
	if width <= 0 {
		width = 0.01
	}
	return &Ledger{ref: ref, width: width, asks: map[int64][]*ask{}, bids: map[int64][]*bid{}}
}

func (l *Ledger) bucket(price float64) int64 {
	return int64(math.Floor(price / l.ref / l.width))
}

// bucketPrice is the center of bucket k.
func (l *Ledger) bucketPrice(k int64) float64 {
	return (float64(k) + 0.5) * l.width * l.ref
}

// Ask offers tokens at a limit price.
func (l *Ledger) Ask(seller model.ProviderID, tokens, price float64) {
	if tokens <= 0 || price <= 0 {
		return
	}
	k := l.bucket(price)
	l.asks[k] = append(l.asks[k], &ask{seller: seller, tokens: tokens})
}

// Bid offers a fiat budget at a limit price.
func (l *Ledger) Bid(buyer model.BuyerID, fiat, price float64) {
	if fiat <= 0 || price <= 0 {
		return
	}
	k := l.bucket(price)
	l.bids[k] = append(l.bids[k], &bid{buyer: buyer, fiat: fiat})
}

// Clear matches the highest bid buckets against the lowest ask buckets while
// they cross. Each execution happens at the midpoint of the two bucket prices
// and fills partially when either side runs out.
func (l *Ledger) Clear() []Trade {
	askKeys := model.SortedKeys(l.asks)
	bidKeys := model.SortedKeys(l.bids)
	slices.Reverse(bidKeys)

	var trades []Trade
	ai, bi := 0, 0
	for ai < len(askKeys) && bi < len(bidKeys) {
		ak, bk := askKeys[ai], bidKeys[bi]
		if bk < ak {
			break
		}
		asks, bids := l.asks[ak], l.bids[bk]
		if len(asks) == 0 {
			ai++
			continue
		}
		if len(bids) == 0 {
			bi++
			continue
		}
		a, b := asks[0], bids[0]
		price := (l.bucketPrice(ak) + l.bucketPrice(bk)) / 2
		tokens := math.Min(a.tokens, b.fiat/price)
		if tokens > 0 {
			trades = append(trades, Trade{Seller: a.seller, Buyer: b.buyer, Tokens: tokens, Price: price})
		}
		a.tokens = mathx.ClampZero(a.tokens - tokens)
		b.fiat = mathx.ClampZero(b.fiat - tokens*price)
		if a.tokens <= mathx.Eps {
			l.asks[ak] = asks[1:]
		}
		if b.fiat <= mathx.Eps {
			l.bids[bk] = bids[1:]
		}
	}
	return trades
}

// AuctionResult is the outcome of one auction round.
type AuctionResult struct {
	Trades []Trade `json:"trades,omitempty"`
	Volume float64 `json:"volume"` // tokens
	Value  float64 `json:"value"`  // fiat
}

// Price is the volume weighted execution price, or 0 without trades.
func (r AuctionResult) Price() float64 { return mathx.SafeRatio(r.Value, r.Volume) }

// Auction runs one round over st. Each regular provider and buyer takes part
// with probability token_trade_rate: providers sell a share of their tokens
// and buyers spend a share of their fiat, both quoting around the current
// token price.
func Auction(p params.Params, st *model.State, r *rng.Source) AuctionResult {
	vprice := st.Market.TokenPrice
	if vprice <= 0 {
		return AuctionResult{}
	}
	quote := func() float64 {
		return vprice * (1 + r.Normal(params.NormalDist{Std: p.TokenSpread}))
	}

	l := NewLedger(vprice, p.TokenBucketWidth)
	for _, id := range st.ProviderIDs() {
		pr := st.Providers[id]
		if pr.Treasury || pr.Balance <= 0 || !r.Bernoulli(p.TokenTradeRate) {
			continue
		}
		l.Ask(id, pr.Balance*p.ProviderSellFraction, quote())
	}
	for _, id := range st.BuyerIDs() {
		b := st.Buyers[id]
		if b.Fiat <= 0 || !r.Bernoulli(p.TokenTradeRate) {
			continue
		}
		l.Bid(id, b.Fiat*p.BuyerBuyFraction, quote())
	}

	trades := l.Clear()
	return AuctionResult{
		Trades: trades,
		Volume: lo.SumBy(trades, func(t Trade) float64 { return t.Tokens }),
		Value:  lo.SumBy(trades, Trade.Fiat),
	}
}

// Apply settles the trades: tokens move from sellers to buyers, fiat the
// other way.
func (res AuctionResult) Apply(st *model.State) {
	for _, t := range res.Trades {
		pr, okP := st.Providers[t.Seller]
		b, okB := st.Buyers[t.Buyer]
		if !okP || !okB {
			continue
		}
		tokens := math.Min(t.Tokens, pr.Balance)
		fiat := math.Min(tokens*t.Price, b.Fiat)
		pr.Balance = mathx.ClampZero(pr.Balance - tokens)
		pr.Fiat += fiat
		b.Balance += tokens
		b.Fiat = mathx.ClampZero(b.Fiat - fiat)
	}
}
