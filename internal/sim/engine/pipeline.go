package engine

import (
	"math"

	"fsmarket.sim/internal/sim/actors"
	"fsmarket.sim/internal/sim/challenge"
	"fsmarket.sim/internal/sim/contracts"
	"fsmarket.sim/internal/sim/market"
	"fsmarket.sim/internal/sim/matching"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/negotiate"
)

// none is the signal of blocks without a policy.
type none struct{}

// Pipeline returns the stages of one tick in execution order.
func Pipeline() []Stage {
	return []Stage{
		pricesBlock(),
		tokenMarketBlock(),
		usersBlock(),
		providersJoinBlock(),
		grantsBlock(),
		ideasBlock(),
		ordersBlock(),
		negotiateBlock(),
		matchBlock(),
		installmentsBlock(),
		answerChallengesBlock(),
		expireBlock(),
		createChallengesBlock(),
		churnBlock(),
		providerCapacityBlock(),
	}
}

func pricesBlock() Block[model.Market] {
	return Block[model.Market]{
		Name: "prices",
		Policy: func(c *Context, prev *model.State) model.Market {
			m := prev.Market
			m.StoragePrice = market.StoragePrice(c.Params, prev.Tick, prev.Market.StoragePrice)
			m.GasPrice = market.GasPrice(c.Params, c.Rand)
			m.TokenPrice = market.TokenPrice(c.Params, prev.Market.TokenPrice, c.Rand)
			return m
		},
		Updates: []Update[model.Market]{
			{Variable: "market", Apply: func(_ *Context, _, next *model.State, m model.Market) {
				next.Market = m
			}},
		},
	}
}

func tokenMarketBlock() Block[market.AuctionResult] {
	return Block[market.AuctionResult]{
		Name: "token_market",
		Policy: func(c *Context, prev *model.State) market.AuctionResult {
			if !c.Params.TokenAuction {
				return market.AuctionResult{}
			}
			return market.Auction(c.Params, prev, c.Rand)
		},
		Updates: []Update[market.AuctionResult]{
			{Variable: "balances", Apply: func(c *Context, _, next *model.State, res market.AuctionResult) {
				res.Apply(next)
				for _, t := range res.Trades {
					c.Emit(Event{Kind: EventTokenTrade, Buyer: t.Buyer, Provider: t.Seller, Amount: t.Tokens})
				}
			}},
			{Variable: "token_price", Apply: func(c *Context, _, next *model.State, res market.AuctionResult) {
				if res.Volume > 0 {
					next.Market.TokenPrice = math.Max(c.Params.MinTokenPrice, res.Price())
				}
			}},
		},
	}
}

func usersBlock() Block[actors.Arrivals] {
	return Block[actors.Arrivals]{
		Name: "users",
		Policy: func(c *Context, prev *model.State) actors.Arrivals {
			return actors.GenerateUsers(c.Params, prev, c.Rand)
		},
		Updates: []Update[actors.Arrivals]{
			{Variable: "buyers", Apply: func(c *Context, _, next *model.State, a actors.Arrivals) {
				first := next.NextBuyer
				a.Apply(next)
				for id := first; id < next.NextBuyer; id++ {
					c.Emit(Event{Kind: EventJoin, Buyer: id, Amount: next.Buyers[id].Balance})
				}
			}},
		},
	}
}

func providersJoinBlock() Block[[]model.Provider] {
	return Block[[]model.Provider]{
		Name: "providers_join",
		Policy: func(c *Context, prev *model.State) []model.Provider {
			return actors.GenerateProviders(c.Params, prev, c.Rand)
		},
		Updates: []Update[[]model.Provider]{
			{Variable: "providers", Apply: func(c *Context, _, next *model.State, ps []model.Provider) {
				first := next.NextProvider
				actors.AddProviders(next, ps)
				for id := first; id < next.NextProvider; id++ {
					c.Emit(Event{Kind: EventProviderJoin, Provider: id, Amount: next.Providers[id].Capacity})
				}
			}},
		},
	}
}

func grantsBlock() Block[actors.Grants] {
	return Block[actors.Grants]{
		Name: "grants",
		Policy: func(c *Context, prev *model.State) actors.Grants {
			return actors.FundUsers(c.Params, prev, c.Rand)
		},
		Updates: []Update[actors.Grants]{
			{Variable: "buyers", Apply: func(c *Context, _, next *model.State, g actors.Grants) {
				g.ApplyBuyers(next)
				for _, id := range model.SortedKeys(g.PerBuyer) {
					c.Emit(Event{Kind: EventGrant, Buyer: id, Amount: g.PerBuyer[id]})
				}
			}},
			{Variable: "treasury", Apply: func(_ *Context, _, next *model.State, g actors.Grants) {
				g.ApplyTreasury(next)
			}},
		},
	}
}

func ideasBlock() Block[none] {
	return Block[none]{
		Name: "ideas",
		Updates: []Update[none]{
			{Variable: "buyers", Apply: func(c *Context, _, next *model.State, _ none) {
				actors.UpdateLastContract(c.Params, next)
			}},
		},
	}
}

func ordersBlock() Block[[]model.Order] {
	return Block[[]model.Order]{
		Name: "orders",
		Policy: func(c *Context, prev *model.State) []model.Order {
			return actors.GenerateOrders(c.Params, prev, c.Rand)
		},
		Updates: []Update[[]model.Order]{
			{Variable: "orders", Apply: func(_ *Context, _, next *model.State, orders []model.Order) {
				actors.ApplyOrders(next, orders)
			}},
		},
	}
}

func negotiateBlock() Block[negotiate.Result] {
	return Block[negotiate.Result]{
		Name: "negotiate",
		Policy: func(c *Context, prev *model.State) negotiate.Result {
			return negotiate.Negotiate(c.Params, prev)
		},
		Updates: []Update[negotiate.Result]{
			{Variable: "orders", Apply: func(_ *Context, _, next *model.State, res negotiate.Result) {
				res.ApplyOrders(next)
			}},
			{Variable: "buyers", Apply: func(c *Context, _, next *model.State, res negotiate.Result) {
				res.ApplyBuyers(next)
				for _, id := range model.SortedKeys(res.Cancelled) {
					c.Emit(Event{Kind: EventCancel, Buyer: id, Amount: float64(res.Cancelled[id])})
				}
			}},
		},
	}
}

func matchBlock() Block[matching.MatchResult] {
	return Block[matching.MatchResult]{
		Name: "match",
		Policy: func(c *Context, prev *model.State) matching.MatchResult {
			return matching.Match(c.Params, prev, c.Rand)
		},
		Updates: []Update[matching.MatchResult]{
			{Variable: "active", Apply: func(c *Context, _, next *model.State, res matching.MatchResult) {
				for _, id := range contracts.Promote(c.Params, next, res, c.Rand) {
					k := next.Active[id]
					c.Emit(Event{Kind: EventMatch, Order: id, Buyer: k.Buyer, Provider: k.Provider, Amount: k.Value()})
				}
			}},
			{Variable: "mkt_sprice", Apply: func(c *Context, _, next *model.State, _ matching.MatchResult) {
				window := append(c.History.Fills(c.Params.PriceWindow-1), next.Fills)
				next.Market.SPrice = market.PrevailingPrice(window)
			}},
		},
	}
}

func installmentsBlock() Block[none] {
	return Block[none]{
		Name: "installments",
		Updates: []Update[none]{
			{Variable: "providers", Apply: func(_ *Context, _, next *model.State, _ none) {
				contracts.PayInstallments(next)
			}},
		},
	}
}

func answerChallengesBlock() Block[challenge.Outcome] {
	return Block[challenge.Outcome]{
		Name: "answer_challenges",
		Policy: func(c *Context, prev *model.State) challenge.Outcome {
			return challenge.Answer(c.Params, prev)
		},
		Updates: []Update[challenge.Outcome]{
			{Variable: "challenges", Apply: func(c *Context, prev, next *model.State, o challenge.Outcome) {
				for _, s := range challenge.Settle(c.Params, next, o) {
					c.Log.Debugw("slashed", "tick", c.Tick, "contract", s.Contract, "provider", s.Provider, "amount", s.Amount)
					c.Emit(Event{Kind: EventSlash, Order: s.Contract, Buyer: s.Enforcer, Provider: s.Provider, Amount: s.Amount})
				}
				for _, id := range o.Won {
					ev := Event{Kind: EventChallengeWon, Order: id}
					if k, ok := prev.Active[id]; ok {
						ev.Provider = k.Provider
					}
					if ch, ok := prev.Challenges[id]; ok {
						ev.Buyer = ch.Enforcer
					}
					c.Emit(ev)
				}
			}},
		},
	}
}

func expireBlock() Block[[]model.OrderID] {
	return Block[[]model.OrderID]{
		Name: "expire",
		Policy: func(_ *Context, prev *model.State) []model.OrderID {
			return contracts.OrphanExpired(prev)
		},
		Updates: []Update[[]model.OrderID]{
			{Variable: "active", Apply: func(c *Context, prev, next *model.State, ids []model.OrderID) {
				for _, id := range ids {
					k := prev.Active[id]
					c.Emit(Event{Kind: EventExpire, Order: id, Buyer: k.Buyer, Provider: k.Provider, Amount: k.Locked()})
				}
				for _, id := range contracts.Remove(next, ids) {
					c.Emit(Event{Kind: EventChallengeClosed, Order: id, Provider: prev.Active[id].Provider})
				}
			}},
		},
	}
}

func createChallengesBlock() Block[challenge.IssueResult] {
	return Block[challenge.IssueResult]{
		Name: "create_challenges",
		Policy: func(c *Context, prev *model.State) challenge.IssueResult {
			return challenge.Issue(c.Params, prev, c.Rand)
		},
		Updates: []Update[challenge.IssueResult]{
			{Variable: "buyers", Apply: func(_ *Context, _, next *model.State, res challenge.IssueResult) {
				res.ApplyBuyers(next)
			}},
			{Variable: "challenges", Apply: func(c *Context, prev, next *model.State, res challenge.IssueResult) {
				res.ApplyChallenges(next)
				for _, ch := range res.Issued {
					c.Emit(Event{Kind: EventChallenge, Order: ch.Contract, Buyer: ch.Enforcer, Provider: prev.Active[ch.Contract].Provider, Amount: res.Gas})
				}
			}},
			{Variable: "active", Apply: func(_ *Context, _, next *model.State, res challenge.IssueResult) {
				res.ApplyContracts(next)
			}},
		},
	}
}

func churnBlock() Block[[]model.BuyerID] {
	return Block[[]model.BuyerID]{
		Name: "churn",
		Policy: func(_ *Context, prev *model.State) []model.BuyerID {
			return actors.Churn(prev)
		},
		Updates: []Update[[]model.BuyerID]{
			{Variable: "buyers", Apply: func(c *Context, prev, next *model.State, ids []model.BuyerID) {
				for _, id := range ids {
					c.Emit(Event{Kind: EventChurn, Buyer: id, Amount: prev.Buyers[id].ChurnRatio()})
				}
				actors.RemoveBuyers(next, ids)
			}},
		},
	}
}

func providerCapacityBlock() Block[map[model.ProviderID]float64] {
	return Block[map[model.ProviderID]float64]{
		Name: "provider_capacity",
		Policy: func(c *Context, prev *model.State) map[model.ProviderID]float64 {
			return actors.Resize(c.Params, prev, c.History.Last(c.Params.UtilizationWindow))
		},
		Updates: []Update[map[model.ProviderID]float64]{
			{Variable: "capacity", Apply: func(_ *Context, _, next *model.State, caps map[model.ProviderID]float64) {
				actors.ApplyResize(next, caps)
			}},
			{Variable: "providers", Apply: func(c *Context, _, next *model.State, _ map[model.ProviderID]float64) {
				gone := actors.Bankrupt(next)
				for _, id := range gone {
					c.Log.Infow("provider out of business", "tick", c.Tick, "provider", id)
					c.Emit(Event{Kind: EventBankrupt, Provider: id, Amount: next.Providers[id].Balance})
				}
				actors.RemoveProviders(next, gone)
			}},
		},
	}
}
