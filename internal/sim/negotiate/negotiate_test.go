package negotiate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
)

func setup(t *testing.T, age uint64, stinginess, balance float64) (params.Params, *model.State, *model.Order) {
	t.Helper()
	p := params.Defaults()
	p.OrderResubmitInterval = 3
	p.OrderTimeoutInterval = 10
	p.HaggleResolution = 0.01
	st := model.NewState(p)
	st.Tick = 20
	b := st.AddBuyer(model.Buyer{Balance: balance + 10, Stinginess: stinginess, AllOrders: 1})
	b.Balance -= 10
	o := st.AddOrder(model.Order{Buyer: b.ID, Size: 10, Price: 1, Escrow: 10, CreatedAt: st.Tick - age, Duration: 5})
	return p, st, o
}

func TestYoungOrderUntouched(t *testing.T) {
	for _, age := range []uint64{0, 1, 2} {
		p, st, o := setup(t, age, 2, 100)
		st.Market.SPrice = 5
		before := *o

		res := Negotiate(p, st)
		require.Len(t, res.Orders, 1)
		require.Equal(t, before, *res.Orders[o.ID])
		require.NotSame(t, o, res.Orders[o.ID])
		require.Empty(t, res.Cancelled)
		require.Empty(t, res.BalanceDelta)
	}
}

func TestNegotiateDoesNotMutateInput(t *testing.T) {
	p, st, o := setup(t, 5, 2, 100)
	st.Market.SPrice = 3
	digest := st.Digest()
	Negotiate(p, st)
	require.Equal(t, digest, st.Digest())
	require.Equal(t, 1.0, o.Price)
}

func TestRaiseTowardTarget(t *testing.T) {
	p, st, o := setup(t, 5, 2, 100)
	st.Market.SPrice = 3 // target 6, delta 5, cost 50

	res := Negotiate(p, st)
	got := res.Orders[o.ID]
	require.InDelta(t, 6.0, got.Price, 1e-12)
	require.InDelta(t, 60.0, got.Escrow, 1e-12)
	require.InDelta(t, -50.0, res.BalanceDelta[o.Buyer], 1e-12)

	res.ApplyOrders(st)
	res.ApplyBuyers(st)
	require.InDelta(t, 50.0, st.Buyers[o.Buyer].Balance, 1e-12)
	require.NoError(t, st.CheckInvariants())
}

func TestRaiseBoundedByBalance(t *testing.T) {
	p, st, o := setup(t, 5, 2, 100)
	st.Market.SPrice = 3
	// A second order from the same buyer competes for the same balance.
	o2 := st.AddOrder(model.Order{Buyer: o.Buyer, Size: 10, Price: 1, Escrow: 10, CreatedAt: o.CreatedAt})
	st.Buyers[o.Buyer].Balance = 70

	res := Negotiate(p, st)
	require.InDelta(t, 6.0, res.Orders[o.ID].Price, 1e-12)
	require.InDelta(t, 3.0, res.Orders[o2.ID].Price, 1e-12)
	require.InDelta(t, -70.0, res.BalanceDelta[o.Buyer], 1e-12)
}

func TestNoRaiseCases(t *testing.T) {
	cases := map[string]struct {
		stinginess, balance, mkt float64
	}{
		"refuses to negotiate": {stinginess: 0, balance: 100, mkt: 3},
		"negative stinginess":  {stinginess: -1, balance: 100, mkt: 3},
		"already above target": {stinginess: 0.2, balance: 100, mkt: 3},
		"broke":                {stinginess: 2, balance: 0, mkt: 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, st, o := setup(t, 5, tc.stinginess, tc.balance)
			st.Market.SPrice = tc.mkt
			before := *o
			res := Negotiate(p, st)
			require.Equal(t, before, *res.Orders[o.ID])
			require.Empty(t, res.BalanceDelta)
		})
	}
}

func TestZeroMarketPriceHaggles(t *testing.T) {
	p, st, o := setup(t, 5, 0.5, 100)
	st.Market.SPrice = 0
	res := Negotiate(p, st)
	require.InDelta(t, 1.01, res.Orders[o.ID].Price, 1e-12)
	require.InDelta(t, -0.1, res.BalanceDelta[o.Buyer], 1e-12)
}

func TestTimeoutCancelsAndRefunds(t *testing.T) {
	p, st, o := setup(t, 10, 2, 100)
	res := Negotiate(p, st)
	require.Empty(t, res.Orders)
	require.Equal(t, 1, res.Cancelled[o.Buyer])
	require.Equal(t, 10.0, res.BalanceDelta[o.Buyer])

	res.ApplyOrders(st)
	res.ApplyBuyers(st)
	b := st.Buyers[o.Buyer]
	require.Equal(t, 1, b.UnfilledOrders)
	require.Equal(t, 110.0, b.Balance)
	require.NoError(t, st.CheckInvariants())
}
