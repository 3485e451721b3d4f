package challenge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

type fixture struct {
	p  params.Params
	st *model.State
	pr *model.Provider
	c  *model.Contract
}

// newFixture builds a funded market with one provider holding one 10 unit
// contract at price 2, fully collateralized.
func newFixture(t *testing.T, buyers int) *fixture {
	t.Helper()
	p := params.Defaults()
	p.ChallengeAwarenessRate = 1
	p.SlashingDistEnf = 0.5
	p.SlashingDistDAO = 0.25
	st := model.NewState(p)
	st.Market = model.Market{StoragePrice: 1, TokenPrice: 1, GasPrice: 0.5}
	st.Tick = 5

	for i := 0; i < buyers; i++ {
		st.AddBuyer(model.Buyer{Balance: 10})
	}
	pr := st.AddProvider(model.Provider{Balance: 100, Capacity: 50, Used: 10, RiskTolerance: 0.5})
	pr.Balance -= 20 // stake
	owner := model.BuyerID(1)
	st.Buyers[owner].Balance += 20
	st.VMinted += 20
	st.Buyers[owner].Balance -= 20 // escrow
	c := &model.Contract{
		ID: 1, Provider: pr.ID, Buyer: owner, Size: 10, Price: 2,
		EpochCreatedAt: 0, NextEpoch: 20, Escrow: 20, Stake: 20,
		ChallengesLeft: 3, NextChallenge: 5,
	}
	st.Active[c.ID] = c
	require.NoError(t, st.CheckInvariants())
	return &fixture{p: p, st: st, pr: pr, c: c}
}

func TestIssuePicksBestAwareBuyer(t *testing.T) {
	f := newFixture(t, 3)
	f.st.Buyers[2].ChallengesWon = 4
	f.st.Buyers[3].ChallengesWon = 1

	res := Issue(f.p, f.st, rng.New(1))
	require.Len(t, res.Issued, 1)
	ch := res.Issued[0]
	require.Equal(t, model.BuyerID(2), ch.Enforcer)
	require.Equal(t, f.c.ID, ch.Contract)
	require.Equal(t, uint64(5), ch.IssuedAt)
	require.GreaterOrEqual(t, ch.DueBy, uint64(5))
	require.Less(t, ch.DueBy, uint64(20))

	res.ApplyBuyers(f.st)
	res.ApplyChallenges(f.st)
	res.ApplyContracts(f.st)
	require.Equal(t, 9.5, f.st.Buyers[2].Balance)
	require.Equal(t, 3.5, f.st.Buyers[2].ChallengesWon)
	require.Equal(t, 0.5, f.st.VGasSpent)
	require.Equal(t, 2, f.c.ChallengesLeft)
	require.Equal(t, ch.DueBy, f.c.NextChallenge)
	require.Contains(t, f.st.Challenges, f.c.ID)
	require.NoError(t, f.st.CheckInvariants())
}

func TestIssueSkipsIneligible(t *testing.T) {
	cases := map[string]func(f *fixture){
		"pending challenge": func(f *fixture) {
			f.st.Challenges[f.c.ID] = &model.Challenge{Contract: f.c.ID}
		},
		"no budget":        func(f *fixture) { f.c.ChallengesLeft = 0 },
		"not yet due":      func(f *fixture) { f.c.NextChallenge = 6 },
		"term elapsed":     func(f *fixture) { f.st.Tick = 20 },
		"nobody can pay":   func(f *fixture) { f.st.Market.GasPrice = 50 },
		"nobody is aware":  func(f *fixture) { f.p.ChallengeAwarenessRate = 0 },
		"no buyers at all": func(f *fixture) { f.st.Buyers = map[model.BuyerID]*model.Buyer{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 2)
			mutate(f)
			require.Empty(t, Issue(f.p, f.st, rng.New(1)).Issued)
		})
	}
}

func TestIssueDropsBrokeEnforcer(t *testing.T) {
	f := newFixture(t, 1)
	f.st.Buyers[1].Balance = 0.75
	second := &model.Contract{ID: 2, Provider: f.pr.ID, Buyer: 1, Size: 1, NextEpoch: 20, ChallengesLeft: 1}
	f.st.Active[2] = second
	f.pr.Used += 1

	res := Issue(f.p, f.st, rng.New(1))
	require.Len(t, res.Issued, 1)
	require.Equal(t, f.c.ID, res.Issued[0].Contract)
}

func TestCheatUnchallengedSteals(t *testing.T) {
	f := newFixture(t, 1)
	require.True(t, f.pr.Cheats())
	fee := f.pr.MinFee(f.st.Market, f.p.FeeScaleUnit)

	out := Answer(f.p, f.st)
	require.Len(t, out.Forged, 1)
	require.Empty(t, out.Slashed)
	Settle(f.p, f.st, out)
	require.InDelta(t, fee*10/20, f.pr.ForgesWon, 1e-12)
	require.Equal(t, 10.0, f.st.StorageStolen)
	require.Contains(t, f.st.Active, f.c.ID)
}

func TestHonestProviderStealsNothing(t *testing.T) {
	f := newFixture(t, 1)
	f.pr.ForgesWon = f.pr.RiskTolerance*f.pr.Balance + 1

	out := Answer(f.p, f.st)
	require.Empty(t, out.Forged)
	Settle(f.p, f.st, out)
	require.Equal(t, f.pr.RiskTolerance*f.pr.Balance+1, f.pr.ForgesWon)
	require.Zero(t, f.st.StorageStolen)
}

func TestHonestProviderWinsChallenge(t *testing.T) {
	f := newFixture(t, 2)
	f.pr.RiskTolerance = 0
	f.st.Challenges[f.c.ID] = &model.Challenge{Contract: f.c.ID, Enforcer: 2}
	before := f.st.Circulating()

	out := Answer(f.p, f.st)
	require.Equal(t, []model.OrderID{f.c.ID}, out.Won)
	require.Empty(t, Settle(f.p, f.st, out))
	require.Empty(t, f.st.Challenges)
	require.Contains(t, f.st.Active, f.c.ID)
	require.Equal(t, before, f.st.Circulating())
}

func TestCheatChallengedIsSlashed(t *testing.T) {
	f := newFixture(t, 2)
	f.st.Challenges[f.c.ID] = &model.Challenge{Contract: f.c.ID, Enforcer: 2}
	treasury := f.st.Treasury().Balance
	provider := f.pr.Balance

	out := Answer(f.p, f.st)
	require.Equal(t, []model.OrderID{f.c.ID}, out.Slashed)
	slashes := Settle(f.p, f.st, out)
	require.Len(t, slashes, 1)
	s := slashes[0]

	// reaped 20 comes out of the stake; escrow 20 refunds the buyer.
	require.Equal(t, 20.0, s.Amount)
	require.Equal(t, 10.0, s.ToEnforcer)
	require.Equal(t, 5.0, s.ToTreasury)
	require.Equal(t, 5.0, s.Burned)
	require.Equal(t, 20.0, s.Refund)

	require.Equal(t, 20.0, f.st.Buyers[2].Balance)
	require.Equal(t, 10.0, f.st.Buyers[2].ChallengesWon)
	require.Equal(t, treasury+5, f.st.Treasury().Balance)
	require.Equal(t, 30.0, f.st.Buyers[1].Balance)
	require.Equal(t, provider, f.pr.Balance)
	require.Zero(t, f.pr.Used)
	require.Empty(t, f.st.Active)
	require.Empty(t, f.st.Challenges)
	require.Equal(t, 20.0, f.st.VSlashed)
	require.Equal(t, 5.0, f.st.VBurned)
	require.NoError(t, f.st.CheckInvariants())
}

func TestSlashReachesIntoBalance(t *testing.T) {
	f := newFixture(t, 2)
	f.c.Stake = 5
	f.pr.Balance += 15
	f.st.Challenges[f.c.ID] = &model.Challenge{Contract: f.c.ID, Enforcer: 2}
	provider := f.pr.Balance

	slashes := Settle(f.p, f.st, Answer(f.p, f.st))
	require.Len(t, slashes, 1)
	require.Equal(t, 20.0, slashes[0].Amount)
	require.InDelta(t, provider-15, f.pr.Balance, 1e-12)
	require.NoError(t, f.st.CheckInvariants())
}

func TestSlashWithDepartedEnforcerBurns(t *testing.T) {
	f := newFixture(t, 2)
	f.st.Challenges[f.c.ID] = &model.Challenge{Contract: f.c.ID, Enforcer: 2}
	f.st.RemoveBuyer(2)

	slashes := Settle(f.p, f.st, Answer(f.p, f.st))
	require.Len(t, slashes, 1)
	require.Zero(t, slashes[0].ToEnforcer)
	require.Equal(t, 15.0, slashes[0].Burned)
	require.NoError(t, f.st.CheckInvariants())
}

func TestAnswerIsPure(t *testing.T) {
	f := newFixture(t, 2)
	f.st.Challenges[f.c.ID] = &model.Challenge{Contract: f.c.ID, Enforcer: 2}
	d := f.st.Digest()
	a := Answer(f.p, f.st)
	b := Answer(f.p, f.st)
	require.Equal(t, a, b)
	require.Equal(t, d, f.st.Digest())
}
