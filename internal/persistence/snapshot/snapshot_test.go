package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
)

func sampleState() *model.State {
	p := params.Defaults()
	st := model.NewState(p)
	st.Tick = 42
	b := st.AddBuyer(model.Buyer{Balance: 12, Stinginess: -0.5, AllOrders: 2})
	pr := st.AddProvider(model.Provider{Balance: 300, Capacity: 40, Used: 5, Discount: 0.3})
	st.AddOrder(model.Order{Buyer: b.ID, Size: 2, Price: 0.1, Escrow: 0.2, Duration: 9})
	st.Active[9] = &model.Contract{ID: 9, Provider: pr.ID, Buyer: b.ID, Size: 5, NextEpoch: 30, Price: 1, Escrow: 3, Stake: 5, ChallengesLeft: 2}
	st.Challenges[9] = &model.Challenge{Enforcer: b.ID, Contract: 9, IssuedAt: 40, DueBy: 50}
	st.Market = model.Market{StoragePrice: 0.0002, GasPrice: 0.00002, TokenPrice: 1.1, SPrice: 0.2}
	return st
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := sampleState()
	snap := SnapshotV1{
		Header: Header{Version: Version, RunID: "r1", Tick: st.Tick, Digest: st.Digest()},
		Params: params.Defaults(),
		RNG:    []byte{1, 2, 3},
		State:  st,
	}
	path := filepath.Join(dir, FileName(st.Tick))
	require.NoError(t, WriteSnapshot(path, snap))

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, snap.Header, got.Header)
	require.Equal(t, snap.Params, got.Params)
	require.Equal(t, snap.RNG, got.RNG)
	require.Equal(t, st.Digest(), got.State.Digest())

	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, snap.Header, h)
}

func TestEmptyRegistriesSurvive(t *testing.T) {
	dir := t.TempDir()
	st := model.NewState(params.Defaults())
	path := filepath.Join(dir, FileName(0))
	require.NoError(t, WriteSnapshot(path, SnapshotV1{Header: Header{Version: Version}, State: st}))

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, got.State.Orders)
	require.NotNil(t, got.State.Challenges)
	got.State.AddOrder(model.Order{Size: 1})
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	p, err := Latest(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.Empty(t, p)

	for _, tick := range []uint64{5, 100, 20} {
		st := sampleState()
		st.Tick = tick
		require.NoError(t, WriteSnapshot(filepath.Join(dir, FileName(tick)), SnapshotV1{Header: Header{Version: Version, Tick: tick}, State: st}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	p, err = Latest(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, FileName(100)), p)
}

func TestRejectsNilState(t *testing.T) {
	require.Error(t, WriteSnapshot(filepath.Join(t.TempDir(), "x.snap.zst"), SnapshotV1{}))
}
