package indexdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fsmarket.sim/internal/persistence/snapshot"
	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
)

func openTemp(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "run.sqlite"))
	require.NoError(t, err)
	return idx
}

func TestQueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: engine.TickRecord{Tick: 1}}

	require.NoError(t, s.WriteTick(engine.TickRecord{Tick: 2}))
	require.NoError(t, s.WriteAudit(engine.Event{Tick: 2}))
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{State: &model.State{}})
	s.RecordSnapshot("/tmp/3.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	require.Equal(t, uint64(1), st.DropTickTotal)
	require.Equal(t, uint64(1), st.DropAuditTotal)
	require.Equal(t, uint64(1), st.DropSnapshotTotal)
	require.Equal(t, 1, st.QueueDepth)
	require.Equal(t, 1, st.QueueCapacity)
}

func TestUpsertRunStoresParams(t *testing.T) {
	idx := openTemp(t)
	defer idx.Close()

	p := params.Defaults()
	p.Seed = 99
	require.NoError(t, idx.UpsertRun("run-1", p))

	id, err := idx.Meta("run_id")
	require.NoError(t, err)
	require.Equal(t, "run-1", id)

	got, err := idx.Params()
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestIndexesTicksEventsAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sqlite")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)

	p := params.Defaults()
	p.Seed = 5
	e := engine.New(p, "idx")
	e.SetTickLogger(idx)
	e.SetAuditLogger(idx)

	events := 0
	matches := 0
	for i := 0; i < 80; i++ {
		rec, err := e.Step()
		require.NoError(t, err)
		events += len(rec.Events)
		matches += rec.Count(engine.EventMatch)
	}
	snap, err := e.ExportSnapshot()
	require.NoError(t, err)
	idx.RecordSnapshot(filepath.Join(dir, snapshot.FileName(snap.Header.Tick)), snap)
	require.NoError(t, idx.Close())

	// Reopen to read what the writer committed.
	idx, err = OpenSQLite(path)
	require.NoError(t, err)
	defer idx.Close()
	db := idx.DB()

	var ticks int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&ticks))
	require.Equal(t, 80, ticks)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n))
	require.Equal(t, events, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = ?`, engine.EventMatch).Scan(&n))
	require.Equal(t, matches, n)

	var digest string
	require.NoError(t, db.QueryRow(`SELECT digest FROM snapshots WHERE tick = ?`, int64(snap.Header.Tick)).Scan(&digest))
	require.Equal(t, snap.Header.Digest, digest)

	rows, err := idx.ProvidersAt(snap.Header.Tick)
	require.NoError(t, err)
	require.Len(t, rows, len(snap.State.Providers))
	require.Equal(t, model.TreasuryID, rows[0].ID)
	require.True(t, rows[0].Treasury)
	require.InDelta(t, snap.State.Treasury().Used, rows[0].Used, 1e-12)

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM contracts WHERE tick = ?`, int64(snap.Header.Tick)).Scan(&n))
	require.Equal(t, len(snap.State.Active), n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM buyers WHERE tick = ?`, int64(snap.Header.Tick)).Scan(&n))
	require.Equal(t, len(snap.State.Buyers), n)
}

func TestWritesAfterCloseAreIgnored(t *testing.T) {
	idx := openTemp(t)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.WriteTick(engine.TickRecord{Tick: 1}))
	require.NoError(t, idx.WriteAudit(engine.Event{Tick: 1}))
	idx.RecordSnapshot("x", snapshot.SnapshotV1{State: &model.State{}})
	require.NoError(t, idx.Close())
}
