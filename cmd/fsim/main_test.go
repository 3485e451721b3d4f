package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fsmarket.sim/internal/persistence/indexdb"
	"fsmarket.sim/internal/persistence/snapshot"
)

func TestRunReplayResumeInspect(t *testing.T) {
	data := t.TempDir()
	o := runOpts{dataDir: data, runID: "t1", ticks: 60, seed: 11, seedSet: true}
	require.NoError(t, runSim(context.Background(), o))

	runDir := filepath.Join(data, "t1")
	meta, err := readRunMeta(runDir)
	require.NoError(t, err)
	require.Equal(t, int64(11), meta.Params.Seed)

	checked, err := replay(runDir, "", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(60), checked)

	latest, err := snapshot.Latest(snapshotDir(runDir))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(snapshotDir(runDir), snapshot.FileName(60)), latest)

	// Continue the same run from its latest snapshot.
	require.NoError(t, runSim(context.Background(), runOpts{dataDir: data, resume: runDir, ticks: 20, disableDB: true}))

	checked, err = replay(runDir, "", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(80), checked)

	checked, err = replay(runDir, latest, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(20), checked)

	checked, err = replay(runDir, "", 9)
	require.NoError(t, err)
	require.Equal(t, uint64(10), checked)

	path, err := resolveSnapshot(runDir)
	require.NoError(t, err)
	snap, err := snapshot.ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, uint64(80), snap.Header.Tick)

	var out bytes.Buffer
	require.NoError(t, inspect(&out, snap, "all", 5))
	for _, want := range []string{"Summary", "Providers (", "Buyers (", "Contracts (", "Challenges ("} {
		require.Contains(t, out.String(), want)
	}
	require.Error(t, inspect(&out, snap, "nope", 5))

	idx, err := indexdb.OpenSQLite(filepath.Join(runDir, "index.sqlite"))
	require.NoError(t, err)
	defer idx.Close()
	id, err := idx.Meta("run_id")
	require.NoError(t, err)
	require.Equal(t, "t1", id)
}
