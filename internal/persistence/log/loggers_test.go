package log

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/params"
)

func TestTickLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := params.Defaults()
	p.Seed = 3
	e := engine.New(p, "log")

	tl := NewTickLogger(dir)
	al := NewAuditLogger(dir)
	e.SetTickLogger(tl)
	e.SetAuditLogger(al)

	var want []engine.TickRecord
	events := 0
	for i := 0; i < 60; i++ {
		rec, err := e.Step()
		require.NoError(t, err)
		want = append(want, rec)
		events += len(rec.Events)
	}
	require.NoError(t, tl.Close())
	require.NoError(t, al.Close())

	var got []engine.TickRecord
	require.NoError(t, ScanTicks(dir, func(rec engine.TickRecord) error {
		got = append(got, rec)
		return nil
	}))
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].Tick, got[i].Tick)
		require.Equal(t, want[i].Digest, got[i].Digest)
		require.Equal(t, want[i].Contracts, got[i].Contracts)
		require.Empty(t, got[i].Events)
	}

	n := 0
	require.NoError(t, ScanAudit(dir, func(ev engine.Event) error {
		n++
		return nil
	}))
	require.Equal(t, events, n)
}

func TestSegmentsRotateByTick(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "ticks", 10)
	for tick := uint64(0); tick < 25; tick++ {
		require.NoError(t, w.Write(tick, engine.TickRecord{Tick: tick}))
	}
	require.NoError(t, w.Close())

	files, err := ListFiles(dir, "ticks")
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "ticks-000000000000.jsonl.zst"),
		filepath.Join(dir, "ticks-000000000010.jsonl.zst"),
		filepath.Join(dir, "ticks-000000000020.jsonl.zst"),
	}, files)

	lines := 0
	require.NoError(t, scan(dir, "ticks", func([]byte) error {
		lines++
		return nil
	}))
	require.Equal(t, 25, lines)
}

func TestReopenedSegmentAppends(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(filepath.Join(dir, "ticks"), "ticks", 100)
	require.NoError(t, w.Write(1, engine.TickRecord{Tick: 1}))
	require.NoError(t, w.Close())

	w = NewJSONLZstdWriter(filepath.Join(dir, "ticks"), "ticks", 100)
	require.NoError(t, w.Write(2, engine.TickRecord{Tick: 2}))
	require.NoError(t, w.Close())

	var got []uint64
	require.NoError(t, ScanTicks(dir, func(rec engine.TickRecord) error {
		got = append(got, rec.Tick)
		return nil
	}))
	require.Equal(t, []uint64{1, 2}, got)
}

func TestScanStopsEarly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(filepath.Join(dir, "ticks"), "ticks", 0)
	for tick := uint64(0); tick < 5; tick++ {
		require.NoError(t, w.Write(tick, engine.TickRecord{Tick: tick}))
	}
	require.NoError(t, w.Close())

	var seen []uint64
	require.NoError(t, ScanTicks(dir, func(rec engine.TickRecord) error {
		if rec.Tick == 2 {
			return ErrStop
		}
		seen = append(seen, rec.Tick)
		return nil
	}))
	require.Equal(t, []uint64{0, 1}, seen)
}

func TestScanMissingDir(t *testing.T) {
	require.Error(t, ScanTicks(t.TempDir(), func(engine.TickRecord) error { return nil }))
}
