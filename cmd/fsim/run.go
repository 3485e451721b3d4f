package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fsmarket.sim/internal/persistence/indexdb"
	persistlog "fsmarket.sim/internal/persistence/log"
	"fsmarket.sim/internal/persistence/snapshot"
	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/transport/feed"
)

type runOpts struct {
	paramsPath string
	seed       int64
	seedSet    bool
	ticks      int
	dataDir    string
	runID      string
	resume     string
	disableDB  bool
	feedAddr   string
	every      int
}

func runCmd() *cobra.Command {
	var o runOpts
	c := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and record it",
		RunE: func(c *cobra.Command, args []string) error {
			o.seedSet = c.Flags().Changed("seed")
			if !c.Flags().Changed("ticks") {
				o.ticks = -1
			}
			return runSim(c.Context(), o)
		},
	}
	f := c.Flags()
	f.StringVar(&o.paramsPath, "params", "./configs/params.yaml", "params yaml (empty for defaults)")
	f.Int64Var(&o.seed, "seed", 0, "override the params seed")
	f.IntVar(&o.ticks, "ticks", 0, "number of ticks to run (default: params ticks, or what remains of them on resume)")
	f.StringVar(&o.dataDir, "data", "./data", "output directory; each run gets <data>/<run-id>")
	f.StringVar(&o.runID, "run-id", "", "run id (default: random uuid)")
	f.StringVar(&o.resume, "resume", "", "snapshot to resume from, or a run directory to resume its latest snapshot")
	f.BoolVar(&o.disableDB, "disable-db", false, "skip the sqlite index")
	f.StringVar(&o.feedAddr, "feed", "", "serve the live tick feed on this address (e.g. 127.0.0.1:8081)")
	f.IntVar(&o.every, "progress", 256, "print progress every n ticks (0 disables)")
	return c
}

func loadParams(path string) (params.Params, error) {
	if path == "" {
		return params.Defaults(), nil
	}
	return params.Load(path)
}

func openEngine(o runOpts) (*engine.Engine, string, error) {
	if o.resume != "" {
		path := o.resume
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			latest, err := snapshot.Latest(snapshotDir(path))
			if err != nil {
				return nil, "", err
			}
			if latest == "" {
				return nil, "", fmt.Errorf("no snapshot under %s", path)
			}
			path = latest
		}
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, "", fmt.Errorf("read snapshot: %w", err)
		}
		e, err := engine.Resume(snap)
		if err != nil {
			return nil, "", err
		}
		logger.Printf("resumed run %s at tick %d from %s", snap.Header.RunID, snap.Header.Tick, path)
		// <run>/snapshots/<file>
		return e, filepath.Dir(filepath.Dir(path)), nil
	}

	p, err := loadParams(o.paramsPath)
	if err != nil {
		return nil, "", err
	}
	if o.seedSet {
		p.Seed = o.seed
	}
	runID := o.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	runDir := filepath.Join(o.dataDir, runID)
	if err := writeRunMeta(runDir, newRunMeta(runID, p)); err != nil {
		return nil, "", fmt.Errorf("write run meta: %w", err)
	}
	return engine.New(p, runID), runDir, nil
}

func runSim(ctx context.Context, o runOpts) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, runDir, err := openEngine(o)
	if err != nil {
		return err
	}
	p := e.Params()
	ticks := max(0, p.Ticks-int(e.State().Tick))
	if o.ticks >= 0 {
		ticks = o.ticks
	}
	logger.Printf("run %s: %d ticks, seed %d, output %s", e.RunID(), ticks, p.Seed, runDir)

	tickLog := persistlog.NewTickLogger(runDir)
	auditLog := persistlog.NewAuditLogger(runDir)
	defer tickLog.Close()
	defer auditLog.Close()

	var idx *indexdb.SQLiteIndex
	if !o.disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index.sqlite"))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertRun(e.RunID(), p); err != nil {
			logger.Printf("index run meta: %v", err)
		}
	}
	e.SetTickLogger(multiTickLogger{tickLog, idx})
	e.SetAuditLogger(multiAuditLogger{auditLog, idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	snapDone := make(chan struct{})
	e.SetSnapshotSink(snapCh)
	go func() {
		defer close(snapDone)
		for snap := range snapCh {
			writeSnap(runDir, snap, idx)
		}
	}()

	if o.feedAddr != "" {
		hub := feed.NewHub(e.RunID(), p)
		e.AddObserver(hub)
		srv := &http.Server{Addr: o.feedAddr, Handler: feed.NewServer(hub, logger).Handler()}
		ln, err := net.Listen("tcp", o.feedAddr)
		if err != nil {
			return fmt.Errorf("feed listen: %w", err)
		}
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Printf("feed server: %v", err)
			}
		}()
		defer srv.Close()
		logger.Printf("feed on ws://%s/v1/feed/ws", ln.Addr())
	}

	if o.every > 0 {
		e.AddObserver(&progress{every: uint64(o.every), start: time.Now()})
	}

	runErr := e.Run(ctx, ticks)

	e.SetSnapshotSink(nil)
	close(snapCh)
	<-snapDone

	// The last state is always snapshotted, even after an error or interrupt.
	if snap, err := e.ExportSnapshot(); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		writeSnap(runDir, snap, idx)
	}
	if err := tickLog.Flush(); err != nil {
		logger.Printf("flush tick log: %v", err)
	}

	printSummary(e)
	if errors.Is(runErr, context.Canceled) {
		logger.Printf("interrupted at tick %d", e.State().Tick)
		return nil
	}
	return runErr
}

func writeSnap(runDir string, snap snapshot.SnapshotV1, idx *indexdb.SQLiteIndex) {
	path := filepath.Join(snapshotDir(runDir), snapshot.FileName(snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	idx.RecordSnapshot(path, snap)
}

type progress struct {
	every uint64
	start time.Time
}

func (p *progress) ObserveTick(rec engine.TickRecord) {
	if (rec.Tick+1)%p.every != 0 {
		return
	}
	logger.Printf("tick %s: %d buyers, %d providers, %d contracts, %s used of %s, sprice %.3g (%s)",
		humanize.Comma(int64(rec.Tick+1)), rec.Buyers, rec.Providers, rec.Contracts,
		humanize.SIWithDigits(rec.UsedStorage, 1, "u"), humanize.SIWithDigits(rec.Capacity, 1, "u"),
		rec.Market.SPrice, humanize.RelTime(p.start, time.Now(), "", "elapsed"))
}

func printSummary(e *engine.Engine) {
	st := e.State()
	tr := st.Treasury()
	logger.Printf("done at tick %s: %d buyers, %d providers, %d pending orders, %d contracts, %d challenges",
		humanize.Comma(int64(st.Tick)), len(st.Buyers), len(st.Providers), len(st.Orders), len(st.Active), len(st.Challenges))
	logger.Printf("storage used %s of %s, stolen %s",
		humanize.SIWithDigits(st.UsedStorage(), 2, "u"), humanize.SIWithDigits(st.TotalCapacity(), 2, "u"),
		humanize.SIWithDigits(st.StorageStolen, 2, "u"))
	logger.Printf("tokens: treasury %s, slashed %s, burned %s, gas %s, granted %s, supply drift %.3g",
		humanize.FormatFloat("#,###.##", tr.Balance), humanize.FormatFloat("#,###.##", st.VSlashed),
		humanize.FormatFloat("#,###.##", st.VBurned), humanize.FormatFloat("#,###.####", st.VGasSpent),
		humanize.FormatFloat("#,###.##", st.VGranted), st.SupplyDrift())
}
