// Package engine advances the market one tick at a time. A tick is a fixed
// pipeline of blocks; each block reads the state left by the previous one and
// produces a fresh copy, so every intermediate and historical state stays
// intact.
package engine

import (
	"context"
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"fsmarket.sim/internal/persistence/snapshot"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
	"fsmarket.sim/internal/sim/rng"
)

var log = logging.Logger("fsim/engine")

type TickLogger interface {
	WriteTick(rec TickRecord) error
}

type AuditLogger interface {
	WriteAudit(ev Event) error
}

// Observer receives every tick record after it was logged. Implementations
// must not block.
type Observer interface {
	ObserveTick(rec TickRecord)
}

type Engine struct {
	p      params.Params
	runID  string
	rand   *rng.Source
	stages []Stage

	state *model.State
	hist  *History

	tickLogger   TickLogger
	auditLogger  AuditLogger
	observers    []Observer
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(p params.Params, runID string) *Engine {
	st := model.NewState(p)
	e := &Engine{
		p:      p,
		runID:  runID,
		rand:   rng.New(p.Seed),
		stages: Pipeline(),
		state:  st,
		hist:   NewHistory(p.HistoryWindow),
	}
	e.hist.Push(st)
	return e
}

// Resume rebuilds an engine from a snapshot. Stepping it yields the same
// ticks as the run that wrote the snapshot.
func Resume(snap snapshot.SnapshotV1) (*Engine, error) {
	if snap.State == nil {
		return nil, fmt.Errorf("resume: snapshot has no state")
	}
	if d := snap.State.Digest(); snap.Header.Digest != "" && d != snap.Header.Digest {
		return nil, fmt.Errorf("resume: state digest %s does not match header %s", d, snap.Header.Digest)
	}
	e := &Engine{
		p:      snap.Params,
		runID:  snap.Header.RunID,
		rand:   rng.New(snap.Params.Seed),
		stages: Pipeline(),
		state:  snap.State,
		hist:   NewHistory(snap.Params.HistoryWindow),
	}
	if len(snap.RNG) > 0 {
		if err := e.rand.UnmarshalBinary(snap.RNG); err != nil {
			return nil, fmt.Errorf("resume: restore rng: %w", err)
		}
	}
	for _, h := range snap.History {
		if h.Tick < snap.State.Tick {
			e.hist.Push(h)
		}
	}
	e.hist.Push(snap.State)
	return e, nil
}

func (e *Engine) SetTickLogger(l TickLogger)                    { e.tickLogger = l }
func (e *Engine) SetAuditLogger(l AuditLogger)                  { e.auditLogger = l }
func (e *Engine) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { e.snapshotSink = ch }
func (e *Engine) AddObserver(o Observer)                        { e.observers = append(e.observers, o) }

func (e *Engine) Params() params.Params { return e.p }
func (e *Engine) RunID() string         { return e.runID }
func (e *Engine) History() *History     { return e.hist }

// State is the latest committed state. Callers must treat it as read-only.
func (e *Engine) State() *model.State { return e.state }

// Step runs one tick. An invariant violation leaves the engine at the
// previous state and is returned.
func (e *Engine) Step() (TickRecord, error) {
	now := e.state.Tick
	c := &Context{Params: e.p, Tick: now, History: e.hist, Rand: e.rand, Log: log}

	st := e.state
	for _, s := range e.stages {
		st = s.Run(c, st)
	}
	st.Tick = now + 1

	if e.p.CheckInvariants {
		if err := st.CheckInvariants(); err != nil {
			return TickRecord{}, err
		}
	}
	e.state = st
	e.hist.Push(st)

	rec := newRecord(now, st, st.Digest(), c.events)
	e.publish(rec)
	e.maybeSnapshot()

	log.Debugw("tick", "tick", now, "orders", rec.Orders, "contracts", rec.Contracts, "challenges", rec.Challenges, "sprice", rec.Market.SPrice)
	return rec, nil
}

func (e *Engine) publish(rec TickRecord) {
	if e.tickLogger != nil {
		if err := e.tickLogger.WriteTick(rec); err != nil {
			log.Warnw("tick log write failed", "tick", rec.Tick, "err", err)
		}
	}
	if e.auditLogger != nil {
		for _, ev := range rec.Events {
			if err := e.auditLogger.WriteAudit(ev); err != nil {
				log.Warnw("audit log write failed", "tick", rec.Tick, "err", err)
				break
			}
		}
	}
	for _, o := range e.observers {
		o.ObserveTick(rec)
	}
}

func (e *Engine) maybeSnapshot() {
	every := e.p.SnapshotEveryTicks
	if e.snapshotSink == nil || every <= 0 || e.state.Tick%uint64(every) != 0 {
		return
	}
	snap, err := e.ExportSnapshot()
	if err != nil {
		log.Warnw("snapshot export failed", "tick", e.state.Tick, "err", err)
		return
	}
	select {
	case e.snapshotSink <- snap:
	default:
		log.Warnw("snapshot dropped, sink backed up", "tick", e.state.Tick)
	}
}

// ExportSnapshot captures the engine for resume. Committed states are never
// modified again, so the snapshot shares them with the engine.
func (e *Engine) ExportSnapshot() (snapshot.SnapshotV1, error) {
	rb, err := e.rand.MarshalBinary()
	if err != nil {
		return snapshot.SnapshotV1{}, fmt.Errorf("marshal rng: %w", err)
	}
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RunID:   e.runID,
			Tick:    e.state.Tick,
			Digest:  e.state.Digest(),
		},
		Params:  e.p,
		RNG:     rb,
		State:   e.state,
		History: e.hist.Last(e.hist.Len()),
	}, nil
}

// Run steps until ticks more ticks are done or ctx is cancelled. Cancellation
// is only checked between ticks.
func (e *Engine) Run(ctx context.Context, ticks int) error {
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}
