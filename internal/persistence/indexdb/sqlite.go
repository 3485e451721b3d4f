// Package indexdb mirrors a run into SQLite for tabular analysis. Writes go
// through a buffered queue drained by one goroutine; when the queue is full
// rows are dropped, the JSONL logs stay the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"

	"fsmarket.sim/internal/persistence/snapshot"
	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/model"
	"fsmarket.sim/internal/sim/params"
)

var log = logging.Logger("fsim/indexdb")

const schemaVersion = "1"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick  engine.TickRecord
	audit engine.Event
	path  string
	snap  snapshot.SnapshotV1
}

// Stats reports queue pressure.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Room for event bursts when many contracts settle in one tick.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			storage_price REAL NOT NULL,
			gas_price REAL NOT NULL,
			token_price REAL NOT NULL,
			sprice REAL NOT NULL,
			fill_volume REAL NOT NULL,
			fill_value REAL NOT NULL,
			fill_count INTEGER NOT NULL,
			buyers INTEGER NOT NULL,
			providers INTEGER NOT NULL,
			orders INTEGER NOT NULL,
			contracts INTEGER NOT NULL,
			challenges INTEGER NOT NULL,
			used_storage REAL NOT NULL,
			capacity REAL NOT NULL,
			treasury_balance REAL NOT NULL,
			storage_stolen REAL NOT NULL,
			v_slashed REAL NOT NULL,
			v_burned REAL NOT NULL,
			v_gas_spent REAL NOT NULL,
			v_granted REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			buyer INTEGER NOT NULL,
			provider INTEGER NOT NULL,
			amount REAL NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_tick ON events(kind, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_provider_tick ON events(provider, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			buyers INTEGER NOT NULL,
			providers INTEGER NOT NULL,
			orders INTEGER NOT NULL,
			contracts INTEGER NOT NULL,
			challenges INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS providers (
			tick INTEGER NOT NULL,
			id INTEGER NOT NULL,
			treasury INTEGER NOT NULL,
			capacity REAL NOT NULL,
			used REAL NOT NULL,
			balance REAL NOT NULL,
			fiat REAL NOT NULL,
			discount REAL NOT NULL,
			risk_tolerance REAL NOT NULL,
			forges_won REAL NOT NULL,
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (tick, id)
		);`,
		`CREATE TABLE IF NOT EXISTS buyers (
			tick INTEGER NOT NULL,
			id INTEGER NOT NULL,
			balance REAL NOT NULL,
			fiat REAL NOT NULL,
			stinginess REAL NOT NULL,
			unfilled_orders INTEGER NOT NULL,
			all_orders INTEGER NOT NULL,
			challenges_won REAL NOT NULL,
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (tick, id)
		);`,
		`CREATE TABLE IF NOT EXISTS contracts (
			tick INTEGER NOT NULL,
			id INTEGER NOT NULL,
			provider INTEGER NOT NULL,
			buyer INTEGER NOT NULL,
			size REAL NOT NULL,
			price REAL NOT NULL,
			escrow REAL NOT NULL,
			stake REAL NOT NULL,
			epoch_created_at INTEGER NOT NULL,
			next_epoch INTEGER NOT NULL,
			challenges_left INTEGER NOT NULL,
			next_challenge INTEGER NOT NULL,
			PRIMARY KEY (tick, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_provider ON contracts(provider, tick);`,
		`CREATE TABLE IF NOT EXISTS challenges (
			tick INTEGER NOT NULL,
			contract INTEGER NOT NULL,
			enforcer INTEGER NOT NULL,
			issued_at INTEGER NOT NULL,
			due_by INTEGER NOT NULL,
			PRIMARY KEY (tick, contract)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// DB exposes the handle for read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(rec engine.TickRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	rec.Events = nil
	select {
	case s.ch <- req{kind: reqTick, tick: rec}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(ev engine.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: ev}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

// RecordSnapshot indexes a written snapshot and the registries it holds.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() || snap.State == nil {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, path: path, snap: snap}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertRun stores the run id and the applied params. It writes
// synchronously so the metadata is there before the first tick.
func (s *SQLiteIndex) UpsertRun(runID string, p params.Params) error {
	if s == nil {
		return nil
	}
	b := p.JSON()
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, kv := range [][2]string{
		{"schema_version", schemaVersion},
		{"run_id", runID},
		{"params", string(b)},
		{"params_digest", hex.EncodeToString(sum[:])},
		{"recorded_at", time.Now().UTC().Format(time.RFC3339Nano)},
	} {
		if _, err := stmt.Exec(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Meta reads one meta value.
func (s *SQLiteIndex) Meta(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	return v, err
}

// Params decodes the params recorded by UpsertRun.
func (s *SQLiteIndex) Params() (params.Params, error) {
	var p params.Params
	raw, err := s.Meta("params")
	if err != nil {
		return p, err
	}
	err = json.Unmarshal([]byte(raw), &p)
	return p, err
}

type statements struct {
	tick, event, snapshot, provider, buyer, contract, challenge *sql.Stmt
}

func prepare(db *sql.DB) (*statements, error) {
	var st statements
	for _, p := range []struct {
		dst **sql.Stmt
		sql string
	}{
		{&st.tick, `INSERT OR REPLACE INTO ticks(tick,digest,storage_price,gas_price,token_price,sprice,fill_volume,fill_value,fill_count,buyers,providers,orders,contracts,challenges,used_storage,capacity,treasury_balance,storage_stolen,v_slashed,v_burned,v_gas_spent,v_granted) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`},
		{&st.event, `INSERT OR REPLACE INTO events(tick,seq,kind,order_id,buyer,provider,amount) VALUES(?,?,?,?,?,?,?)`},
		{&st.snapshot, `INSERT OR REPLACE INTO snapshots(tick,path,digest,buyers,providers,orders,contracts,challenges) VALUES(?,?,?,?,?,?,?,?)`},
		{&st.provider, `INSERT OR REPLACE INTO providers(tick,id,treasury,capacity,used,balance,fiat,discount,risk_tolerance,forges_won,joined_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`},
		{&st.buyer, `INSERT OR REPLACE INTO buyers(tick,id,balance,fiat,stinginess,unfilled_orders,all_orders,challenges_won,joined_at) VALUES(?,?,?,?,?,?,?,?,?)`},
		{&st.contract, `INSERT OR REPLACE INTO contracts(tick,id,provider,buyer,size,price,escrow,stake,epoch_created_at,next_epoch,challenges_left,next_challenge) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`},
		{&st.challenge, `INSERT OR REPLACE INTO challenges(tick,contract,enforcer,issued_at,due_by) VALUES(?,?,?,?,?)`},
	} {
		stmt, err := db.Prepare(p.sql)
		if err != nil {
			st.close()
			return nil, err
		}
		*p.dst = stmt
	}
	return &st, nil
}

func (st *statements) close() {
	for _, s := range []*sql.Stmt{st.tick, st.event, st.snapshot, st.provider, st.buyer, st.contract, st.challenge} {
		if s != nil {
			_ = s.Close()
		}
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	stmts, err := prepare(s.db)
	if err != nil {
		log.Errorw("prepare index statements", "err", err)
		for range s.ch {
		}
		return
	}
	defer stmts.close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			log.Warnw("begin index tx", "err", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			log.Warnw("commit index tx", "err", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		log.Warnw("index write failed, batch rolled back", "err", err)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var n int
		var err error
		switch r.kind {
		case reqTick:
			n, err = writeTick(tx.Stmt(stmts.tick), r.tick)
		case reqAudit:
			if r.audit.Tick != lastAuditTick {
				lastAuditTick = r.audit.Tick
				auditSeq = 0
			}
			n, err = writeEvent(tx.Stmt(stmts.event), auditSeq, r.audit)
			auditSeq++
		case reqSnapshot:
			n, err = writeSnapshot(tx, stmts, r.path, r.snap)
		}
		if err != nil {
			rollback(err)
			continue
		}
		opCount += n
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func writeTick(stmt *sql.Stmt, r engine.TickRecord) (int, error) {
	_, err := stmt.Exec(
		int64(r.Tick),
		r.Digest,
		r.Market.StoragePrice,
		r.Market.GasPrice,
		r.Market.TokenPrice,
		r.Market.SPrice,
		r.Fills.Volume,
		r.Fills.Value,
		r.Fills.Count,
		r.Buyers,
		r.Providers,
		r.Orders,
		r.Contracts,
		r.Challenges,
		r.UsedStorage,
		r.Capacity,
		r.TreasuryBalance,
		r.StorageStolen,
		r.VSlashed,
		r.VBurned,
		r.VGasSpent,
		r.VGranted,
	)
	return 1, err
}

func writeEvent(stmt *sql.Stmt, seq int, ev engine.Event) (int, error) {
	_, err := stmt.Exec(int64(ev.Tick), seq, ev.Kind, int64(ev.Order), int64(ev.Buyer), int64(ev.Provider), ev.Amount)
	return 1, err
}

func writeSnapshot(tx *sql.Tx, stmts *statements, path string, snap snapshot.SnapshotV1) (int, error) {
	st := snap.State
	tick := int64(snap.Header.Tick)
	n := 0
	if _, err := tx.Stmt(stmts.snapshot).Exec(tick, path, snap.Header.Digest,
		len(st.Buyers), len(st.Providers), len(st.Orders), len(st.Active), len(st.Challenges)); err != nil {
		return n, err
	}
	n++

	ps := tx.Stmt(stmts.provider)
	for _, id := range st.ProviderIDs() {
		p := st.Providers[id]
		if _, err := ps.Exec(tick, int64(id), boolInt(p.Treasury), p.Capacity, p.Used, p.Balance, p.Fiat,
			p.Discount, p.RiskTolerance, p.ForgesWon, int64(p.JoinedAt)); err != nil {
			return n, err
		}
		n++
	}
	bs := tx.Stmt(stmts.buyer)
	for _, id := range st.BuyerIDs() {
		b := st.Buyers[id]
		if _, err := bs.Exec(tick, int64(id), b.Balance, b.Fiat, b.Stinginess, b.UnfilledOrders, b.AllOrders,
			b.ChallengesWon, int64(b.JoinedAt)); err != nil {
			return n, err
		}
		n++
	}
	cs := tx.Stmt(stmts.contract)
	for _, id := range st.ContractIDs() {
		c := st.Active[id]
		if _, err := cs.Exec(tick, int64(id), int64(c.Provider), int64(c.Buyer), c.Size, c.Price, c.Escrow, c.Stake,
			int64(c.EpochCreatedAt), int64(c.NextEpoch), c.ChallengesLeft, int64(c.NextChallenge)); err != nil {
			return n, err
		}
		n++
	}
	chs := tx.Stmt(stmts.challenge)
	for _, id := range st.ChallengeIDs() {
		ch := st.Challenges[id]
		if _, err := chs.Exec(tick, int64(id), int64(ch.Enforcer), int64(ch.IssuedAt), int64(ch.DueBy)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ProviderRow is one provider as recorded at a snapshot tick.
type ProviderRow struct {
	ID        model.ProviderID
	Treasury  bool
	Capacity  float64
	Used      float64
	Balance   float64
	ForgesWon float64
}

// ProvidersAt lists the providers recorded for tick, by id.
func (s *SQLiteIndex) ProvidersAt(tick uint64) ([]ProviderRow, error) {
	rows, err := s.db.Query(`SELECT id, treasury, capacity, used, balance, forges_won FROM providers WHERE tick = ? ORDER BY id`, int64(tick))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProviderRow
	for rows.Next() {
		var r ProviderRow
		var id int64
		var tr int
		if err := rows.Scan(&id, &tr, &r.Capacity, &r.Used, &r.Balance, &r.ForgesWon); err != nil {
			return nil, err
		}
		r.ID = model.ProviderID(id)
		r.Treasury = tr != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
