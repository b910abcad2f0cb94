// Package indexdb maintains a queryable SQLite read model of runs: turns,
// field changes, fired triggers, errors and snapshot contents. The JSONL logs
// remain the source of truth; the index may drop rows under back-pressure.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	persistlog "statecraft.ai/internal/persistence/log"
	"statecraft.ai/internal/persistence/snapshot"
	"statecraft.ai/internal/sim/state"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun           atomic.Uint64
	dropTurn          atomic.Uint64
	dropAudit         atomic.Uint64
	dropSnapshot      atomic.Uint64
	dropSnapshotState atomic.Uint64
}

// Stats reports queue pressure on the background writer.
type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropRunTotal           uint64
	DropTurnTotal          uint64
	DropAuditTotal         uint64
	DropSnapshotTotal      uint64
	DropSnapshotStateTotal uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqTurn
	reqAudit
	reqSnapshot
	reqSnapshotState
)

type req struct {
	kind reqKind

	run      runRow
	turn     persistlog.TurnEntry
	audit    persistlog.AuditEntry
	snapshot snapshotRow
	values   []countryValue
}

type runRow struct {
	RunID       string
	Scenario    string
	BaseCountry string
	Seed        int64
	StartedAt   string
}

type snapshotRow struct {
	RunID     string
	Turn      int
	Path      string
	Digest    string
	Countries int
	Triggers  int
}

type countryValue struct {
	RunID   string
	Turn    int
	Country string
	Field   string
	Value   float64
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
		// Audits of wide worlds are bursty; buffer rather than stall the run.
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
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			base_country TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			prev_digest TEXT NOT NULL,
			digest TEXT NOT NULL,
			reducers INTEGER NOT NULL,
			field_changes INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, turn)
		);`,
		`CREATE TABLE IF NOT EXISTS field_changes (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			field_path TEXT NOT NULL,
			reducer TEXT NOT NULL,
			old_json TEXT NOT NULL,
			new_json TEXT NOT NULL,
			PRIMARY KEY (run_id, turn, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_field_changes_path ON field_changes(field_path, run_id, turn);`,
		`CREATE TABLE IF NOT EXISTS triggers_fired (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (run_id, turn, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS errors (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			country TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (run_id, turn, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_errors_kind ON errors(kind, run_id, turn);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			countries INTEGER NOT NULL,
			triggers INTEGER NOT NULL,
			PRIMARY KEY (run_id, turn)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshot_countries (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			country TEXT NOT NULL,
			field TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (run_id, turn, country, field)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
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

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:             len(s.ch),
		QueueCapacity:          cap(s.ch),
		DropRunTotal:           s.dropRun.Load(),
		DropTurnTotal:          s.dropTurn.Load(),
		DropAuditTotal:         s.dropAudit.Load(),
		DropSnapshotTotal:      s.dropSnapshot.Load(),
		DropSnapshotStateTotal: s.dropSnapshotState.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// The writer fell behind; the JSONL logs still have the row.
		drops.Add(1)
	}
}

// RecordRun registers a run before its first turn.
func (s *SQLiteIndex) RecordRun(runID, scenario, baseCountry string, seed int64) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqRun, run: runRow{
		RunID:       runID,
		Scenario:    scenario,
		BaseCountry: baseCountry,
		Seed:        seed,
		StartedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}}, &s.dropRun)
}

func (s *SQLiteIndex) WriteTurn(entry persistlog.TurnEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqTurn, turn: entry}, &s.dropTurn)
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry persistlog.AuditEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.dropAudit)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	countries := 0
	if snap.State != nil {
		countries = len(snap.State.Countries)
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		RunID:     snap.Header.RunID,
		Turn:      snap.Header.Turn,
		Path:      path,
		Digest:    snap.Header.Digest,
		Countries: countries,
		Triggers:  len(snap.Triggers),
	}}, &s.dropSnapshot)
}

// RecordSnapshotState flattens every country field of the snapshot into
// snapshot_countries.
func (s *SQLiteIndex) RecordSnapshotState(snap snapshot.SnapshotV1) {
	if s == nil || snap.State == nil {
		return
	}
	s.enqueue(req{kind: reqSnapshotState, values: flatten(snap.Header.RunID, snap.State)}, &s.dropSnapshotState)
}

func flatten(runID string, g *state.GlobalState) []countryValue {
	var out []countryValue
	for _, code := range g.CountryCodes() {
		c := g.Countries[code]
		if c == nil {
			continue
		}
		c.EachField(func(field string, v float64) {
			out = append(out, countryValue{RunID: runID, Turn: g.T, Country: code, Field: field, Value: v})
		})
	}
	return out
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,scenario,base_country,seed,started_at) VALUES(?,?,?,?,?)`)
	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(run_id,turn,prev_digest,digest,reducers,field_changes,errors,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertChange, _ := s.db.Prepare(`INSERT OR REPLACE INTO field_changes(run_id,turn,seq,field_path,reducer,old_json,new_json) VALUES(?,?,?,?,?,?,?)`)
	insertFired, _ := s.db.Prepare(`INSERT OR REPLACE INTO triggers_fired(run_id,turn,seq,name) VALUES(?,?,?,?)`)
	insertError, _ := s.db.Prepare(`INSERT OR REPLACE INTO errors(run_id,turn,seq,kind,source,country,message) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,turn,path,digest,countries,triggers) VALUES(?,?,?,?,?,?)`)
	insertValue, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshot_countries(run_id,turn,country,field,value) VALUES(?,?,?,?,?)`)
	stmts := []*sql.Stmt{insertRun, insertTurn, insertChange, insertFired, insertError, insertSnapshot, insertValue}
	defer func() {
		for _, st := range stmts {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
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
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			ru := r.run
			exec(insertRun, ru.RunID, ru.Scenario, ru.BaseCountry, ru.Seed, ru.StartedAt)

		case reqTurn:
			e := r.turn
			raw, _ := json.Marshal(e)
			exec(insertTurn, e.RunID, e.Turn, e.PrevDigest, e.Digest, e.Reducers, e.FieldChanges, e.Errors, string(raw))

		case reqAudit:
			runID, a := r.audit.RunID, r.audit.Audit
			for i, fc := range a.FieldChanges {
				oldJSON, _ := json.Marshal(fc.OldValue)
				newJSON, _ := json.Marshal(fc.NewValue)
				if !exec(insertChange, runID, a.Timestep, i, fc.FieldPath, fc.ReducerName, string(oldJSON), string(newJSON)) {
					break
				}
			}
			for i, name := range a.TriggersFired {
				if !exec(insertFired, runID, a.Timestep, i, name) {
					break
				}
			}
			for i, e := range a.Errors {
				if !exec(insertError, runID, a.Timestep, i, string(e.Kind), e.Source, e.Country, e.Message) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, sn.Turn, sn.Path, sn.Digest, sn.Countries, sn.Triggers)

		case reqSnapshotState:
			for _, v := range r.values {
				if !exec(insertValue, v.RunID, v.Turn, v.Country, v.Field, v.Value) {
					break
				}
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
