package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	persistlog "statecraft.ai/internal/persistence/log"
	"statecraft.ai/internal/persistence/snapshot"
	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
)

func TestSQLiteIndex_WritesRunTurnAndAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)

	rec := audit.NewRecorder(7)
	rec.AddReducer("inflation")
	rec.CaptureFieldChange("countries.USA.macro.inflation", 0.05, 0.045, "inflation", nil, nil)
	rec.AddTriggerFired("hike")
	rec.AddError(audit.Error{Kind: audit.KindReducerComputation, Source: "debt_dynamics", Country: "EUR", Message: "boom"})
	a := rec.Finalize()

	idx.RecordRun("run-1", "mini", "USA", 42)
	require.NoError(t, idx.WriteTurn(persistlog.NewTurnEntry("run-1", "aa", "bb", a)))
	require.NoError(t, idx.WriteAudit(persistlog.AuditEntry{RunID: "run-1", Audit: a}))
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var scenario string
	var seed int64
	require.NoError(t, db.QueryRow(`SELECT scenario,seed FROM runs WHERE run_id=?`, "run-1").Scan(&scenario, &seed))
	assert.Equal(t, "mini", scenario)
	assert.Equal(t, int64(42), seed)

	var digest string
	var changes, errs int
	require.NoError(t, db.QueryRow(`SELECT digest,field_changes,errors FROM turns WHERE run_id=? AND turn=?`, "run-1", 7).Scan(&digest, &changes, &errs))
	assert.Equal(t, "bb", digest)
	assert.Equal(t, 1, changes)
	assert.Equal(t, 1, errs)

	var fieldPath, newJSON string
	require.NoError(t, db.QueryRow(`SELECT field_path,new_json FROM field_changes WHERE run_id=? AND turn=7`, "run-1").Scan(&fieldPath, &newJSON))
	assert.Equal(t, "countries.USA.macro.inflation", fieldPath)
	assert.Equal(t, "0.045", newJSON)

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM triggers_fired WHERE run_id=?`, "run-1").Scan(&name))
	assert.Equal(t, "hike", name)

	var kind, country string
	require.NoError(t, db.QueryRow(`SELECT kind,country FROM errors WHERE run_id=?`, "run-1").Scan(&kind, &country))
	assert.Equal(t, "reducer_computation", kind)
	assert.Equal(t, "EUR", country)
}

func TestSQLiteIndex_RecordSnapshotState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)

	g := state.New("USD")
	us := state.NewCountry("USA")
	us.Macro.DebtGDP = 1.1
	g.AddCountry(us)
	g.AddCountry(state.NewCountry("EUR"))
	g.T = 12
	snap := snapshot.New("run-2", "mini", "USA", g, triggers.NewFiredSet(), nil)

	idx.RecordSnapshot("/data/runs/run-2/snapshots/000000012.snap.zst", snap)
	idx.RecordSnapshotState(snap)
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var countries int
	var digest string
	require.NoError(t, db.QueryRow(`SELECT countries,digest FROM snapshots WHERE run_id=? AND turn=12`, "run-2").Scan(&countries, &digest))
	assert.Equal(t, 2, countries)
	assert.Equal(t, g.Digest(), digest)

	var debt float64
	require.NoError(t, db.QueryRow(`SELECT value FROM snapshot_countries WHERE run_id=? AND turn=12 AND country='USA' AND field='macro.debt_gdp'`, "run-2").Scan(&debt))
	assert.Equal(t, 1.1, debt)

	var rows, perCountry int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM snapshot_countries WHERE run_id=?`, "run-2").Scan(&rows))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM snapshot_countries WHERE run_id=? AND country='EUR'`, "run-2").Scan(&perCountry))
	assert.Equal(t, 2*perCountry, rows)
	assert.Positive(t, perCountry)
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTurn}

	s.RecordRun("r", "", "", 0)
	_ = s.WriteTurn(persistlog.TurnEntry{Turn: 2})
	_ = s.WriteAudit(persistlog.AuditEntry{})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})
	s.RecordSnapshotState(snapshot.SnapshotV1{State: state.New("USD")})

	st := s.Stats()
	assert.Equal(t, Stats{
		QueueDepth:             1,
		QueueCapacity:          1,
		DropRunTotal:           1,
		DropTurnTotal:          1,
		DropAuditTotal:         1,
		DropSnapshotTotal:      1,
		DropSnapshotStateTotal: 1,
	}, st)
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	s.RecordRun("r", "", "", 0)
	require.NoError(t, s.WriteTurn(persistlog.TurnEntry{}))
	assert.Equal(t, Stats{}, s.Stats())
}
