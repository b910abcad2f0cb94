// Package runner drives a scenario through the kernel turn by turn and fans
// each turn out to the logs, the index, metrics and the observer stream.
// None of the sinks can influence the numeric outcome of a run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"statecraft.ai/internal/metrics"
	"statecraft.ai/internal/persistence/archive"
	"statecraft.ai/internal/persistence/indexdb"
	persistlog "statecraft.ai/internal/persistence/log"
	"statecraft.ai/internal/persistence/r2s3"
	"statecraft.ai/internal/persistence/snapshot"
	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/kernel"
	"statecraft.ai/internal/sim/scenario"
	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
	"statecraft.ai/internal/transport/observer"
)

type Options struct {
	// RunID names the run; a random one is generated when empty.
	RunID string
	// Dir receives turns/, audit/ and snapshots/. Empty disables file
	// output.
	Dir string
	// SnapshotEvery writes a snapshot every N turns. The final state is
	// always snapshotted when Dir is set. 0 disables periodic snapshots.
	SnapshotEvery int
	// ArchiveYears also snapshots every turn that closes a calendar year
	// and copies it under Dir/archives/year_<YYYY>.
	ArchiveYears bool
	// Fired resumes an existing trigger lifecycle record.
	Fired *triggers.FiredSet

	Log      zerolog.Logger
	Index    *indexdb.SQLiteIndex
	Metrics  *metrics.Registry
	Observer *observer.Server
	// Mirror receives every snapshot as it is written and the logs and
	// archives once the run ends.
	Mirror *r2s3.Mirror
}

type Result struct {
	RunID  string
	Final  *state.GlobalState
	Fired  *triggers.FiredSet
	Turns  int
	Errors map[audit.ErrorKind]int
	// Digests holds the state digest after each turn.
	Digests []string
}

// ErrNoScenario is returned when Run is handed a scenario without a state.
var ErrNoScenario = errors.New("runner: scenario has no state")

// Run advances sc by turns Steps. Cancelling ctx stops the run between
// turns; the partial result is returned with ctx's error.
func Run(ctx context.Context, sc *scenario.Scenario, turns int, opts Options) (Result, error) {
	if sc == nil || sc.State == nil {
		return Result{}, ErrNoScenario
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := opts.Log.With().Str("run_id", runID).Str("scenario", sc.Name).Logger()

	fired := opts.Fired
	if fired == nil {
		fired = triggers.NewFiredSet()
	}
	res := Result{RunID: runID, Final: sc.State, Fired: fired, Errors: map[audit.ErrorKind]int{}}

	var (
		turnLog  *persistlog.TurnLogger
		auditLog *persistlog.AuditLogger
	)
	if opts.Dir != "" {
		turnLog = persistlog.NewTurnLogger(opts.Dir)
		auditLog = persistlog.NewAuditLogger(opts.Dir)
		defer func() {
			if err := turnLog.Close(); err != nil {
				log.Warn().Err(err).Msg("close turn log")
			}
			if err := auditLog.Close(); err != nil {
				log.Warn().Err(err).Msg("close audit log")
			}
			for _, sub := range []string{"turns", "audit", "archives"} {
				opts.Mirror.EnqueueDir(filepath.Join(opts.Dir, sub))
			}
		}()
	}

	opts.Index.RecordRun(runID, sc.Name, sc.BaseCountry, sc.State.Rules.RNGSeed)
	if opts.Observer != nil {
		opts.Observer.SetRun(runID, sc.Name, sc.BaseCountry, sc.State)
	}
	if opts.Metrics != nil {
		opts.Metrics.ActiveRuns.Inc()
		defer opts.Metrics.ActiveRuns.Dec()
	}

	k := kernel.New(kernel.WithLogger(log))
	g := sc.State
	prevDigest := g.Digest()
	log.Info().Int("t", g.T).Int("turns", turns).Int("countries", len(g.Countries)).Int("triggers", len(sc.Triggers)).Msg("run started")
	if opts.Dir != "" {
		// The starting state is always on disk so the whole run can be replayed.
		if err := writeSnapshot(opts, runID, sc, g, fired); err != nil {
			return res, err
		}
	}

	for i := 0; i < turns; i++ {
		if err := ctx.Err(); err != nil {
			log.Info().Int("t", g.T).Msg("run cancelled")
			return res, err
		}

		start := time.Now()
		next, a := k.Step(g, sc.Triggers, fired, sc.BaseCountry)
		took := time.Since(start)
		if next == nil {
			return res, fmt.Errorf("runner: step at t=%d returned no state", g.T)
		}
		g = next
		digest := g.Digest()

		res.Final = g
		res.Turns++
		res.Digests = append(res.Digests, digest)
		for _, e := range a.Errors {
			res.Errors[e.Kind]++
		}

		entry := persistlog.NewTurnEntry(runID, prevDigest, digest, a)
		if turnLog != nil {
			if err := turnLog.WriteTurn(entry); err != nil {
				return res, fmt.Errorf("turn log: %w", err)
			}
			if err := auditLog.WriteAudit(persistlog.AuditEntry{RunID: runID, Audit: a}); err != nil {
				return res, fmt.Errorf("audit log: %w", err)
			}
		}
		_ = opts.Index.WriteTurn(entry)
		_ = opts.Index.WriteAudit(persistlog.AuditEntry{RunID: runID, Audit: a})
		opts.Metrics.ObserveTurn(sc.Name, took, a)
		if opts.Observer != nil {
			opts.Observer.Publish(runID, g, a)
		}

		ev := log.Debug()
		if len(a.Errors) > 0 {
			ev = log.Info()
		}
		ev.Int("t", a.Timestep).
			Str("digest", digest[:12]).
			Int("changes", len(a.FieldChanges)).
			Strs("fired", a.TriggersFired).
			Int("errors", len(a.Errors)).
			Dur("took", took).
			Msg("turn")

		last := i == turns-1
		periodic := opts.SnapshotEvery > 0 && g.T%opts.SnapshotEvery == 0
		_, yearEnd := archive.ClosedYear(g.Rules.Calendar, g.T)
		yearEnd = yearEnd && opts.ArchiveYears
		if opts.Dir != "" && (last || periodic || yearEnd) {
			if err := writeSnapshot(opts, runID, sc, g, fired); err != nil {
				return res, err
			}
		}
		prevDigest = digest
	}

	if opts.Metrics != nil {
		opts.Metrics.IndexDropped.Set(float64(dropped(opts.Index.Stats())))
		if opts.Observer != nil {
			opts.Metrics.ObserverDrops.Set(float64(opts.Observer.Dropped()))
		}
	}
	log.Info().Int("t", g.T).Int("turns", res.Turns).Interface("errors", res.Errors).Msg("run finished")
	return res, nil
}

func writeSnapshot(opts Options, runID string, sc *scenario.Scenario, g *state.GlobalState, fired *triggers.FiredSet) error {
	snap := snapshot.New(runID, sc.Name, sc.BaseCountry, g, fired, sc.Triggers)
	path := filepath.Join(opts.Dir, "snapshots", snapshot.FileName(g.T))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return fmt.Errorf("snapshot t=%d: %w", g.T, err)
	}
	opts.Index.RecordSnapshot(path, snap)
	opts.Index.RecordSnapshotState(snap)
	opts.Mirror.Enqueue(path)
	if opts.Metrics != nil {
		opts.Metrics.SnapshotsTotal.Inc()
	}
	if opts.ArchiveYears {
		year, dst, ok, err := archive.ArchiveYearEnd(opts.Dir, path, snap)
		if err != nil {
			return fmt.Errorf("archive t=%d: %w", g.T, err)
		}
		if ok {
			opts.Log.Info().Str("run_id", runID).Int("year", year).Str("path", dst).Msg("year archived")
		}
	}
	return nil
}

func dropped(st indexdb.Stats) uint64 {
	return st.DropRunTotal + st.DropTurnTotal + st.DropAuditTotal + st.DropSnapshotTotal + st.DropSnapshotStateTotal
}

// FromSnapshot rebuilds a scenario and trigger record from a snapshot so a
// run can resume where it stopped.
func FromSnapshot(snap snapshot.SnapshotV1) (*scenario.Scenario, *triggers.FiredSet) {
	return &scenario.Scenario{
		Name:        snap.Scenario,
		BaseCountry: snap.BaseCountry,
		State:       snap.State,
		Triggers:    snap.Triggers,
	}, snap.Fired
}
