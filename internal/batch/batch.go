// Package batch runs independent scenarios side by side. Runs share no
// state, so the outcome of each is the same as running it alone.
package batch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"statecraft.ai/internal/metrics"
	"statecraft.ai/internal/persistence/indexdb"
	"statecraft.ai/internal/persistence/r2s3"
	"statecraft.ai/internal/runner"
	"statecraft.ai/internal/sim/scenario"
)

type Job struct {
	// Label identifies the job in logs and outcomes. Defaults to the
	// scenario name.
	Label    string
	Scenario *scenario.Scenario
	Turns    int
}

type Outcome struct {
	Label  string
	RunID  string
	Result runner.Result
	Err    error
}

type Options struct {
	// Concurrency caps the runs in flight; <= 0 means one.
	Concurrency int
	// Dir, when set, receives one sub-directory per run named by run ID.
	Dir           string
	SnapshotEvery int

	Log     zerolog.Logger
	Index   *indexdb.SQLiteIndex
	Metrics *metrics.Registry
	Mirror  *r2s3.Mirror
}

// Run executes every job and returns outcomes in job order. A failing job
// does not stop the others; only cancelling ctx does, in which case the
// context error is returned alongside whatever finished.
func Run(ctx context.Context, jobs []Job, opts Options) ([]Outcome, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	out := make([]Outcome, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for i, job := range jobs {
		label := job.Label
		if label == "" && job.Scenario != nil {
			label = job.Scenario.Name
		}
		runID := uuid.NewString()
		out[i] = Outcome{Label: label, RunID: runID}

		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			ro := runner.Options{
				RunID:         runID,
				SnapshotEvery: opts.SnapshotEvery,
				Log:           opts.Log.With().Str("job", label).Logger(),
				Index:         opts.Index,
				Metrics:       opts.Metrics,
				Mirror:        opts.Mirror,
			}
			if opts.Dir != "" {
				ro.Dir = filepath.Join(opts.Dir, runID)
			}
			res, err := runner.Run(egCtx, job.Scenario, job.Turns, ro)
			out[i].Result = res
			if err != nil {
				out[i].Err = fmt.Errorf("%s: %w", label, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return out, ctx.Err()
}

// Sweep expands one scenario into a job per seed. Each job gets its own
// deep copy of the starting state.
func Sweep(sc *scenario.Scenario, turns int, seeds []int64) []Job {
	jobs := make([]Job, 0, len(seeds))
	for _, seed := range seeds {
		g := sc.State.Clone()
		g.Rules.RNGSeed = seed
		jobs = append(jobs, Job{
			Label: fmt.Sprintf("%s/seed=%d", sc.Name, seed),
			Scenario: &scenario.Scenario{
				Name:        sc.Name,
				BaseCountry: sc.BaseCountry,
				Turns:       sc.Turns,
				State:       g,
				Triggers:    sc.Triggers,
			},
			Turns: turns,
		})
	}
	return jobs
}
