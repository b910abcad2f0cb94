package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"statecraft.ai/internal/batch"
	"statecraft.ai/internal/metrics"
	"statecraft.ai/internal/persistence/indexdb"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		seeds       []int64
		turns       int
		concurrency int
		snapEvery   int
		noFiles     bool
		disableDB   bool
	)
	cmd := &cobra.Command{
		Use:   "batch [scenario...]",
		Short: "Run several scenarios or seeds concurrently",
		Long: `Run independent scenarios side by side. Each scenario argument becomes
one job; with --seeds every scenario is expanded into one job per seed.
Without arguments the bundled example is used.`,
		Example: `  statecraft batch --seeds 1,2,3,4 --turns 24
  statecraft batch a.yaml b.yaml --concurrency 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"example"}
			}
			if cmd.Flags().Changed("disable-db") {
				a.cfg.DisableDB = disableDB
			}
			var jobs []batch.Job
			for _, path := range args {
				sc, err := a.loadScenario(path, "")
				if err != nil {
					return err
				}
				n := a.turnsFor(sc, turns)
				if len(seeds) == 0 {
					jobs = append(jobs, batch.Job{Scenario: sc, Turns: n})
					continue
				}
				jobs = append(jobs, batch.Sweep(sc, n, seeds)...)
			}
			if concurrency <= 0 {
				concurrency = a.tuning.BatchConcurrency
			}

			opts := batch.Options{
				Concurrency:   concurrency,
				SnapshotEvery: a.snapshotEvery(snapEvery),
				Log:           a.log,
				Metrics:       metrics.New(),
			}
			if !noFiles {
				opts.Dir = a.runsDir()
				mirror, err := a.openMirror()
				if err != nil {
					return err
				}
				defer mirror.Close()
				opts.Mirror = mirror
			}
			if !a.cfg.DisableDB {
				idx, err := indexdb.OpenSQLite(filepath.Join(a.cfg.DataDir, "index.db"))
				if err != nil {
					return fmt.Errorf("open index: %w", err)
				}
				defer idx.Close()
				opts.Index = idx
			}

			a.log.Info().Int("jobs", len(jobs)).Int("concurrency", concurrency).Msg("batch started")
			out, err := batch.Run(cmd.Context(), jobs, opts)

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tRUN\tTURNS\tDIGEST\tERRORS\tSTATUS")
			failed := 0
			for _, o := range out {
				status := "ok"
				if o.Err != nil {
					status = o.Err.Error()
					failed++
				}
				digest := "-"
				if o.Result.Final != nil {
					digest = o.Result.Final.Digest()[:16]
				}
				errs := 0
				for _, n := range o.Result.Errors {
					errs += n
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", o.Label, o.RunID, o.Result.Turns, digest, errs, status)
			}
			_ = tw.Flush()
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(out))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64SliceVar(&seeds, "seeds", nil, "rng seeds to sweep each scenario over")
	f.IntVar(&turns, "turns", 0, "turns per job (default: the scenario's turns)")
	f.IntVar(&concurrency, "concurrency", 0, "runs in flight (default: tuning batch_concurrency)")
	f.IntVar(&snapEvery, "snapshot-every", -1, "snapshot every N turns")
	f.BoolVar(&noFiles, "no-files", false, "keep runs in memory, write no logs or snapshots")
	f.BoolVar(&disableDB, "disable-db", false, "skip the SQLite index")
	return cmd
}
