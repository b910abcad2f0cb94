package main

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"statecraft.ai/internal/metrics"
	"statecraft.ai/internal/persistence/indexdb"
	"statecraft.ai/internal/persistence/snapshot"
	"statecraft.ai/internal/runner"
	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/scenario"
	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
	"statecraft.ai/internal/transport/observer"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		triggersPath string
		turns        int
		runID        string
		snapEvery    int
		metricsAddr  string
		observerAddr string
		disableDB    bool
		resume       string
		archiveYears bool
		linger       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Step one scenario and record the run",
		Long: `Step a scenario file (YAML or JSON) through the kernel. Without an
argument the bundled three-bloc example is used. Turn and audit logs,
snapshots and the SQLite index are written under <data>/runs/<run-id>.`,
		Example: `  statecraft run
  statecraft run scenarios/opec.yaml --turns 40 --triggers scenarios/opec_triggers.json
  statecraft run --resume data/runs/<id>/snapshots/000000010.snap.zst --turns 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()
			if flags.Changed("metrics-addr") {
				a.cfg.MetricsAddr = metricsAddr
			}
			if flags.Changed("observer-addr") {
				a.cfg.ObserverAddr = observerAddr
			}
			if flags.Changed("disable-db") {
				a.cfg.DisableDB = disableDB
			}

			var (
				sc    *scenario.Scenario
				fired *triggers.FiredSet
			)
			if resume != "" {
				snap, err := snapshot.ReadSnapshot(resume)
				if err != nil {
					return fmt.Errorf("resume: %w", err)
				}
				sc, fired = runner.FromSnapshot(snap)
				if runID == "" {
					runID = snap.Header.RunID
				}
				a.log.Info().Str("snapshot", resume).Int("t", snap.Header.Turn).Msg("resuming")
			} else {
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				var err error
				if sc, err = a.loadScenario(path, triggersPath); err != nil {
					return err
				}
			}
			for _, err := range sc.Check() {
				a.log.Warn().Err(err).Msg("trigger will be skipped")
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			reg := metrics.New()
			obs := observer.NewServer(a.log)
			if a.cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", reg.Handler())
				mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
					rw.WriteHeader(http.StatusOK)
					_, _ = rw.Write([]byte("ok\n"))
				})
				serve(ctx, a.log, "metrics", a.cfg.MetricsAddr, mux)
			}
			if a.cfg.ObserverAddr != "" {
				mux := http.NewServeMux()
				mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
				mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
				serve(ctx, a.log, "observer", a.cfg.ObserverAddr, mux)
			}

			var idx *indexdb.SQLiteIndex
			if !a.cfg.DisableDB {
				var err error
				idx, err = indexdb.OpenSQLite(filepath.Join(a.cfg.DataDir, "index.db"))
				if err != nil {
					return fmt.Errorf("open index: %w", err)
				}
				defer func() {
					if err := idx.Close(); err != nil {
						a.log.Warn().Err(err).Msg("close index")
					}
				}()
			}

			mirror, err := a.openMirror()
			if err != nil {
				return err
			}
			defer mirror.Close()

			res, err := runner.Run(ctx, sc, a.turnsFor(sc, turns), runner.Options{
				RunID:         runID,
				Dir:           filepath.Join(a.runsDir(), runID),
				SnapshotEvery: a.snapshotEvery(snapEvery),
				ArchiveYears:  archiveYears,
				Fired:         fired,
				Log:           a.log,
				Index:         idx,
				Metrics:       reg,
				Observer:      obs,
				Mirror:        mirror,
			})
			printResult(a.out, res)
			if err != nil {
				return err
			}
			if linger > 0 && (a.cfg.MetricsAddr != "" || a.cfg.ObserverAddr != "") {
				a.log.Info().Dur("linger", linger).Msg("run finished, servers stay up")
				select {
				case <-ctx.Done():
				case <-time.After(linger):
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&triggersPath, "triggers", "", "trigger file replacing the scenario's triggers")
	f.IntVar(&turns, "turns", 0, "turns to step (default: the scenario's turns, then tuning default_turns)")
	f.StringVar(&runID, "run-id", "", "run id (default: random, or the snapshot's when resuming)")
	f.IntVar(&snapEvery, "snapshot-every", -1, "snapshot every N turns; 0 keeps only first and last")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (env STATECRAFT_METRICS_ADDR)")
	f.StringVar(&observerAddr, "observer-addr", "", "serve the observer websocket on this address (env STATECRAFT_OBSERVER_ADDR)")
	f.BoolVar(&disableDB, "disable-db", false, "skip the SQLite index (env STATECRAFT_DISABLE_DB)")
	f.StringVar(&resume, "resume", "", "continue from this snapshot instead of a scenario")
	f.BoolVar(&archiveYears, "archive-years", false, "snapshot and archive every turn that closes a calendar year")
	f.DurationVar(&linger, "linger", 0, "keep metrics and observer servers up this long after the run")
	return cmd
}

func printResult(w io.Writer, res runner.Result) {
	if res.Final == nil {
		return
	}
	fmt.Fprintf(w, "run %s: %d turns, t=%d, digest=%s\n", res.RunID, res.Turns, res.Final.T, res.Final.Digest())
	if len(res.Errors) > 0 {
		kinds := make([]string, 0, len(res.Errors))
		for k := range res.Errors {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  errors %-20s %d\n", k, res.Errors[audit.ErrorKind(k)])
		}
	}
	if res.Fired != nil && len(res.Fired.LastFired) > 0 {
		names := make([]string, 0, len(res.Fired.LastFired))
		for n := range res.Fired.LastFired {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if t := res.Fired.LastFired[n]; t != nil {
				fmt.Fprintf(w, "  trigger %-20s last fired t=%d\n", n, *t)
			}
		}
	}
	printCountries(w, res.Final)
}

func printCountries(w io.Writer, g *state.GlobalState) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tGAP\tINFLATION\tPOLICY\tYIELD\tDEBT/GDP\tFX\tTIER1\tAPPROVAL")
	for _, code := range g.CountryCodes() {
		c := g.Countries[code]
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.3f\t%.4f\t%.4f\t%.3f\n",
			code, c.Macro.OutputGap, c.Macro.Inflation, c.Macro.PolicyRate, c.Finance.SovereignYield,
			c.Macro.DebtGDP, c.External.FXRate, c.Finance.BankTier1Ratio, c.Sentiment.Approval)
	}
	_ = tw.Flush()
}
