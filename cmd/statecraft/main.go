// Command statecraft steps economic scenarios through the turn kernel and
// checks, inspects and replays the runs it leaves on disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"statecraft.ai/internal/config"
	"statecraft.ai/internal/persistence/r2s3"
	"statecraft.ai/internal/sim/scenario"
	"statecraft.ai/internal/sim/tuning"
)

// app carries what every subcommand needs once the root has parsed its
// flags.
type app struct {
	cfg    config.Config
	tuning tuning.Tuning
	log    zerolog.Logger
	out    io.Writer

	tuningPath string
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	var (
		dataDir, configDir, logLevel string
		logJSON                      bool
	)

	root := &cobra.Command{
		Use:   "statecraft",
		Short: "Turn-based multi-country economic simulation",
		Long: `statecraft advances a world of countries one turn at a time through a
fixed pipeline of economic reducers, fires scenario triggers written in a
small condition language and records every field change for audit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("data") {
				cfg.DataDir = dataDir
			}
			if flags.Changed("configs") {
				cfg.ConfigDir = configDir
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-json") {
				cfg.LogJSON = logJSON
			}
			lvl, err := cfg.Level()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = newLogger(cmd.ErrOrStderr(), cfg.LogJSON).Level(lvl)

			path := strings.TrimSpace(a.tuningPath)
			explicit := path != ""
			if !explicit {
				path = filepath.Join(cfg.ConfigDir, "tuning.yaml")
			}
			t, err := tuning.Load(path)
			switch {
			case err == nil:
			case !explicit && errors.Is(err, os.ErrNotExist):
				a.log.Debug().Str("path", path).Msg("no tuning file, using built-in defaults")
				t = tuning.Defaults()
			default:
				return fmt.Errorf("load tuning: %w", err)
			}
			a.tuning = t
			return nil
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&dataDir, "data", "./data", "runtime data directory (env STATECRAFT_DATA_DIR)")
	pf.StringVar(&configDir, "configs", "./configs", "config directory (env STATECRAFT_CONFIG_DIR)")
	pf.StringVar(&a.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (env STATECRAFT_LOG_LEVEL)")
	pf.BoolVar(&logJSON, "log-json", false, "log JSON lines instead of console output (env STATECRAFT_LOG_JSON)")

	root.AddCommand(
		newRunCmd(a),
		newBatchCmd(a),
		newReplayCmd(a),
		newInspectCmd(a),
		newValidateCmd(a),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, asJSON bool) zerolog.Logger {
	if !asJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// loadScenario reads path, or the bundled example when path is empty or
// "example". A separate triggers file replaces the scenario's own list.
func (a *app) loadScenario(path, triggersPath string) (*scenario.Scenario, error) {
	var (
		sc  *scenario.Scenario
		err error
	)
	if path == "" || path == "example" {
		sc, err = scenario.Example(a.tuning.Rules)
	} else {
		sc, err = scenario.Load(path, a.tuning.Rules)
	}
	if err != nil {
		return nil, err
	}
	if triggersPath != "" {
		trigs, err := scenario.LoadTriggers(triggersPath)
		if err != nil {
			return nil, err
		}
		sc.Triggers = trigs
	}
	return sc, nil
}

func (a *app) turnsFor(sc *scenario.Scenario, flag int) int {
	switch {
	case flag > 0:
		return flag
	case sc.Turns > 0:
		return sc.Turns
	default:
		return a.tuning.DefaultTurns
	}
}

func (a *app) snapshotEvery(flag int) int {
	switch {
	case flag >= 0:
		return flag
	case a.cfg.SnapshotEvery >= 0:
		return a.cfg.SnapshotEvery
	default:
		return a.tuning.SnapshotEveryTurns
	}
}

func (a *app) runsDir() string { return filepath.Join(a.cfg.DataDir, "runs") }

// serve runs an HTTP server on addr until ctx ends. An empty addr is a
// no-op.
func serve(ctx context.Context, log zerolog.Logger, name, addr string, h http.Handler) {
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		log.Info().Str("addr", addr).Msgf("%s listening", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msgf("%s stopped", name)
		}
	}()
}

// openMirror returns nil when no mirror is configured.
func (a *app) openMirror() (*r2s3.Mirror, error) {
	mc := a.cfg.Mirror
	if !mc.Enabled() {
		return nil, nil
	}
	client, err := r2s3.New(r2s3.Credentials{
		Endpoint:        mc.Endpoint,
		Bucket:          mc.Bucket,
		Region:          mc.Region,
		AccessKeyID:     mc.AccessKeyID,
		SecretAccessKey: mc.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}
	a.log.Info().Str("bucket", mc.Bucket).Str("prefix", mc.Prefix).Msg("mirroring run artefacts")
	return r2s3.NewMirror(client, r2s3.MirrorOptions{
		Root:    a.runsDir(),
		Prefix:  mc.Prefix,
		Workers: mc.Workers,
	}, a.log), nil
}
