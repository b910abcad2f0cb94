package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"statecraft.ai/internal/runner"
)

func newReplayCmd(a *app) *cobra.Command {
	var snapPath string
	cmd := &cobra.Command{
		Use:   "replay <run-id|run-dir>",
		Short: "Re-step a recorded run and verify every turn digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir := args[0]
			if filepath.Base(runDir) == runDir {
				runDir = filepath.Join(a.runsDir(), runDir)
			}
			path := snapPath
			if path == "" {
				var err error
				if path, err = runner.EarliestSnapshot(runDir); err != nil {
					return err
				}
			}
			rep, err := runner.Replay(path, runDir)
			if err != nil {
				return err
			}
			a.log.Debug().Str("snapshot", path).Int("from", rep.FromTurn).Msg("replayed")
			fmt.Fprintf(a.out, "replay ok: run=%s from=%d checked=%d t=%d digest=%s\n",
				rep.RunID, rep.FromTurn, rep.Checked, rep.LastTurn, rep.LastDigest)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapPath, "snapshot", "", "snapshot to start from (default: the run's first)")
	return cmd
}
