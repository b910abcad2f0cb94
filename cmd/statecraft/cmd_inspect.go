package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	persistlog "statecraft.ai/internal/persistence/log"
	"statecraft.ai/internal/persistence/snapshot"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		fields    []string
		asJSON    bool
		auditTurn int
	)
	cmd := &cobra.Command{
		Use:   "inspect <snapshot|run-id|run-dir>",
		Short: "Print a snapshot's state or a recorded turn's audit",
		Long: `Print the countries of a snapshot. Given a run, the latest snapshot is
used. --field prints dotted state paths such as
countries.USA.macro.inflation or trade.USA.EUR. --audit-turn prints the
field changes recorded for one turn of the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if filepath.Base(target) == target && filepath.Ext(target) == "" {
				target = filepath.Join(a.runsDir(), target)
			}
			runDir, snapPath := "", target
			if fi, err := os.Stat(target); err == nil && fi.IsDir() {
				runDir = target
				snapPath = snapshot.Latest(filepath.Join(target, "snapshots"))
				if snapPath == "" {
					return fmt.Errorf("no snapshots under %s", target)
				}
			}

			if cmd.Flags().Changed("audit-turn") {
				if runDir == "" {
					return fmt.Errorf("--audit-turn needs a run, not a snapshot file")
				}
				return a.printAudit(runDir, auditTurn)
			}

			snap, err := snapshot.ReadSnapshot(snapPath)
			if err != nil {
				return err
			}
			g := snap.State
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			if len(fields) > 0 {
				for _, p := range fields {
					v, err := g.Get(p)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s = %v\n", p, v)
				}
				return nil
			}
			fmt.Fprintf(a.out, "snapshot %s\n  run=%s scenario=%s base=%s t=%d digest=%s\n",
				filepath.Base(snapPath), snap.Header.RunID, snap.Scenario, snap.BaseCountry, snap.Header.Turn, snap.Header.Digest)
			fmt.Fprintf(a.out, "  pending events=%d processed=%d triggers=%d disabled=%d\n",
				len(g.Events.Pending), len(g.Events.Processed), len(snap.Triggers), len(snap.Fired.Disabled))
			printCountries(a.out, g)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&fields, "field", nil, "dotted state path to print (repeatable)")
	f.BoolVar(&asJSON, "json", false, "print the whole snapshot as JSON")
	f.IntVar(&auditTurn, "audit-turn", 0, "print the audit of this turn")
	return cmd
}

func (a *app) printAudit(runDir string, turn int) error {
	entries, err := persistlog.ReadAudits(runDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Audit.Timestep != turn {
			continue
		}
		au := e.Audit
		fmt.Fprintf(a.out, "turn %d: %d reducers, %d changes, triggers=%v\n",
			au.Timestep, len(au.ReducerSequence), len(au.FieldChanges), au.TriggersFired)
		tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "REDUCER\tFIELD\tOLD\tNEW")
		for _, fc := range au.FieldChanges {
			fmt.Fprintf(tw, "%s\t%s\t%v\t%v\n", fc.ReducerName, fc.FieldPath, fc.OldValue, fc.NewValue)
		}
		_ = tw.Flush()
		for _, er := range au.Errors {
			fmt.Fprintf(a.out, "error %s %s %s: %s\n", er.Kind, er.Source, er.Country, er.Message)
		}
		return nil
	}
	return fmt.Errorf("turn %d not found in %s", turn, runDir)
}
