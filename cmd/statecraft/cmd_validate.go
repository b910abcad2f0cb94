package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"statecraft.ai/internal/sim/scenario"
)

var errInvalid = errors.New("validation failed")

func newValidateCmd(a *app) *cobra.Command {
	var triggersOnly bool
	cmd := &cobra.Command{
		Use:   "validate <file...>",
		Short: "Check scenario or trigger files without running them",
		Long: `Validate files against the bundled JSON schemas and compile every
trigger condition against the scenario's starting state. With
--triggers-only each file is a bare trigger list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bad := 0
			for _, path := range args {
				var problems []error
				if triggersOnly {
					if _, err := scenario.LoadTriggers(path); err != nil {
						problems = append(problems, err)
					}
				} else {
					sc, err := a.loadScenario(path, "")
					if err != nil {
						problems = append(problems, err)
					} else {
						problems = sc.Check()
					}
				}
				if len(problems) == 0 {
					fmt.Fprintf(a.out, "%s: ok\n", path)
					continue
				}
				bad++
				msgs := make([]string, len(problems))
				for i, p := range problems {
					msgs[i] = p.Error()
				}
				fmt.Fprintf(a.out, "%s:\n  %s\n", path, strings.Join(msgs, "\n  "))
			}
			if bad > 0 {
				return fmt.Errorf("%w: %d of %d files", errInvalid, bad, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&triggersOnly, "triggers-only", false, "treat files as trigger lists")
	return cmd
}
