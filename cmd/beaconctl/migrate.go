package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beacon-dash/beacon/internal/platform/migrate"
)

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, flags, func(r *migrate.Runner) error {
				changed, err := r.Up()
				if err != nil {
					return err
				}
				if !changed {
					cmd.Println("No schema changes to apply.")
					return nil
				}
				cmd.Println("Applied all pending migrations.")
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseStepsArg(args[0])
			if err != nil {
				return err
			}
			return withRunner(cmd, flags, func(r *migrate.Runner) error {
				changed, err := r.Down(steps)
				if err != nil {
					return err
				}
				if !changed {
					cmd.Println("No schema changes to roll back.")
					return nil
				}
				cmd.Printf("Rolled back %d migration step(s).\n", steps)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, flags, func(r *migrate.Runner) error {
				version, dirty, err := r.Version()
				if err != nil {
					return err
				}
				if dirty {
					cmd.Printf("%d (dirty)\n", version)
					return nil
				}
				cmd.Printf("%d\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the recorded version (-1 for none)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}
			return withRunner(cmd, flags, func(r *migrate.Runner) error {
				if err := r.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	return migrateCmd
}

func withRunner(cmd *cobra.Command, flags *globalFlags, fn func(*migrate.Runner) error) error {
	url, err := flags.databaseURL()
	if err != nil {
		return err
	}
	runner, err := migrate.Open(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runner.Close(); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()
	return fn(runner)
}

func parseStepsArg(arg string) (int, error) {
	steps, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid migration steps %q: expected a positive integer", arg)
	}
	return steps, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}
