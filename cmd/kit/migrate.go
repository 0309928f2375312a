package main

import (
	"fmt"

	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/kit"
	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|status|version|reset|redo> [version]",
		Short:     "Manage the core database schema",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "status", "version", "reset", "redo"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				engine, err := k.Engine()
				if err != nil {
					return err
				}
				version, err := database.Migrate(k.Context(), engine, args[0], args[1:]...)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "schema version %d\n", version)
				return nil
			})
		},
	}
}
