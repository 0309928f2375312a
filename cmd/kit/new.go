package main

import (
	"fmt"

	"github.com/phrazzld/kit/internal/scaffold"
	"github.com/spf13/cobra"
)

func (c *cli) newCmd() *cobra.Command {
	var opts scaffold.Options
	cmd := &cobra.Command{
		Use:   "new <dir>",
		Short: "Create a starter project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := scaffold.Create(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			for _, p := range written {
				fmt.Fprintln(c.out, "created", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name (default: directory name)")
	cmd.Flags().StringSliceVarP(&opts.Modules, "module", "m", nil, "module to load, repeatable")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database", "", "database url (default: sqlite file in the project)")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing files")
	return cmd
}
