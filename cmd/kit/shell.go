package main

import (
	"github.com/phrazzld/kit/internal/kit"
	"github.com/phrazzld/kit/internal/shell"
	"github.com/spf13/cobra"
)

func (c *cli) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell in the project context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				return shell.New(k, c.out).Run(cmd.Context(), c.in)
			})
		},
	}
}
