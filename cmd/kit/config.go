package main

import (
	"fmt"

	"github.com/phrazzld/kit/internal/kit"
	"github.com/phrazzld/kit/internal/redact"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				fmt.Fprintf(c.out, "# %s\n", k.Config().Path)
				enc := yaml.NewEncoder(c.out)
				enc.SetIndent(2)
				if err := enc.Encode(redact.Settings(k.Config().Settings())); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
}
