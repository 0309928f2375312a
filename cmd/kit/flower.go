package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/phrazzld/kit/internal/flower"
	"github.com/phrazzld/kit/internal/kit"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newFlowerFlagSet(address, broker *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("flower options", pflag.ContinueOnError)
	fs.StringVar(address, "address", "", "address to listen on (default: flower.address)")
	fs.StringVar(broker, "broker", "", "broker url to monitor (default: tasks.broker_url)")
	return fs
}

func (c *cli) flowerCmd() *cobra.Command {
	var (
		port        int
		verboseHelp bool
		raw         bool
	)
	cmd := &cobra.Command{
		Use:   "flower",
		Short: "Start the task monitoring dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var address, broker string
			fs := newFlowerFlagSet(&address, &broker)
			if verboseHelp {
				fmt.Fprintln(c.out, "Dashboard options (after -r):")
				fmt.Fprint(c.out, fs.FlagUsages())
				return nil
			}
			if raw {
				if err := fs.Parse(c.raw); err != nil {
					return fmt.Errorf("invalid dashboard options: %w", err)
				}
			}
			var opts []kit.Option
			if broker != "" {
				opts = append(opts, kit.WithBrokerURL(broker))
			}
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				cfg := k.Config()
				if address == "" {
					address = cfg.Flower.Address
				}
				if !cmd.Flags().Changed("port") {
					port = cfg.Flower.Port
				}
				app, err := k.Tasks()
				if err != nil {
					return err
				}
				d := flower.New(app, k.Logger())
				return d.ListenAndServe(cmd.Context(), net.JoinHostPort(address, strconv.Itoa(port)))
			}, opts...)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", flower.DefaultPort, "port to listen on")
	cmd.Flags().BoolVarP(&verboseHelp, "verbose-help", "v", false, "print the dashboard options")
	cmd.Flags().BoolVarP(&raw, "raw", "r", false, "pass the following arguments as dashboard options")
	return cmd
}
