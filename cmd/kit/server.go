package main

import (
	"net"
	"strconv"

	"github.com/phrazzld/kit/internal/kit"
	"github.com/spf13/cobra"
)

func (c *cli) serverCmd() *cobra.Command {
	var (
		restrict bool
		port     int
		debug    bool
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []kit.Option
			if debug {
				opts = append(opts, kit.WithDebug(true))
			}
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				web, err := k.Web()
				if err != nil {
					return err
				}
				if debug {
					if err := k.WatchConfig(); err != nil {
						k.Logger().Warn("failed to watch configuration file", "error", err)
					}
				}
				return web.ListenAndServe(cmd.Context(), serverAddr(restrict, port))
			}, opts...)
		},
	}
	cmd.Flags().BoolVarP(&restrict, "restrict", "r", false, "only accept local connections")
	cmd.Flags().IntVarP(&port, "port", "p", 5000, "port to listen on")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "debug logging, template reloading and configuration watching")
	return cmd
}

// serverAddr binds to the loopback interface when restricted.
func serverAddr(restrict bool, port int) string {
	host := "0.0.0.0"
	if restrict {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
