package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/phrazzld/kit/internal/kit"
	"github.com/spf13/cobra"
)

func (c *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the users allowed to log in",
	}
	cmd.AddCommand(c.usersAddCmd(), c.usersListCmd(), c.usersRemoveCmd())
	return cmd
}

func (c *cli) usersAddCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user. The password is read from stdin unless --password is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(c.out, "Password: ")
				line, err := bufio.NewReader(c.in).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password given")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				svc, err := k.Auth()
				if err != nil {
					return err
				}
				u, err := svc.Register(k.Context(), args[0], password)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "user %s added (%s)\n", u.Username, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password of the new user")
	return cmd
}

func (c *cli) usersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				svc, err := k.Auth()
				if err != nil {
					return err
				}
				users, err := svc.Users(k.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Username, u.ID, u.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) usersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				svc, err := k.Auth()
				if err != nil {
					return err
				}
				if err := svc.Remove(k.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "user %s removed\n", args[0])
				return nil
			})
		},
	}
}
