package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/kit"
	"github.com/spf13/cobra"
)

// cli holds the global flags and the streams of one invocation.
type cli struct {
	confPath string
	useEnv   bool

	// raw are the arguments following -r/--raw, passed through to the
	// worker or the dashboard.
	raw    []string
	hasRaw bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// execute runs the command line args.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	c := &cli{in: in, out: out, errOut: errOut}
	args, c.raw, c.hasRaw = splitRaw(args)

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kit",
		Short:         "Run the web server, workers, shell and dashboard of a kit project",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.confPath, "conf", "c", "", "configuration file (overrides -e)")
	root.PersistentFlags().BoolVarP(&c.useEnv, "env", "e", false, "use the configuration file named by "+config.PathEnvVar)

	root.AddCommand(
		c.serverCmd(),
		c.workerCmd(),
		c.shellCmd(),
		c.flowerCmd(),
		c.migrateCmd(),
		c.usersCmd(),
		c.newCmd(),
		c.configCmd(),
	)
	return root
}

// splitRaw removes the arguments following -r/--raw of the worker and
// flower commands. The server command uses -r for --restrict and is left
// untouched.
func splitRaw(args []string) (rest, raw []string, found bool) {
	cmd := -1
	for i, a := range args {
		if a == "worker" || a == "flower" {
			cmd = i
			break
		}
		if a == "server" || a == "shell" || a == "--" {
			return args, nil, false
		}
	}
	if cmd < 0 {
		return args, nil, false
	}
	for i := cmd + 1; i < len(args); i++ {
		if args[i] == "-r" || args[i] == "--raw" {
			rest = append(append([]string{}, args[:i]...), "--raw")
			return rest, append([]string{}, args[i+1:]...), true
		}
	}
	return args, nil, false
}

// loadKit resolves the configuration file, builds the kit and loads its
// modules.
func (c *cli) loadKit(ctx context.Context, opts ...kit.Option) (*kit.Kit, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	path, err := config.Resolve(c.confPath, c.useEnv, cwd)
	if err != nil {
		return nil, err
	}
	k, err := kit.New(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := k.LoadModules(ctx); err != nil {
		_ = k.Close()
		return nil, err
	}
	return k, nil
}

// withKit runs fn with a loaded kit and closes it afterwards.
func (c *cli) withKit(ctx context.Context, fn func(k *kit.Kit) error, opts ...kit.Option) error {
	k, err := c.loadKit(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := k.Close(); err != nil {
			fmt.Fprintln(c.errOut, "error while closing:", err)
		}
	}()
	return fn(k)
}
