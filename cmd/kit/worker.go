package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/phrazzld/kit/internal/kit"
	"github.com/phrazzld/kit/internal/task"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// workerFlags are the raw worker options accepted after -r.
type workerFlags struct {
	concurrency int
	queues      string
	beat        bool
	prefetch    int
	hostname    string
}

func newWorkerFlagSet(f *workerFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("worker options", pflag.ContinueOnError)
	fs.IntVar(&f.concurrency, "concurrency", 0, "number of tasks run at once (default: tasks.concurrency)")
	fs.StringVar(&f.queues, "queues", "", "comma separated queues to consume, by priority (default: tasks.default_queue)")
	fs.BoolVar(&f.beat, "beat", false, "also run the periodic task scheduler")
	fs.IntVar(&f.prefetch, "prefetch-multiplier", 0, "messages fetched ahead per slot (default: tasks.prefetch_multiplier)")
	fs.StringVar(&f.hostname, "hostname", "", "worker name (default: w<N>.<domain>)")
	return fs
}

func (c *cli) workerCmd() *cobra.Command {
	var (
		onlyDirect  bool
		verboseHelp bool
		raw         bool
	)
	cmd := &cobra.Command{
		Use:   "worker <domain>",
		Short: "Start a task worker named w<N>.<domain>",
		Long: "Start a task worker. The worker is named w<N>.<domain> with the smallest N\n" +
			"not used by a live worker. Arguments after -r are worker options, see -v.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var wf workerFlags
			fs := newWorkerFlagSet(&wf)
			if verboseHelp {
				fmt.Fprintln(c.out, "Worker options (after -r):")
				fmt.Fprint(c.out, fs.FlagUsages())
				return nil
			}
			if len(args) != 1 {
				return errors.New("worker needs exactly one domain argument")
			}
			if raw {
				if err := fs.Parse(c.raw); err != nil {
					return fmt.Errorf("invalid worker options: %w", err)
				}
			}
			return c.withKit(cmd.Context(), func(k *kit.Kit) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				w, err := newWorker(ctx, k, args[0], onlyDirect, wf)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "starting worker %s on %s\n", w.Hostname(), strings.Join(w.Queues(), ", "))
				return w.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVarP(&onlyDirect, "only-direct", "o", false, "only consume the worker's direct queue")
	cmd.Flags().BoolVarP(&verboseHelp, "verbose-help", "v", false, "print the worker options")
	cmd.Flags().BoolVarP(&raw, "raw", "r", false, "pass the following arguments as worker options")
	return cmd
}

// newWorker names the worker after the live ones and applies the raw
// options over the configuration.
func newWorker(ctx context.Context, k *kit.Kit, domain string, onlyDirect bool, wf workerFlags) (*task.Worker, error) {
	app, err := k.Tasks()
	if err != nil {
		return nil, err
	}
	hostname := wf.hostname
	if hostname == "" {
		if hostname, err = k.WorkerHostname(ctx, domain); err != nil {
			return nil, err
		}
	}

	opts := task.DefaultWorkerOptions(app.Config(), hostname)
	switch {
	case onlyDirect:
		opts.Queues = []string{task.DirectQueue(hostname)}
	case wf.queues != "":
		opts.Queues = nil
		for _, q := range strings.Split(wf.queues, ",") {
			if q = strings.TrimSpace(q); q != "" {
				opts.Queues = append(opts.Queues, q)
			}
		}
	}
	if wf.concurrency > 0 {
		opts.Concurrency = wf.concurrency
	}
	if wf.prefetch > 0 {
		opts.PrefetchMultiplier = wf.prefetch
	}
	opts.Beat = wf.beat
	return task.NewWorker(app, opts), nil
}
