// Command tilematch-bench times the tiled matching kernel on a workload.
//
// Usage:
//
//	tilematch-bench [flags]
//
// Without flags it runs the classic workload: "ipsum" in
// "Lorem ipsum adore itom Lorem ipsum", 1000 trials, and prints the mean
// kernel time.
//
// Example:
//
//	# Run a workload file with the original launch geometry
//	tilematch-bench --workload bench.yaml --partition truncated
//
//	# Override the text and show the offsets found
//	tilematch-bench --text "aaaa" --pattern "aa" --trials 10 --print-matches
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/mhr3/tilematch/device"
	"github.com/mhr3/tilematch/internal/harness"
	"github.com/mhr3/tilematch/match"
	"github.com/spf13/cobra"
)

type options struct {
	workload     string
	trials       int
	text         string
	pattern      string
	partition    string
	verbose      bool
	printMatches bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "tilematch-bench",
		Short:        "Time the tiled substring matching kernel",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.workload, "workload", "", "YAML workload file")
	flags.IntVar(&opts.trials, "trials", 0, "number of trials (overrides the workload)")
	flags.StringVar(&opts.text, "text", "", "text to search (overrides the workload)")
	flags.StringVar(&opts.pattern, "pattern", "", "pattern to find (overrides the workload)")
	flags.StringVar(&opts.partition, "partition", "", "launch geometry: exhaustive or truncated")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log launches and allocations")
	flags.BoolVar(&opts.printMatches, "print-matches", false, "print the match offsets")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	if opts.verbose {
		log.SetLevel(log.Debug)
	}

	w := harness.Default()
	if opts.workload != "" {
		var err error
		if w, err = harness.Load(opts.workload); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("trials") {
		w.Trials = opts.trials
	}
	if flags.Changed("text") {
		w.Text = opts.text
	}
	if flags.Changed("pattern") {
		w.Pattern = opts.pattern
	}
	if flags.Changed("partition") {
		w.Partition = opts.partition
	}
	cfg, err := w.MatchConfig()
	if err != nil {
		return err
	}

	dev, err := device.New(device.DefaultConfig())
	must.Nil(err, "creating device")
	defer dev.Release()

	m := match.New(dev, cfg)
	rep, err := harness.Run(cmd.Context(), m, w)
	if err != nil {
		return err
	}
	log.Printf("tilematch-bench: %s partition=%s", rep, m.Config().Partition)

	out := cmd.OutOrStdout()
	if opts.printMatches {
		for _, off := range rep.Offsets {
			fmt.Fprintf(out, "Match found at position %d\n", off)
		}
	}
	fmt.Fprintf(out, "Time elapsed = %g ms\n", rep.Mean)
	return nil
}
