package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/aatumaykin/deferq/internal/config"
	"github.com/aatumaykin/deferq/internal/stress"
	"github.com/aatumaykin/deferq/internal/workqueue"
	"github.com/spf13/cobra"
)

var stressFlags struct {
	producers    int
	flushers     int
	items        int
	rate         float64
	burst        int
	workDuration time.Duration
	mode         string
	flushColors  int
}

// stressCmd represents the stress command
var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Check flush guarantees under concurrent load",
	Long: `Run producers that queue work and flushers that verify every item queued
before a flush has finished when the flush returns. Flags override the
[stress] section of the configuration.

Exits with an error if any flush returned early or an item ran twice.`,
	Args: cobra.NoArgs,
	RunE: stressHandler,
}

func init() {
	f := stressCmd.Flags()
	f.IntVar(&stressFlags.producers, "producers", 0, "Number of producer goroutines")
	f.IntVar(&stressFlags.flushers, "flushers", 0, "Number of flusher goroutines")
	f.IntVarP(&stressFlags.items, "items", "n", 0, "Total number of work items")
	f.Float64Var(&stressFlags.rate, "rate", 0, "Items per second per producer, 0 for unlimited")
	f.IntVar(&stressFlags.burst, "burst", 0, "Producer rate limiter burst")
	f.DurationVar(&stressFlags.workDuration, "work-duration", 0, "Time each callback sleeps")
	f.StringVar(&stressFlags.mode, "mode", "", "Workqueue mode: per_cpu or single_thread")
	f.IntVar(&stressFlags.flushColors, "flush-colors", 0, "Size of the flush color space")
}

func stressHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyStressFlags(cmd, &cfg.Stress)

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	opts, err := cfg.Stress.Options()
	if err != nil {
		return err
	}
	wq, err := workqueue.New("stress", append(opts, workqueue.WithLogger(log))...)
	if err != nil {
		return err
	}
	defer wq.Destroy()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := stress.Run(ctx, wq, cfg.Stress.Config(), log)
	printReport(cmd.OutOrStdout(), wq, report)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d violations, %d double runs", stress.ErrFlushViolation, report.Violations, report.DoubleRuns)
	}
	return nil
}

// applyStressFlags overrides the section with the flags set on the command line.
func applyStressFlags(cmd *cobra.Command, sc *config.StressConfig) {
	f := cmd.Flags()
	if f.Changed("producers") {
		sc.Producers = stressFlags.producers
	}
	if f.Changed("flushers") {
		sc.Flushers = stressFlags.flushers
	}
	if f.Changed("items") {
		sc.Items = stressFlags.items
	}
	if f.Changed("rate") {
		sc.Rate = stressFlags.rate
	}
	if f.Changed("burst") {
		sc.Burst = stressFlags.burst
	}
	if f.Changed("work-duration") {
		sc.WorkDurationMs = int(stressFlags.workDuration / time.Millisecond)
	}
	if f.Changed("mode") {
		sc.Mode = stressFlags.mode
	}
	if f.Changed("flush-colors") {
		sc.FlushColors = stressFlags.flushColors
	}
}

func printReport(w io.Writer, wq *workqueue.Workqueue, r stress.Report) {
	fmt.Fprintf(w, "Workqueue:         %s (%s, %d queues)\n", wq.Name(), wq.Mode(), wq.NumQueues())
	fmt.Fprintf(w, "Items:             %d\n", r.Items)
	fmt.Fprintf(w, "Executed:          %d\n", r.Executed)
	fmt.Fprintf(w, "Flushes:           %d\n", r.Flushes)
	fmt.Fprintf(w, "Violations:        %d\n", r.Violations)
	fmt.Fprintf(w, "Double runs:       %d\n", r.DoubleRuns)
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration)
	fmt.Fprintf(w, "Max flush latency: %s\n", r.MaxFlushLatency)
	if r.OK() {
		fmt.Fprintln(w, "Result:            OK")
	} else {
		fmt.Fprintln(w, "Result:            FAILED")
	}
}
