// Command pymatrix runs a source tree's style check and test suite
// across every configured interpreter and reports the outcome to the
// collector.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/SamHausmann/pymatrix"
	"github.com/SamHausmann/pymatrix/internal/config"
	"github.com/SamHausmann/pymatrix/internal/deliver"
	"github.com/SamHausmann/pymatrix/internal/dispatch"
	"github.com/SamHausmann/pymatrix/internal/report"
	"github.com/SamHausmann/pymatrix/internal/runtimes"
	"github.com/SamHausmann/pymatrix/internal/sandbox"
)

// Exit codes, scriptable by callers.
const (
	exitPassed         = 0 // overall verdict passed, report delivered
	exitChecksFailed   = 1 // at least one style or test check failed
	exitConfigError    = 2 // bad configuration, nothing was executed
	exitInfraError     = 3 // checks could not run to completion
	exitDeliveryFailed = 4 // verdict passed but the report was not delivered
)

// deliveryBudget bounds delivery including all retries, so a run with
// an unreachable collector still terminates.
const deliveryBudget = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "pymatrix"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := exitPassed

	root := &cobra.Command{
		Use:           "pymatrix",
		Short:         "Run style and test checks across many interpreter runtimes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Execute the full runtime matrix and report the verdict",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				code = runMatrix(cmd.Context(), logger)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(*cobra.Command, []string) {
				fmt.Println(pymatrix.Version)
			},
		},
	)

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error(err.Error())
		return exitConfigError
	}
	return code
}

func runMatrix(ctx context.Context, logger *log.Logger) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration", "err", err)
		return exitConfigError
	}

	reg, err := runtimes.New(cfg.Matrix)
	if err != nil {
		logger.Error("probing runtimes", "err", err)
		return exitConfigError
	}

	sb := &sandbox.Sandbox{MaxOutput: cfg.MaxOutput}
	d := &dispatch.Dispatcher{
		Exec:      sb,
		Source:    cfg.Source,
		Timeout:   cfg.Timeout,
		StyleArgs: cfg.StyleArgs,
		TestArgs:  cfg.TestArgs,
		Log:       logger,
	}

	tasks := d.Plan(reg.List())
	logger.Info("dispatching", "tasks", len(tasks), "concurrency", cfg.Concurrency)
	outcomes := d.Dispatch(ctx, tasks, cfg.Concurrency)

	rep, err := report.Aggregate(uuid.New().String(), cfg.User, cfg.Label, reg.List(), outcomes)
	if err != nil {
		logger.Error("aggregation invariant violated", "err", err)
		return exitInfraError
	}

	if path, err := report.NewDiskStore(cfg.ReportDir).Save(rep); err != nil {
		logger.Warn("saving local report copy", "err", err)
	} else {
		logger.Info("report saved", "path", path)
	}

	// The summary is always printed, whatever happens to delivery.
	fmt.Print(rep.Summary())

	verdictCode := exitPassed
	switch {
	case rep.HasFailures():
		verdictCode = exitChecksFailed
	case rep.HasInfraErrors():
		verdictCode = exitInfraError
	}

	reporter := &deliver.Reporter{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Log:      logger,
	}
	// Delivery gets its own context: an interrupted run still reports
	// its partial outcomes.
	dctx, cancel := context.WithTimeout(context.Background(), deliveryBudget)
	defer cancel()

	res, err := reporter.Deliver(dctx, rep)
	if err != nil {
		logger.Error("report delivery failed", "run", rep.ID, "err", err)
		if verdictCode == exitPassed {
			return exitDeliveryFailed
		}
		return verdictCode
	}
	logger.Info("report delivered", "run", rep.ID, "status", res.StatusCode, "attempts", res.Attempts)
	return verdictCode
}
