package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesjlundin/appforge/internal/batch"
	"github.com/jamesjlundin/appforge/internal/pipeline"
)

// runBatch starts the cron scheduler and blocks until interrupted. Each due
// batch consumes one idea from its idea file and runs it unattended with the
// batch's own budget.
func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Batches) == 0 {
		return fmt.Errorf("no [[batch]] entries configured")
	}

	sched, err := batch.NewScheduler(cfg.Batches, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Scheduling %d batches. Ctrl-C to stop.\n", len(cfg.Batches))
	sched.Start(ctx, func(ctx context.Context, batchName, idea string, budgetUSD float64) error {
		pipe, _, cleanup, err := buildPipeline(cfg, "")
		if err != nil {
			return err
		}
		defer cleanup()
		_, err = pipe.Start(ctx, idea, pipeline.Options{BudgetUSD: budgetUSD})
		return err
	})
	return nil
}
