package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/applier/internal/observability"
	"github.com/jonathan/applier/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect application runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's state, context, and transition history",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsDatabaseURL string
	runsLimit       int
)

func init() {
	runsCmd.PersistentFlags().StringVar(&runsDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRunsStore(ctx context.Context) (*store.PostgresStore, error) {
	databaseURL := runsDatabaseURL
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required (--db-url or DATABASE_URL)")
	}
	return store.Connect(ctx, databaseURL)
}

func runRunsList(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	st, err := openRunsStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}
	fmt.Printf("%-36s  %-20s  %-19s  %s\n", "RUN", "STATE", "UPDATED", "JOB")
	for _, run := range runs {
		fmt.Printf("%-36s  %-20s  %-19s  %s\n",
			run.ID, run.State, run.UpdatedAt.Format("2006-01-02 15:04:05"), run.JobRef)
	}
	return nil
}

func runRunsShow(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}

	st, err := openRunsStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	_, snap, err := st.LoadLatest(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	history, err := st.LoadHistory(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintRun(run)
	printer.PrintSnapshot(snap)
	printer.PrintHistory(history)
	if cp, err := st.LatestCheckpoint(ctx, runID); err == nil {
		printer.PrintCheckpoint(cp)
	}
	return nil
}
