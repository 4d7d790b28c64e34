package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"prism/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List past enrichment runs",
	Long: `Without arguments, list recent enrichment runs with their dedup statistics.
With a run ID, show that run's details and its event log.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if len(args) == 1 {
			showRun(ctx, args[0])
			return
		}

		runs, err := st.ListRuns(ctx, runsLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
			os.Exit(1)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet")
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s\n", yellow(fmt.Sprintf("%-36s %-16s %10s %9s %7s %7s %10s %7s",
			"RUN ID", "STARTED", "DURATION", "ANALYZED", "COPIED", "DEDUP", "SAVED", "ERRORS")))
		for _, r := range runs {
			duration := "running"
			if r.CompletedAt != nil {
				duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Printf("%-36s %-16s %10s %9d %7d %6.1f%% %10s %7d\n",
				r.ID,
				r.StartedAt.Format("2006-01-02 15:04"),
				duration,
				r.Analyzed,
				r.Copied,
				r.DedupRate*100,
				fmt.Sprintf("$%.4f", r.CostSaved),
				r.Errors)
		}
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

func showRun(ctx context.Context, runID string) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: no run with ID %s\n", runID)
		} else {
			fmt.Fprintf(os.Stderr, "Error: failed to load run: %v\n", err)
		}
		os.Exit(1)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Run "+run.ID+" ==="))
	fmt.Printf("  Model:      %s\n", run.Model)
	fmt.Printf("  Started:    %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("  Completed:  %s (%s)\n",
			run.CompletedAt.Format(time.RFC3339),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	} else {
		fmt.Printf("  Completed:  (in progress)\n")
	}
	fmt.Printf("  Fetched:    %d\n", run.Fetched)
	fmt.Printf("  Analyzed:   %d\n", run.Analyzed)
	fmt.Printf("  Copied:     %d\n", run.Copied)
	fmt.Printf("  Stored:     %d\n", run.Stored)
	fmt.Printf("  Dedup rate: %.1f%%\n", run.DedupRate*100)
	fmt.Printf("  Cost saved: $%.4f\n", run.CostSaved)
	fmt.Printf("  Errors:     %d\n", run.Errors)

	evts, err := st.ListEvents(ctx, run.ID, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load events: %v\n", err)
		os.Exit(1)
	}
	if len(evts) == 0 {
		return
	}
	fmt.Printf("\n%s\n", yellow("Events:"))
	for _, e := range evts {
		itemRef := ""
		if e.ItemID != "" {
			itemRef = " [" + e.ItemID + "]"
		}
		fmt.Printf("  %s  %-14s %s%s\n",
			e.Timestamp.Format("15:04:05.000"), e.Type, e.Message, itemRef)
	}
	fmt.Println()
}
