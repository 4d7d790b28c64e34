package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"prism/internal/analysis"
	"prism/internal/pipeline"
	"prism/internal/types"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich a batch of items from a JSON file",
	Long: `Read items from a JSON file, resolve each against the concept store, and
enrich fresh content through the analysis chain. Items whose content has
already been analyzed reuse the stored enrichment at zero cost.

The input file holds a JSON array of items:

  [{"id": "item-1", "title": "...", "summary": "...", "body": "..."}]

Interrupt with Ctrl-C to stop admitting new items; work already in flight
finishes and is persisted before the process exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		items, err := loadItems(runInput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(items) == 0 {
			fmt.Println("No items to enrich")
			return
		}

		client, err := analysis.NewClient(analysis.ClientConfig{Model: cfg.Model})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		registry, err := analysis.NewDefaultRegistry(client)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to build service registry: %v\n", err)
			os.Exit(1)
		}
		p, err := pipeline.New(cfg, registry, st)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "\nInterrupt received, finishing in-flight items...")
			cancel()
		}()

		fmt.Printf("Enriching %d items with services [%s]...\n",
			len(items), joinServices(cfg.EnabledServices))

		result, err := p.Run(ctx, items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: run failed: %v\n", err)
			os.Exit(1)
		}

		printRunSummary(result)
		if result.Summary.Counts.Errors > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "path to JSON file of items to enrich (required)")
	runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

// loadItems reads and validates the run input. IDs must be unique within one
// run because each item is consumed exactly once.
func loadItems(path string) ([]*types.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	var items []*types.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("item %d is null", i)
		}
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("duplicate item ID %q", item.ID)
		}
		seen[item.ID] = true
	}
	return items, nil
}

func joinServices(services []types.ServiceType) string {
	parts := make([]string, len(services))
	for i, s := range services {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

func printRunSummary(result *pipeline.Result) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	counts := result.Summary.Counts
	fmt.Printf("\n%s\n\n", cyan("=== Enrichment Run Summary ==="))
	fmt.Printf("  Run:        %s\n", result.RunID)
	fmt.Printf("  Duration:   %s\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("  Fetched:    %d\n", counts.Fetched)
	fmt.Printf("  Analyzed:   %d\n", counts.Analyzed)
	fmt.Printf("  Copied:     %d\n", counts.Copied)
	fmt.Printf("  Stored:     %d\n", counts.Stored)
	fmt.Printf("  Dedup rate: %s\n", green(fmt.Sprintf("%.1f%%", result.Summary.DedupRate*100)))
	fmt.Printf("  Cost saved: %s\n", green(fmt.Sprintf("$%.4f", result.Summary.CostSaved)))
	if counts.Errors > 0 {
		fmt.Printf("  Errors:     %s\n", red(fmt.Sprintf("%d", counts.Errors)))
	}
	fmt.Println()
}
