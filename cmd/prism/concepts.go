package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var conceptsLimit int

var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "List known concepts in the deduplication store",
	Long: `List the concepts prism has analyzed, newest first. Each concept is one
fingerprinted piece of content; incoming items that hash to a listed
fingerprint reuse its stored enrichment instead of being re-analyzed.`,
	Run: func(cmd *cobra.Command, args []string) {
		concepts, err := st.ListConcepts(context.Background(), conceptsLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list concepts: %v\n", err)
			os.Exit(1)
		}
		if len(concepts) == 0 {
			fmt.Println("No concepts stored yet")
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s\n", yellow(fmt.Sprintf("%-12s %-36s %-16s %s",
			"FINGERPRINT", "CONCEPT ID", "CREATED", "SERVICES")))
		for _, c := range concepts {
			fmt.Printf("%-12s %-36s %-16s %s\n",
				c.Fingerprint.Short(),
				c.ID,
				c.CreatedAt.Format("2006-01-02 15:04"),
				joinServices(c.Services))
		}
	},
}

func init() {
	conceptsCmd.Flags().IntVar(&conceptsLimit, "limit", 50, "maximum number of concepts to list")
	rootCmd.AddCommand(conceptsCmd)
}
