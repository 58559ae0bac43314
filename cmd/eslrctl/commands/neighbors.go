package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func neighborsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "neighbors",
		Short: "List discovered ESLR neighbors",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			neighbors, err := client.neighbors(context.Background())
			if err != nil {
				return fmt.Errorf("list neighbors: %w", err)
			}

			out, err := formatNeighbors(neighbors, outputFormat)
			if err != nil {
				return fmt.Errorf("format neighbors: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
