package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the main and backup route tables",
	}

	cmd.AddCommand(routesMainCmd())
	cmd.AddCommand(routesBackupCmd())

	return cmd
}

func routesMainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "main",
		Short: "List routes in the main (forwarding) table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			routes, err := client.routesMain(context.Background())
			if err != nil {
				return fmt.Errorf("list main routes: %w", err)
			}

			out, err := formatRoutes(routes, outputFormat)
			if err != nil {
				return fmt.Errorf("format routes: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func routesBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "List routes in the backup table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			routes, err := client.routesBackup(context.Background())
			if err != nil {
				return fmt.Errorf("list backup routes: %w", err)
			}

			out, err := formatRoutes(routes, outputFormat)
			if err != nil {
				return fmt.Errorf("format routes: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
