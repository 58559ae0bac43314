package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errUnknownPrintingMethod = errors.New("printing method must be one of off, main, backup, neighbor")

func debugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect and control the daemon's debug snapshot printer",
	}

	cmd.AddCommand(debugPrintingMethodCmd())

	return cmd
}

func debugPrintingMethodCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "printing-method [off|main|backup|neighbor]",
		Short: "Get or set the periodic debug snapshot surface",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx := context.Background()

			if len(args) == 0 {
				method, err := client.printingMethod(ctx)
				if err != nil {
					return fmt.Errorf("get printing method: %w", err)
				}
				fmt.Println(method)
				return nil
			}

			if !validPrintingMethod(args[0]) {
				return fmt.Errorf("%w: %q", errUnknownPrintingMethod, args[0])
			}

			method, err := client.setPrintingMethod(ctx, args[0])
			if err != nil {
				return fmt.Errorf("set printing method: %w", err)
			}
			fmt.Println(method)
			return nil
		},
	}

	return cmd
}

func validPrintingMethod(s string) bool {
	switch s {
	case "off", "main", "backup", "neighbor":
		return true
	default:
		return false
	}
}
