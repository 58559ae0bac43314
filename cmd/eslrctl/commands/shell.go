package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive eslrctl shell",
		Long:  "Launches a REPL that accepts eslrctl subcommands against one daemon connection.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runShell(os.Stdin)
		},
	}
}

func runShell(in *os.File) error {
	fmt.Printf("eslrctl shell, connected to %s. 'help' lists commands, 'exit' quits.\n\n", serverAddr)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("eslrctl> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if done := dispatchShellLine(line); done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// dispatchShellLine executes one REPL line and reports whether the shell
// should terminate.
func dispatchShellLine(line string) bool {
	switch line {
	case "exit", "quit":
		return true
	case "help", "?":
		printShellHelp()
		return false
	}

	rootCmd.SetArgs(strings.Fields(line))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return false
}

func printShellHelp() {
	help := [][2]string{
		{"neighbors", "List discovered ESLR neighbors"},
		{"routes main", "List routes in the main table"},
		{"routes backup", "List routes in the backup table"},
		{"debug printing-method [method]", "Get or set the debug snapshot printer"},
		{"version", "Print build information"},
		{"exit / quit", "Leave the interactive shell"},
	}

	fmt.Println("Available commands:")
	for _, h := range help {
		fmt.Printf("  %-32s %s\n", h[0], h[1])
	}
	fmt.Println()
}
