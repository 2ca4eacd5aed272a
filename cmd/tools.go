package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"opsbot/internal/agent"
	"opsbot/internal/config"
	"opsbot/internal/orchestrator"
	"opsbot/pkg/logging"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the capabilities each configured provider exposes",
		Long: `Connects every configured tool provider, prints the capability
catalogue grouped by provider along with any connection failures, and then
disconnects. Useful for checking provider configuration without starting a
session.`,
		Args: cobra.NoArgs,
		RunE: runTools,
	}
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.InitForCLI(logLevel(), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg.Timeouts.Connect())

	result, err := orch.ConnectAll(ctx, cfg.EnabledProviders())
	if err != nil {
		return err
	}

	// The catalogue is printed inside the session scope so the connections
	// are torn down on every path, including an interrupt mid-print.
	return orch.ScopedSession(ctx, result.Connections, func(ctx context.Context) error {
		fmt.Println("Capabilities by provider:")
		fmt.Println()
		fmt.Println("  built-in:")
		fmt.Printf("    %-28s %s\n", agent.WebSearchToolName, "Search the web to get updated information quickly.")

		groups := result.Registry.ByProvider()
		for _, provider := range result.Registry.Providers() {
			fmt.Printf("\n  %s:\n", provider)
			if len(groups[provider]) == 0 {
				fmt.Println("    (no capabilities reported)")
				continue
			}
			for _, d := range groups[provider] {
				fmt.Printf("    %-28s %s\n", d.Name, d.Description)
			}
		}

		if len(result.Errors) > 0 {
			fmt.Println("\nUnavailable providers:")
			for name, provErr := range result.Errors {
				fmt.Printf("  %-14s %v\n", name, provErr)
			}
		}

		fmt.Printf("\n%d capabilities from %d providers (%d unavailable)\n",
			result.Registry.TotalCount(), len(result.Connections), len(result.Errors))
		return nil
	})
}
