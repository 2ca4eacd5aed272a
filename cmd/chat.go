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
	"opsbot/internal/model"
	"opsbot/internal/orchestrator"
	"opsbot/internal/websearch"
	"opsbot/pkg/logging"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive assistant session",
		Long: `Connects every configured tool provider, then starts the interactive
session. Providers that fail to connect are reported and skipped; the
session runs with whatever capabilities remain. With zero providers the
built-in web search is still available.`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
}

// runChat is the main entry point: load and validate configuration, connect
// the providers, and run the REPL inside the orchestrator's session scope so
// every open connection is released exactly once on any exit path.
func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logChan := logging.InitForREPL(logLevel())
	defer logging.CloseREPLChannel()

	// An interrupt cancels the context; the scoped session's exit path
	// still runs exactly once.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg.Timeouts.Connect())

	result, err := orch.ConnectAll(ctx, cfg.EnabledProviders())
	if err != nil {
		return err
	}
	reportProviderFailures(result.Errors)

	session := agent.NewSession(
		model.New(cfg.Model),
		result.Registry,
		result.Connections,
		websearch.New(cfg.Search),
		&cfg,
	)

	repl := agent.NewREPL(session, logChan)
	return orch.ScopedSession(ctx, result.Connections, repl.Run)
}

// reportProviderFailures prints one human-readable line per failed
// provider. The session continues regardless.
func reportProviderFailures(failures map[string]error) {
	if len(failures) == 0 {
		return
	}
	for name, err := range failures {
		fmt.Fprintf(os.Stderr, "Warning: provider %s unavailable: %v\n", name, err)
	}
	fmt.Fprintf(os.Stderr, "Continuing with the remaining capabilities (web search is always available).\n")
}
