package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"opsbot/pkg/logging"
)

// rootDebug enables verbose logging across the application.
var rootDebug bool

// rootCmd represents the base command when called without any subcommands.
// Running opsbot with no subcommand starts the interactive chat session.
var rootCmd = &cobra.Command{
	Use:   "opsbot",
	Short: "An AWS DevOps assistant in your terminal",
	Long: `opsbot is an interactive assistant for AWS infrastructure and
operations. It pairs a language model with a built-in web search and any
configured MCP tool providers, and keeps working with whatever subset of
providers comes up.`,
	// SilenceUsage prevents printing the usage message on errors we handle
	// ourselves (failed connections, invalid configuration).
	SilenceUsage: true,
	RunE:         runChat,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	// .env is optional; provider env overrides may reference its values.
	_ = godotenv.Load()

	rootCmd.SetVersionTemplate(`{{printf "opsbot version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func logLevel() logging.LogLevel {
	if rootDebug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

func init() {
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")
}
