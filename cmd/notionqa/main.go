package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normanking/notionqa/internal/config"
	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/tui"
)

var (
	version   = "0.1.0"
	cfgPath   string
	verbose   bool
	plainMode bool
	useRemote bool
	cfg       *config.Config
	log       *logging.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "notionqa",
		Short: "Answer questions about your Notion workspace",
		Long: `notionqa answers questions about a Notion workspace.

Questions are dispatched to a managed crew execution service when one is
configured and reachable, and to a local research pipeline otherwise:
  • coordination  plans the research
  • retrieval     searches pages and databases through the Notion API
  • synthesis     writes the final answer`,
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
		RunE:              runChat,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.notionqa/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVar(&plainMode, "plain", false, "use a plain line-oriented chat instead of the TUI")
	rootCmd.Flags().BoolVar(&useRemote, "remote", false, "start with the remote backend enabled")

	rootCmd.AddCommand(
		askCmd(),
		statusCmd(),
		historyCmd(),
		serveCmd(),
		configCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "notionqa v%s\n", version)
			},
		},
	)
	return rootCmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initLogging(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = loaded

	var logCfg *logging.Config
	if verbose {
		logCfg = logging.VerboseConfig()
	} else {
		logCfg = logging.DefaultConfig()
		logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	}
	logCfg.FilePath = cfg.Logging.File

	log = logging.New(logCfg)
	logging.SetGlobal(log)

	log.Debug("config loaded from %s", getConfigPath())
	return nil
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	c, err := config.LoadFromPath(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ═══════════════════════════════════════════════════════════════════════════════
// CHAT COMMAND (ROOT)
// ═══════════════════════════════════════════════════════════════════════════════

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if plainMode {
		return tui.RunPlain(ctx, a.orch, cmd.InOrStdin(), cmd.OutOrStdout(), useRemote)
	}

	logging.DisableConsoleOutput()
	defer logging.EnableConsoleOutput()
	return tui.Run(ctx, a.orch, useRemote)
}
