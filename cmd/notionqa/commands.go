package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/normanking/notionqa/internal/a2a"
	"github.com/normanking/notionqa/internal/config"
	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/orchestrator"
	"github.com/normanking/notionqa/internal/scheduler"
	"github.com/normanking/notionqa/internal/server"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func askCmd() *cobra.Command {
	var remote, asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question",
		Long: `Answer a single question and exit.

Examples:
  notionqa ask "What is the roadmap?"
  notionqa ask --remote "Who owns the onboarding checklist?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			env := a.orch.Answer(ctx, strings.Join(args, " "), remote)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(env)
			}

			if !env.Success {
				return fmt.Errorf("%s (source: %s)", env.Error, env.Source)
			}
			fmt.Fprintln(out, env.Answer)
			if env.ExecutionID != "" {
				fmt.Fprintf(out, "\n(source: %s, execution: %s)\n", env.Source, env.ExecutionID)
			} else {
				fmt.Fprintf(out, "\n(source: %s)\n", env.Source)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "dispatch to the remote execution backend")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response envelope as JSON")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATUS COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show execution backend connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			printStatus(cmd, a.orch.Status(ctx))
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, st orchestrator.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Execution Backend:")
	fmt.Fprintln(out, "──────────────────")
	fmt.Fprintf(out, "Backend:   %s\n", st.Backend)
	fmt.Fprintf(out, "Connected: %t\n", st.Connected)
	if st.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", st.Error)
	}
	if len(st.Units) > 0 {
		fmt.Fprintln(out, "Units:")
		for _, u := range st.Units {
			fmt.Fprintf(out, "  %-20s %s\n", u.ID, u.Name)
		}
	}
	if len(st.Recent) > 0 {
		fmt.Fprintln(out, "Recent executions:")
		for _, u := range st.Recent {
			fmt.Fprintf(out, "  %-10s %-20s %s\n", u.ID, u.Target, u.Status)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORY COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

// historyMirrorWindow bounds how many stream entries are read back from Redis.
const historyMirrorWindow = 200

func historyCmd() *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the persisted conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.History.Persist && !cfg.Redis.Enabled {
				return fmt.Errorf("history persistence is disabled (set history.persist: true in %s)", getConfigPath())
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if !cfg.History.Persist && a.mirror == nil {
				return fmt.Errorf("history persistence is disabled and the redis mirror is unreachable")
			}

			out := cmd.OutOrStdout()
			if clearAll {
				a.orch.ClearHistory()
				fmt.Fprintln(out, "History cleared.")
				return nil
			}

			turns := a.orch.History()
			if !cfg.History.Persist {
				turns, err = a.mirror.Recent(ctx, historyMirrorWindow)
				if err != nil {
					return fmt.Errorf("read redis mirror: %w", err)
				}
			}
			if len(turns) == 0 {
				fmt.Fprintln(out, "No history.")
				return nil
			}
			for _, t := range turns {
				fmt.Fprintf(out, "[%s] %-9s %s\n", t.Timestamp.Local().Format("2006-01-02 15:04"), t.Role+":", t.Content)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete all persisted turns")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket API, the A2A agent and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = cfg.Server.Addr()
			}

			// Retention trims the in-memory turns together with the store.
			var pruner scheduler.Pruner
			if a.store != nil {
				pruner = a.hist
			}
			sched, err := scheduler.New(a.orch, pruner, scheduler.Config{
				StatusProbe:      cfg.Scheduler.StatusProbe,
				HistoryRetention: cfg.Scheduler.HistoryRetention,
				Retention:        cfg.History.Retention,
			})
			if err != nil {
				return err
			}

			if err := config.Watch(getConfigPath(), onConfigChange); err != nil {
				log.Warn("config hot reload disabled: %v", err)
			}

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return server.New(a.orch, server.Options{Version: version, Logger: log}).Start(ctx, addr)
			})

			if cfg.A2A.Addr != "" {
				publicURL := cfg.A2A.PublicURL
				if publicURL == "" {
					publicURL = "http://" + cfg.A2A.Addr + "/"
				}
				g.Go(func() error {
					return a2a.NewServer(a.orch, a2a.ServerConfig{PublicURL: publicURL, Version: version}).Start(ctx, cfg.A2A.Addr)
				})
			}

			g.Go(func() error {
				return sched.Run(ctx)
			})

			log.Info("notionqa v%s serving on %s (backend: %s)", version, addr, a.orch.Backend())
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.host/server.port)")
	return cmd
}

// onConfigChange applies settings that are safe to change at runtime.
func onConfigChange(c *config.Config, err error) {
	if err != nil {
		log.Warn("config reload failed: %v", err)
		return
	}
	level := logging.ParseLevel(c.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	logging.SetLevel(level)
	log.Info("config reloaded, log level %s", level)
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(redacted(cfg))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), getConfigPath())
		},
	})

	return cmd
}

// redacted returns a copy of c with credentials masked.
func redacted(c *config.Config) *config.Config {
	out := *c
	out.Remote.Token = mask(c.Remote.Token)
	out.Notion.Token = mask(c.Notion.Token)
	out.Redis.Password = mask(c.Redis.Password)

	out.LLM.Providers = make(map[string]config.ProviderConfig, len(c.LLM.Providers))
	for name, p := range c.LLM.Providers {
		p.APIKey = mask(p.APIKey)
		out.LLM.Providers[name] = p
	}
	return &out
}

// mask keeps the last four characters of a secret.
func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
