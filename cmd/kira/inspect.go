package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/config"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/cost"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/interaction"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/memory"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/stats"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/tools"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

func providersCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show configured model providers and their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, err := newManager(cost.NewTracker())
			if err != nil {
				return err
			}
			defer m.Cleanup(context.Background())

			if check {
				if err := m.InitializeAll(ctx); err != nil {
					log.Warn().Err(err).Msg("no provider is ready")
				}
				m.CheckHealth(ctx)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("Providers"))
			for _, r := range m.Report() {
				marker := dimStyle.Render("○")
				if r.Active {
					marker = successStyle.Render("●")
				}
				state := "not checked"
				switch {
				case r.Ready && r.Healthy:
					state = successStyle.Render("ready")
				case r.Ready:
					state = warnStyle.Render("unhealthy")
				case check:
					state = errorStyle.Render("unavailable")
				}
				kind := "cloud"
				if r.Local {
					kind = "local"
				}
				fmt.Fprintf(out, "%s %-8s %-6s %s  breaker=%s\n", marker, r.Name, kind, state, r.Breaker)
				fmt.Fprintf(out, "  %s\n", dimStyle.Render(r.Model.Name))
				if r.Health.TotalRequests > 0 {
					fmt.Fprintf(out, "  %d/%d ok, avg %s\n", r.Health.SuccessfulRequests, r.Health.TotalRequests,
						time.Duration(r.Health.AvgResponseTimeMs)*time.Millisecond)
				}
				if r.Health.LastError != "" {
					fmt.Fprintf(out, "  %s\n", errorStyle.Render(r.Health.LastError))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "initialize providers and probe their health")
	return cmd
}

func toolsCmd() *cobra.Command {
	var suggest string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the assistant may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			toolsCfg, err := cfg.ToolsConfig(log)
			if err != nil {
				return err
			}
			store, err := memory.Open(cfg.Paths.Database)
			if err != nil {
				return err
			}
			defer store.Close()
			reg := tools.NewTaskRegistry(store, toolsCfg)

			out := cmd.OutOrStdout()
			if suggest != "" {
				suggestions := reg.SuggestTools(protocol.ToolContext{UserMessage: suggest, CurrentTime: time.Now()})
				if len(suggestions) == 0 {
					fmt.Fprintln(out, dimStyle.Render("No tool matches that message."))
				}
				for _, s := range suggestions {
					fmt.Fprintf(out, "%-17s %.2f  %s\n", s.ToolName, s.Score, dimStyle.Render(s.Reason))
					if len(s.InferredArgs) > 0 {
						fmt.Fprintf(out, "  args %v\n", s.InferredArgs)
					}
				}
				return nil
			}

			fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Tools"), dimStyle.Render("(granted: "+toolsCfg.Permissions.String()+")"))
			for _, def := range reg.Definitions() {
				fmt.Fprintf(out, "%-17s %s\n", def.Name, def.Description)
				fmt.Fprintf(out, "  %s\n", dimStyle.Render("requires "+def.RequiredPermissions.String()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&suggest, "suggest", "", "rank the tools for this message instead of listing them")
	return cmd
}

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the interaction log",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent interactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, logger, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			logs, err := logger.RecentInteractions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printLogs(cmd.OutOrStdout(), logs)
			return nil
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete interactions older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, logger, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := logger.CleanupOldLogs(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s older than %d days.\n",
				humanize.Comma(n), plural(n, "entry", "entries"), logger.Config().RetentionDays)
			return nil
		},
	}

	cmd.AddCommand(recent, cleanup)
	return cmd
}

func printLogs(w io.Writer, logs []interaction.Log) {
	if len(logs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No interactions logged yet."))
		return
	}
	for _, l := range logs {
		head := fmt.Sprintf("%s  %-17s %s", humanize.Time(l.Timestamp), l.Type(), l.ModelInfo.Provider)
		fmt.Fprintln(w, dimStyle.Render(head))
		if l.UserMessage != "" {
			fmt.Fprintf(w, "  > %s\n", interaction.Truncate(oneLine(l.UserMessage), 100))
		}
		if l.AIResponse != "" {
			fmt.Fprintf(w, "  %s\n", interaction.Truncate(oneLine(l.AIResponse), 100))
		}
		if l.Error != "" {
			fmt.Fprintf(w, "  %s\n", errorStyle.Render(l.Error))
		}
		for _, te := range l.ToolExecutions {
			status := successStyle.Render("ok")
			if !te.Success {
				status = errorStyle.Render("failed")
			}
			fmt.Fprintf(w, "  %s %s (%dms)\n", te.ToolName, status, te.ExecutionTimeMs)
		}
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database and process statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			printStats(out, stats.NewCollector().Collect(store.Size(), store.Path()), cost.Summary{})

			n, err := store.CountInteractions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Logged interactions: %s\n", humanize.Comma(int64(n)))
			return nil
		},
	}
}

func printStats(w io.Writer, s *stats.Stats, usage cost.Summary) {
	fmt.Fprintln(w, titleStyle.Render("Stats"))
	fmt.Fprintf(w, "Database:  %s (%s)\n", s.DBPath, humanize.Bytes(uint64(s.DBSize)))
	fmt.Fprintf(w, "Memory:    %s heap, %d goroutines, up %s\n",
		humanize.Bytes(uint64(s.MemoryStats.HeapAlloc)), s.Goroutines, s.Uptime)

	if s.ChainCount > 0 {
		fmt.Fprintf(w, "Requests:  %s (%d degraded, %d failed), %.1f iterations avg, %.0fms avg\n",
			humanize.Comma(s.ChainCount), s.DegradedChains, s.FailedChains, s.AvgIterations, s.AvgLatencyMs)
	}
	if s.ToolCalls > 0 {
		fmt.Fprintf(w, "Tools:     %s calls, %.0f%% succeeded\n", humanize.Comma(s.ToolCalls), s.ToolSuccessRate*100)
	}
	if usage.Requests > 0 {
		fmt.Fprintf(w, "Usage:     %s local / %s cloud tokens, %.0f%% local, $%.4f\n",
			humanize.Comma(int64(usage.LocalTokens)), humanize.Comma(int64(usage.CloudTokens)), usage.LocalRate, usage.CloudCost)
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			shown := *cfg
			if shown.Providers.Gemini.APIKey != "" {
				shown.Providers.Gemini.APIKey = "********"
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(&shown)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := cfgPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Wrote "+path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
