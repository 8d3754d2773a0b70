// Package main is the entry point for the kira command, a terminal front
// end to the KiraPilot task assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/config"
	"github.com/vietanhdev/kirapilot-app-sub001/internal/logging"
)

var version = "dev"

var (
	cfgPath  string
	logLevel string

	cfg *config.Config
	log zerolog.Logger
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kira",
		Short: "KiraPilot - a task and time tracking assistant",
		Long: titleStyle.Render("KiraPilot") + `

Ask about your tasks and timers in plain language:

  kira ask "what do I have today?"
  kira chat

` + dimStyle.Render("Use 'kira [command] --help' for more information."),
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default: user config dir/kirapilot/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		askCmd(),
		chatCmd(),
		providersCmd(),
		toolsCmd(),
		logsCmd(),
		statsCmd(),
		configCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

// initConfig loads the config file and builds the process logger.
func initConfig(cmd *cobra.Command, _ []string) error {
	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}

	l, err := logging.New(loaded.LoggerConfig())
	if err != nil {
		return err
	}

	cfg = loaded
	log = l.With().Str("cmd", cmd.Name()).Logger()
	return nil
}
