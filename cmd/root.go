package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/nabd-browser/nabd/internal/browser"
	"github.com/nabd-browser/nabd/internal/config"
	"github.com/nabd-browser/nabd/internal/logging"
	"github.com/nabd-browser/nabd/internal/provider"
)

var (
	cfgFile      string
	modelFlag    string
	providerFlag string
	logLevelFlag string
	useTUI       bool

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	var private bool
	rootCmd := &cobra.Command{
		Use:   "nabd [address]",
		Short: "Tabbed terminal browser with an AI page assistant",
		Long: "nabd is a tabbed browser for the terminal. It keeps normal and private tabs,\n" +
			"bookmarks, history and downloads, and can summarize and answer questions\n" +
			"about the page you are reading.",
		Args: cobra.MaximumNArgs(1),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Default TUI on when stdout is a terminal and --tui was not explicitly set.
			if !cmd.Root().PersistentFlags().Changed("tui") && term.IsTerminal(int(os.Stdout.Fd())) {
				useTUI = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			address := ""
			if len(args) > 0 {
				address = args[0]
			}
			return runShell(address, private)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/nabd/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override the assistant model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override the assistant provider")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "use the full-screen TUI (default: auto-detect terminal)")
	rootCmd.Flags().BoolVar(&private, "private", false, "open the first address in a private tab")

	// Subcommands
	rootCmd.AddCommand(newOpenCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newBookmarksCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newDownloadsCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	return cfg
}

// newLogger writes to the log file so the terminal stays clean.
func newLogger(cfg *config.Config) *zap.Logger {
	return logging.NewDefault(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: []string{cfg.LogPath()},
	})
}

// buildProvider creates the assistant's Provider. A missing API key is not
// fatal: the browser runs and the assistant reports it is not configured.
func buildProvider(cfg *config.Config, log *zap.Logger) provider.Provider {
	pc := cfg.GetProviderConfig(cfg.Provider)
	if pc.APIKey == "" {
		log.Info("assistant disabled: no API key", zap.String("provider", cfg.Provider))
		return nil
	}

	// Model: CLI flag / env > provider entry > provider default.
	model := cfg.Model
	if model == "" {
		model = pc.Model
	}
	p, err := provider.New(cfg.Provider, pc.APIKey, pc.BaseURL, model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return nil
	}
	log.Info("assistant ready", zap.String("provider", p.Name()), zap.String("model", p.DefaultModel()))
	return p
}

// newBrowser builds the browser with the configured provider and logger.
func newBrowser(cfg *config.Config, opts ...browser.Option) (*browser.Browser, error) {
	log := newLogger(cfg)
	base := []browser.Option{
		browser.WithLogger(log),
		browser.WithProvider(buildProvider(cfg, log)),
	}
	return browser.New(cfg, append(base, opts...)...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
