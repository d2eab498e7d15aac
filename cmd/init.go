package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nabd-browser/nabd/internal/config"
)

// initProviders is the order the wizard offers providers in.
var initProviders = []string{"anthropic", "openai", "deepseek", "gemini", "qwen", "kimi", "minimax"}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration wizard",
		Long:  "Guides you through setting up nabd: home page, AI provider, API key and answer language.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return fmt.Errorf("get home dir: %w", err)
				}
				path = p
			}
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), path)
		},
	}
}

func runInit(in io.Reader, out io.Writer, configPath string) error {
	reader := bufio.NewReader(in)
	ask := func(prompt string) string {
		fmt.Fprint(out, prompt)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	fmt.Fprintln(out, "Welcome to the nabd configuration wizard!")
	fmt.Fprintln(out)

	cfg := config.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
		if strings.ToLower(ask("Overwrite? [y/N]: ")) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		fmt.Fprintln(out)
	}

	if home := ask(fmt.Sprintf("Home page [%s]: ", cfg.HomeURL)); home != "" {
		cfg.HomeURL = home
	}

	fmt.Fprintln(out, "\nAI providers:")
	for i, p := range initProviders {
		fmt.Fprintf(out, "  %d. %s\n", i+1, p)
	}
	providerName := initProviders[0]
	if n, err := strconv.Atoi(ask(fmt.Sprintf("\nSelect provider (1-%d) [1]: ", len(initProviders)))); err == nil && n >= 1 && n <= len(initProviders) {
		providerName = initProviders[n-1]
	}
	fmt.Fprintf(out, "Selected: %s\n\n", providerName)

	apiKey := ask(fmt.Sprintf("API key for %s (empty to skip the assistant): ", providerName))
	if lang := ask(fmt.Sprintf("Answer language [%s]: ", cfg.Assistant.Language)); lang != "" {
		cfg.Assistant.Language = lang
	}

	cfg.Provider = providerName
	if apiKey != "" {
		if cfg.Providers[providerName] == nil {
			cfg.Providers[providerName] = &config.ProviderConfig{}
		}
		cfg.Providers[providerName].APIKey = apiKey
	}

	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(out, "\nConfig saved to %s\n", configPath)
	fmt.Fprintln(out, "You can now run: nabd")
	return nil
}
