package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		private bool
		raw     bool
		explain string
	)

	cmd := &cobra.Command{
		Use:   "ask <address> [question...]",
		Short: "Ask the AI assistant about a page",
		Long: "Loads the page and asks the assistant about it. Without a question the page\n" +
			"is summarized; with --explain the given passage is explained in the page's context.",
		Example: `  nabd ask example.com
  nabd ask go.dev/blog "what changed in the latest release?"
  nabd ask en.wikipedia.org/wiki/Pulse --explain "pulse pressure"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := initConfig()
			b, err := newOneShotBrowser(cfg)
			if err != nil {
				return err
			}
			defer b.Close()
			if !b.AssistantReady() {
				return errors.New("AI assistant is not configured; run nabd init")
			}

			ctx, cancel := signalContext()
			defer cancel()

			if err := load(ctx, b, args[0], private); err != nil {
				return err
			}

			question := strings.TrimSpace(strings.Join(args[1:], " "))
			switch {
			case explain != "":
				err = b.Explain(ctx, explain)
			case question != "":
				err = b.Ask(ctx, question)
			default:
				err = b.Summarize(ctx)
			}
			st := b.Panel().State()
			if err != nil {
				if st.Error != "" {
					return errors.New(st.Error)
				}
				return err
			}
			if len(st.Messages) == 0 {
				return errors.New("no answer")
			}
			printMarkdown(cmd.OutOrStdout(), st.Messages[len(st.Messages)-1].Content, raw)
			return nil
		},
	}

	cmd.Flags().BoolVar(&private, "private", false, "load in a private tab")
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal rendering")
	cmd.Flags().StringVar(&explain, "explain", "", "passage to explain instead of asking a question")
	return cmd
}
