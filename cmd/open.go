package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nabd-browser/nabd/internal/browser"
	"github.com/nabd-browser/nabd/internal/config"
	"github.com/nabd-browser/nabd/internal/surface"
	"github.com/nabd-browser/nabd/internal/tui"
)

func newOpenCmd() *cobra.Command {
	var (
		private bool
		links   bool
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "open <address>",
		Short: "Load a page and print it",
		Example: `  nabd open example.com
  nabd open "golang context package" --links
  nabd open news.ycombinator.com --private --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := initConfig()
			b, err := newOneShotBrowser(cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := load(ctx, b, args[0], private); err != nil {
				return err
			}
			text, err := b.PageText(ctx)
			if err != nil {
				return fmt.Errorf("read page: %w", err)
			}

			out := cmd.OutOrStdout()
			active := b.Tabs().Active()
			printMarkdown(out, fmt.Sprintf("# %s\n\n%s\n\n%s", active.DisplayTitle(), active.URL, text), raw)
			if links {
				fmt.Fprintln(out)
				for i, l := range b.Links() {
					fmt.Fprintf(out, "%3d. %s  %s\n", i+1, l.Text, l.URL)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&private, "private", false, "load in a private tab (no history, no shared cookies)")
	cmd.Flags().BoolVar(&links, "links", false, "list the page's links after the text")
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal rendering")
	return cmd
}

// newOneShotBrowser builds a browser whose first tab starts blank, so a
// single command does not fetch or record the home page.
func newOneShotBrowser(cfg *config.Config) (*browser.Browser, error) {
	cfg.HomeURL = surface.BlankURL
	return newBrowser(cfg)
}

// load navigates to address, in a fresh private tab if private is set.
func load(ctx context.Context, b *browser.Browser, address string, private bool) error {
	if private {
		b.NewTab(surface.BlankURL, true)
	}
	if err := b.Navigate(ctx, address); err != nil {
		return fmt.Errorf("load %s: %w", address, err)
	}
	return nil
}

// printMarkdown renders text for the terminal unless raw is set or out is
// not a terminal.
func printMarkdown(out io.Writer, text string, raw bool) {
	f, ok := out.(*os.File)
	if raw || !ok || !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, text)
		return
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		width = 80
	}
	fmt.Fprintln(out, tui.RenderMarkdown(text, width))
}
