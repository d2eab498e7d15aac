package cmd

import (
	"fmt"

	"github.com/nabd-browser/nabd/internal/browser"
	"github.com/nabd-browser/nabd/internal/tui"
)

// runShell starts the interactive browser shell.
func runShell(address string, private bool) error {
	cfg := initConfig()

	relay := &tui.Relay{}
	b, err := newBrowser(cfg, browser.WithNotifier(relay.Notify))
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	shellFn := func(ui tui.IO) error {
		relay.Attach(ui)
		defer relay.Attach(nil)

		ui.SystemMessage(fmt.Sprintf("nabd %s. Type an address or a search, or /help.", appVersion))
		if !b.AssistantReady() {
			ui.SystemMessage("The AI assistant is off; run nabd init to set it up.")
		}

		sh := tui.NewShell(b, ui)
		switch {
		case address != "" && private:
			sh.Execute(ctx, "/private "+address)
		case address != "":
			sh.Execute(ctx, address)
		case private:
			sh.Execute(ctx, "/private")
		}
		return sh.Run(ctx)
	}

	if useTUI {
		return tui.RunTUI(shellFn)
	}
	return shellFn(tui.NewPlainIO())
}
