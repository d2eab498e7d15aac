package browser

import (
	"context"
)

// ReadPage loads the active page's text into the AI panel, bound to the
// session it came from.
func (b *Browser) ReadPage(ctx context.Context) error {
	sess, s, err := b.active()
	if err != nil {
		return err
	}
	text, err := s.Text(ctx)
	if err != nil {
		return err
	}
	b.panel.SetPage(sess.ID, text)
	return nil
}

// Summarize reads the active page and asks for a summary.
func (b *Browser) Summarize(ctx context.Context) error {
	if err := b.ReadPage(ctx); err != nil {
		return err
	}
	return b.panel.Summarize(ctx)
}

// Explain asks for an explanation of text with the active page as context.
func (b *Browser) Explain(ctx context.Context, text string) error {
	if err := b.ReadPage(ctx); err != nil {
		return err
	}
	return b.panel.Explain(ctx, text)
}

// Ask asks a question about the active page.
func (b *Browser) Ask(ctx context.Context, question string) error {
	if err := b.ReadPage(ctx); err != nil {
		return err
	}
	return b.panel.Ask(ctx, question)
}
