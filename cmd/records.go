package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nabd-browser/nabd/internal/download"
	"github.com/nabd-browser/nabd/internal/records"
	"github.com/nabd-browser/nabd/internal/tui"
)

// openRecords opens the record store without starting a browser.
func openRecords() (*records.Store, func(), error) {
	cfg := initConfig()
	log := newLogger(cfg)
	rec, err := records.Open(cfg.DatabasePath(), log.Named("records"))
	if err != nil {
		return nil, nil, fmt.Errorf("open records: %w", err)
	}
	return rec, func() {
		rec.Close()
		_ = log.Sync()
	}, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newBookmarksCmd() *cobra.Command {
	var (
		add, title, folder, remove string
		clear, asJSON              bool
	)

	cmd := &cobra.Command{
		Use:   "bookmarks [query]",
		Short: "List, search or edit bookmarks",
		Example: `  nabd bookmarks
  nabd bookmarks golang
  nabd bookmarks --add https://go.dev --title "Go" --folder dev
  nabd bookmarks --delete https://go.dev`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, done, err := openRecords()
			if err != nil {
				return err
			}
			defer done()
			ctx := context.Background()
			out := cmd.OutOrStdout()

			switch {
			case clear:
				if err := rec.DeleteAllBookmarks(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Bookmarks cleared.")
				return nil
			case remove != "":
				if err := rec.DeleteBookmarkByURL(ctx, remove); err != nil {
					if errors.Is(err, records.ErrNotFound) {
						return fmt.Errorf("no bookmark for %s", remove)
					}
					return err
				}
				fmt.Fprintln(out, "Bookmark removed.")
				return nil
			case add != "":
				b := &records.Bookmark{URL: add, Title: title, Folder: folder}
				if b.Title == "" {
					b.Title = add
				}
				if err := rec.SaveBookmark(ctx, b); err != nil {
					return err
				}
				fmt.Fprintln(out, "Bookmarked "+add)
				return nil
			}

			var list []records.Bookmark
			switch {
			case len(args) > 0:
				list, err = rec.SearchBookmarks(ctx, args[0])
			case folder != "":
				list, err = rec.BookmarksInFolder(ctx, folder)
			default:
				list, err = rec.Bookmarks(ctx)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, list)
			}
			fmt.Fprintln(out, tui.FormatBookmarks(list))
			return nil
		},
	}

	cmd.Flags().StringVar(&add, "add", "", "bookmark this address")
	cmd.Flags().StringVar(&title, "title", "", "title for --add")
	cmd.Flags().StringVar(&folder, "folder", "", "folder for --add, or list only this folder")
	cmd.Flags().StringVar(&remove, "delete", "", "remove the bookmark for this address")
	cmd.Flags().BoolVar(&clear, "clear", false, "remove every bookmark")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit, top   int
		today, clear bool
		olderThan    time.Duration
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "history [query]",
		Short: "List, search or prune browsing history",
		Example: `  nabd history
  nabd history --today
  nabd history --top 10
  nabd history --older-than 720h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, done, err := openRecords()
			if err != nil {
				return err
			}
			defer done()
			ctx := context.Background()
			out := cmd.OutOrStdout()

			switch {
			case clear:
				if err := rec.ClearHistory(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "History cleared.")
				return nil
			case olderThan > 0:
				n, err := rec.DeleteHistoryBefore(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d entries.\n", n)
				return nil
			}

			var list []records.HistoryEntry
			switch {
			case len(args) > 0:
				list, err = rec.SearchHistory(ctx, args[0])
			case today:
				list, err = rec.TodayHistory(ctx)
			case top > 0:
				list, err = rec.MostVisited(ctx, top)
			default:
				list, err = rec.RecentHistory(ctx, limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, list)
			}
			fmt.Fprintln(out, tui.FormatHistory(list))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent entries")
	cmd.Flags().IntVar(&top, "top", 0, "list the most visited pages")
	cmd.Flags().BoolVar(&today, "today", false, "list only today's visits")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete entries older than this")
	cmd.Flags().BoolVar(&clear, "clear", false, "delete all history")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newDownloadsCmd() *cobra.Command {
	var (
		active, clear, asJSON bool
		remove                string
	)

	cmd := &cobra.Command{
		Use:   "downloads",
		Short: "List or clear downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, done, err := openRecords()
			if err != nil {
				return err
			}
			defer done()
			ctx := context.Background()
			out := cmd.OutOrStdout()

			switch {
			case clear:
				if err := rec.ClearDownloads(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Downloads cleared.")
				return nil
			case remove != "":
				if err := rec.DeleteDownload(ctx, remove); err != nil {
					return err
				}
				fmt.Fprintln(out, "Download removed.")
				return nil
			}

			var list []records.Download
			if active {
				list, err = rec.ActiveDownloads(ctx)
			} else {
				list, err = rec.Downloads(ctx)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, list)
			}
			fmt.Fprintln(out, tui.FormatDownloads(list))
			return nil
		},
	}

	cmd.Flags().BoolVar(&active, "active", false, "list only pending and running downloads")
	cmd.Flags().StringVar(&remove, "delete", "", "remove the download record with this id")
	cmd.Flags().BoolVar(&clear, "clear", false, "remove every download record")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	cmd.AddCommand(newDownloadGetCmd())
	return cmd
}

func newDownloadGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <url>",
		Short:   "Download a file and wait for it",
		Example: `  nabd downloads get https://go.dev/dl/go1.24.2.src.tar.gz`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := initConfig()
			log := newLogger(cfg)
			defer log.Sync()

			rec, err := records.Open(cfg.DatabasePath(), log.Named("records"))
			if err != nil {
				return fmt.Errorf("open records: %w", err)
			}
			defer rec.Close()

			mgr := download.NewManager(download.Config{
				Dir:       cfg.DownloadDir,
				UserAgent: cfg.UserAgent,
			}, rec, log.Named("download"))
			defer mgr.Close()

			ctx, cancel := signalContext()
			defer cancel()

			errOut := cmd.ErrOrStderr()
			if err := mgr.Subscribe(ctx, func(ev download.Event) {
				if ev.Status == records.StatusDownloading && ev.BytesTotal > 0 {
					fmt.Fprintf(errOut, "\r%s %3d%%", ev.FileName, ev.BytesDone*100/ev.BytesTotal)
				}
			}); err != nil {
				return err
			}

			id, err := mgr.Submit(ctx, args[0], "")
			if err != nil {
				return err
			}
			ev, err := mgr.Wait(ctx, id)
			fmt.Fprintln(errOut)
			if err != nil {
				return err
			}
			switch ev.Status {
			case records.StatusCompleted:
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", ev.Path)
				return nil
			case records.StatusCancelled:
				return errors.New("download cancelled")
			default:
				return fmt.Errorf("download failed: %s", ev.Error)
			}
		},
	}
}
