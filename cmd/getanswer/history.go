package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/id"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyRemoveCmd)
	historyCmd.AddCommand(historyClearCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage answered questions",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List answered questions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
			entries, err := e.History().List(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(os.Stdout, "No history yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tQUESTION")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					entry.ID, entry.Timestamp.Local().Format(time.DateTime), preview(entry.ExtractedText, 60))
			}
			return w.Flush()
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one question and its answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryID, err := id.ParseHistoryID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
			entry, err := e.History().Get(ctx, entryID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Question:\n%s\n\nAnswer:\n%s\n", entry.ExtractedText, entry.AnswerText)
			return nil
		})
	},
}

var historyRemoveCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"remove"},
	Short:   "Remove one entry",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryID, err := id.ParseHistoryID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
			return e.History().Remove(ctx, entryID)
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
			if err := e.History().Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "History cleared.")
			return nil
		})
	},
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
