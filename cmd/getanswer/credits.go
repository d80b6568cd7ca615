package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/getanswer"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsAddCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsLogCmd)
	creditsCmd.AddCommand(creditsVerifyCmd)

	creditsAddCmd.Flags().StringP("reason", "r", "manual", "Reason recorded on the transaction")
	creditsLogCmd.Flags().IntP("limit", "n", 20, "Number of most recent transactions to show (0 for all)")
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the current credit balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
			fmt.Fprintf(os.Stdout, "%d credits\n", e.Ledger().Balance(ctx))
			return nil
		})
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage the credit ledger",
}

// ─── credits add ────────────────────────────────────────────────────────────

var creditsAddCmd = &cobra.Command{
	Use:   "add AMOUNT",
	Short: "Add credits to the balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsAdd,
}

func runCreditsAdd(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q is not a whole number", args[0])
	}
	reason, _ := cmd.Flags().GetString("reason")

	return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
		txID, err := e.Ledger().Add(ctx, amount, reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Added %d credits (%s). Balance: %d\n", amount, txID, e.Ledger().Balance(ctx))
		return nil
	})
}

// ─── credits grant ──────────────────────────────────────────────────────────

var creditsGrantCmd = &cobra.Command{
	Use:   "grant [KEY]",
	Short: "Apply a purchase or reward grant, or list grants",
	Long: `Apply a named grant from the catalog, such as a purchased credit pack or
the rewarded-ad bonus. With no KEY, lists the available grants.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreditsGrant,
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
		l := e.Ledger()
		if len(args) == 0 {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tCREDITS\tSOURCE")
			for _, g := range l.Catalog().List() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", g.Key, g.Name, g.Credits, g.Source)
			}
			return w.Flush()
		}

		txID, err := l.Grant(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Granted %s (%s). Balance: %d\n", args[0], txID, l.Balance(ctx))
		return nil
	})
}

// ─── credits log ────────────────────────────────────────────────────────────

var creditsLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the transaction log",
	Args:  cobra.NoArgs,
	RunE:  runCreditsLog,
}

func runCreditsLog(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
		txs := e.Ledger().Transactions(ctx)
		if limit > 0 && len(txs) > limit {
			txs = txs[len(txs)-limit:]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tTYPE\tAMOUNT\tSTATUS\tREASON")
		for _, tx := range txs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				tx.ID, tx.Timestamp.Local().Format(time.DateTime), tx.Kind, tx.Amount, tx.Status, tx.Reason)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\nOpening balance: %d  Balance: %d\n",
			e.Ledger().OpeningBalance(ctx), e.Ledger().Balance(ctx))
		return nil
	})
}

// ─── credits verify ─────────────────────────────────────────────────────────

var creditsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the balance matches the transaction log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, false, func(ctx context.Context, e *getanswer.Engine) error {
			if err := e.Ledger().Verify(ctx); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "Ledger is consistent.")
			return nil
		})
	},
}
