package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/workforce-ai/compute/internal/app/ledger"
	"github.com/workforce-ai/compute/internal/app/pricing"
)

// ─── Ledger Commands ────────────────────────────────────────────────────────
// One-shot commands open the store, log in as --user, perform one
// operation and print the result.

func init() {
	rootCmd.AddCommand(loginCmd, balanceCmd, debitCmd, creditCmd, buyCmd, historyCmd, pricingCmd, quoteCmd)

	debitCmd.Flags().StringP("tier", "t", "", "Feature tier (default: the feature's default tier)")
	debitCmd.Flags().StringToString("meta", nil, "Metadata key=value pairs recorded on the entry")
	creditCmd.Flags().Int64("price", 0, "Money paid, in minor currency units")
	historyCmd.Flags().IntP("limit", "n", 20, "Entries to show (0 for all)")
	quoteCmd.Flags().StringP("tier", "t", "", "Feature tier")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wantJSON(cmd *cobra.Command) bool {
	j, _ := cmd.Flags().GetBool("json")
	return j
}

// ─── login / balance ────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login IDENTITY",
	Short: "Create or open an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Set("user", args[0]); err != nil {
			return err
		}
		return runBalance(cmd, nil)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the account balance and entitlement",
	Args:  cobra.NoArgs,
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	rt, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	acct, _ := rt.store.Account()
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, acct)
	}

	fmt.Fprintf(out, "Account:  %s\n", acct.Identity)
	fmt.Fprintf(out, "Balance:  %d points\n", acct.Balance)
	fmt.Fprintf(out, "Credits:  %d lifetime\n", acct.LifetimeCredits)
	fmt.Fprintf(out, "Debits:   %d lifetime\n", acct.LifetimeDebits)
	switch tier := acct.ActiveTier(time.Now()); {
	case tier == "":
		fmt.Fprintln(out, "Plan:     none")
	case acct.Entitlement.ExpiresAt == nil:
		fmt.Fprintf(out, "Plan:     %s (never expires)\n", tier)
	default:
		fmt.Fprintf(out, "Plan:     %s (expires %s)\n", tier, acct.Entitlement.ExpiresAt.Format(time.DateOnly))
	}
	return nil
}

// ─── debit / credit / buy ───────────────────────────────────────────────────

var debitCmd = &cobra.Command{
	Use:   "debit FEATURE",
	Short: "Charge one use of a feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")
		meta, _ := cmd.Flags().GetStringToString("meta")

		rt, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.store.Debit(cmd.Context(), ledger.DebitRequest{Feature: args[0], Tier: tier, Metadata: meta})
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Charged %d points for %s (%s). Balance: %d\n",
			res.AmountCharged, res.Entry.Subject, res.Entry.Tier, res.NewBalance)
		return nil
	},
}

var creditCmd = &cobra.Command{
	Use:   "credit AMOUNT",
	Short: "Add bought points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("amount %q is not a whole number", args[0])
		}
		price, _ := cmd.Flags().GetInt64("price")

		rt, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.store.Credit(cmd.Context(), amount, price)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Added %d points. Balance: %d\n", amount, res.NewBalance)
		return nil
	},
}

var buyCmd = &cobra.Command{
	Use:   "buy TIER",
	Short: "Purchase an entitlement tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.store.PurchaseEntitlement(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd.OutOrStdout(), res)
		}
		expiry := "never expires"
		if res.Expiry != nil {
			expiry = "expires " + res.Expiry.Format(time.DateOnly)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s plan active (%s). Balance: %d\n", res.Entitlement, expiry, res.NewBalance)
		return nil
	},
}

// ─── history ────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List ledger entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		rt, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		entries, err := rt.store.History(limit)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No ledger entries yet.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tKIND\tSUBJECT\tTIER\tCHANGE\tBALANCE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%+d\t%d\n",
				e.OccurredAt.Local().Format("2006-01-02 15:04"), e.Kind, e.Subject, e.Tier, e.Delta(), e.BalanceAfter)
		}
		return tw.Flush()
	},
}

// ─── pricing / quote ────────────────────────────────────────────────────────

// pricingTable loads the configured table without opening storage.
func pricingTable(cmd *cobra.Command) (*pricing.Table, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if path := cfg.Pricing.OverridesFile; path != "" {
		return pricing.LoadOverrides(pricing.Default(), path)
	}
	return pricing.Default(), nil
}

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Show feature costs and entitlement tiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := pricingTable(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, map[string]interface{}{
				"default_cost": table.DefaultCost(),
				"features":     table.Features(),
				"tiers":        table.Tiers(),
			})
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FEATURE\tTIER\tPOINTS")
		for _, f := range table.Features() {
			for _, tier := range sortedTiers(f) {
				mark := ""
				if tier == f.DefaultTier {
					mark = " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s%s\t%d\n", f.ID, tier, mark, f.Tiers[tier])
			}
		}
		fmt.Fprintf(tw, "*\t-\t%d\n", table.DefaultCost())
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PLAN\tPOINTS\tPRICE\tDURATION")
		for _, t := range table.Tiers() {
			dur := "lifetime"
			if !t.Unlimited() {
				dur = fmt.Sprintf("%d days", int(t.Duration/(24*time.Hour)))
			}
			fmt.Fprintf(tw, "%s\t%d\t%d.%02d\t%s\n", t.ID, t.Points, t.Price/100, t.Price%100, dur)
		}
		return tw.Flush()
	},
}

// sortedTiers orders a feature's tiers by cost.
func sortedTiers(f pricing.Feature) []string {
	tiers := make([]string, 0, len(f.Tiers))
	for t := range f.Tiers {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool {
		ci, cj := f.Tiers[tiers[i]], f.Tiers[tiers[j]]
		if ci != cj {
			return ci < cj
		}
		return tiers[i] < tiers[j]
	})
	return tiers
}

var quoteCmd = &cobra.Command{
	Use:   "quote FEATURE",
	Short: "Show what one use of a feature costs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := pricingTable(cmd)
		if err != nil {
			return err
		}
		tier, _ := cmd.Flags().GetString("tier")
		q := table.Quote(args[0], tier)
		if wantJSON(cmd) {
			return printJSON(cmd.OutOrStdout(), q)
		}
		if !q.Known {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is not priced; default cost %d points\n", q.Feature, q.Cost)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d points\n", q.Feature, q.Tier, q.Cost)
		return nil
	},
}
