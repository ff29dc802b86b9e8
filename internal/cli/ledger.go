package cli

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// addLedgerCommands adds the premium spend ledger commands.
func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLedgerCmd(app))
}

func newLedgerCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show premium spend over the rolling window",
		Long: `Ledger lists spend records inside the rolling annual window and the
remaining capacity against the annual cap for a given NAV.`,
		Example: `  hedger ledger --nav 100000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			nav, _ := cmd.Flags().GetFloat64("nav")
			now := time.Now().UTC()

			records, err := app.Deps.Tracker.Records(ctx, now)
			if err != nil {
				output.Error("Failed to read ledger: %v", err)
				return err
			}
			total, err := app.Deps.Tracker.CurrentSpend(ctx, now)
			if err != nil {
				output.Error("Failed to sum ledger: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"window_start": app.Deps.Tracker.WindowStart(now),
					"total":        total,
					"records":      records,
				})
			}

			color.Cyan("Premium Spend Ledger")
			output.Printf("  Window since: %s\n", app.Deps.Tracker.WindowStart(now).Format("2006-01-02"))
			output.Printf("  Total spend:  %s\n", total.StringFixed(2))
			if nav > 0 {
				check, err := app.Deps.Tracker.CheckSpendWithinCap(ctx, decimal.Zero, decimal.NewFromFloat(nav))
				if err != nil {
					output.Error("Cap check failed: %v", err)
					return err
				}
				output.Printf("  Annual cap:   %s (remaining %s)\n",
					check.CapAmount.StringFixed(2), check.RemainingCapacity.StringFixed(2))
			}
			if len(records) == 0 {
				output.Dim("  No spend recorded in the window")
				return nil
			}
			for _, r := range records {
				output.Printf("  %s  %10s  %s  %s\n",
					r.Timestamp.Format("2006-01-02"), r.Amount.StringFixed(2), r.HedgeID, r.Description)
			}
			return nil
		},
	}
	cmd.Flags().Float64("nav", 0, "portfolio NAV for cap capacity display")
	cmd.AddCommand(newLedgerExpireCmd(app))
	return cmd
}

func newLedgerExpireCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Remove spend records older than the rolling window",
		Long: `Expire purges ledger entries that have aged out of the rolling annual
window. Expiry also runs automatically before every cap check; this
command exists to force it between cycles.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			removed, err := app.Deps.Tracker.ExpireOldRecords(ctx, time.Now().UTC())
			if err != nil {
				output.Error("Failed to expire records: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int64{"removed": removed})
			}
			output.Success("✓ Expired %d ledger records", removed)
			return nil
		},
	}
}
