package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// addUnwindCommands adds the emergency unwind commands.
func addUnwindCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newUnwindCmd(app))
	rootCmd.AddCommand(newDiscrepanciesCmd(app))
}

func newUnwindCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unwind <operational|dislocation|account-risk>",
		Short: "Emergency unwind of all hedge positions",
		Long: `Unwind liquidates every active hedge position using the procedure
mapped to the severity:

  operational   controlled close, high-risk positions first, fills verified
  dislocation   parallel close of everything, slippage accepted
  account-risk  broker-assisted, confirmed state recorded after the fact

Broker and local state are reconciled afterwards; any mismatch is stored
for manual review and reported as an error.`,
		Example: `  hedger unwind operational --reason "quote feed degraded"
  hedger unwind dislocation --reason "limit-down open"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			var severity models.UnwindSeverity
			switch strings.ToLower(args[0]) {
			case "operational":
				severity = models.SeverityOperational
			case "dislocation":
				severity = models.SeverityDislocation
			case "account-risk":
				severity = models.SeverityAccountRisk
			default:
				output.Error("Unknown severity: %s", args[0])
				return fmt.Errorf("unknown severity %q", args[0])
			}

			reason, _ := cmd.Flags().GetString("reason")
			chainPath, _ := cmd.Flags().GetString("chain")
			if reason == "" {
				output.Error("A --reason is required for the audit trail")
				return fmt.Errorf("missing reason")
			}
			if chainPath != "" {
				chain, err := loadChain(chainPath)
				if err != nil {
					output.Error("Failed to load chain snapshot: %v", err)
					return err
				}
				app.Paper.SetChain(chain)
			}

			record, err := app.Unwind.Execute(ctx, severity, reason)
			if record != nil {
				if output.IsJSON() {
					_ = output.JSON(record)
				} else {
					output.Bold("Unwind %s (%s)", record.ID, record.Severity)
					output.Printf("  Positions: %d seen, %d closed, %d failed\n",
						record.PositionsSeen, record.Closed, record.Failed)
				}
			}
			if err != nil {
				var recErr *errors.ReconciliationError
				if errors.As(err, &recErr) {
					output.Error("Reconciliation found %d discrepancies, review with 'hedger discrepancies'", recErr.Discrepancies)
					return err
				}
				output.Error("Unwind failed: %v", err)
				return err
			}
			output.Success("✓ Unwind complete, broker state reconciled")
			return nil
		},
	}

	cmd.Flags().String("reason", "", "reason recorded in the audit trail")
	cmd.Flags().String("chain", "", "path to option chain snapshot JSON")
	return cmd
}

func newDiscrepanciesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discrepancies",
		Short: "List unresolved reconciliation discrepancies",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			unwindID, _ := cmd.Flags().GetString("unwind")
			items, err := app.Store.ListDiscrepancies(ctx, unwindID)
			if err != nil {
				output.Error("Failed to list discrepancies: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(items)
			}
			if len(items) == 0 {
				output.Success("✓ No discrepancies on record")
				return nil
			}
			output.Bold("Reconciliation Discrepancies")
			for _, d := range items {
				output.Printf("  %s  position %s\n", d.FoundAt.Format(time.RFC3339), d.PositionID)
				output.Printf("    expected: %s\n", d.Expected)
				output.Printf("    reported: %s\n", d.Reported)
			}
			return nil
		},
	}
	cmd.Flags().String("unwind", "", "filter by unwind id")
	return cmd
}
