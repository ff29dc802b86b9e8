package cli

import (
	"context"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// addPositionCommands adds the hedge position commands.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List hedge positions",
		Example: `  hedger positions
  hedger positions --state ACTIVE --underlying SPY
  hedger positions --spreads`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			underlying, _ := cmd.Flags().GetString("underlying")
			state, _ := cmd.Flags().GetString("state")
			spreads, _ := cmd.Flags().GetBool("spreads")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := store.PositionFilter{
				Underlying: strings.ToUpper(underlying),
				State:      models.PositionState(strings.ToUpper(state)),
				SpreadOnly: spreads,
				Limit:      limit,
			}
			positions, err := app.Store.ListPositions(ctx, filter)
			if err != nil {
				output.Error("Failed to list positions: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No positions match the filter")
				return nil
			}

			color.Cyan("Hedge Positions")
			now := time.Now().UTC()
			for _, p := range positions {
				kind := "put"
				if p.IsSpread {
					kind = "spread"
				}
				output.Printf("  %s  %-5s %-9s %-6s x%-4d dte %-4d %s/%s\n",
					p.ID, p.Underlying, p.Template, kind, p.Contracts, p.DTE(now), p.State, p.RollState)
				for _, leg := range p.Legs {
					output.Printf("      %-4s %s strike %.2f delta %.2f\n",
						leg.Side, leg.OptionSymbol, leg.Strike, leg.CurrentDelta)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("underlying", "", "filter by underlying symbol")
	cmd.Flags().String("state", "", "filter by position state (ACTIVE, CLOSED, ROLLED, EXPIRED)")
	cmd.Flags().Bool("spreads", false, "only spread positions")
	cmd.Flags().Int("limit", 0, "maximum rows")
	return cmd
}
