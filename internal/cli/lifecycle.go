package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/lifecycle"
)

// lifecycleInput is the observation file format for one cycle: roll
// observations and short-leg deltas keyed by position id.
type lifecycleInput struct {
	Observations map[string]lifecycle.RollObservation `json:"observations"`
	ShortDeltas  map[string]float64                   `json:"short_deltas"`
}

// addLifecycleCommands adds the position lifecycle commands.
func addLifecycleCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLifecycleCmd(app))
}

func newLifecycleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run roll and assignment checks over active positions",
		Long: `Lifecycle runs one management cycle: roll triggers per template,
assignment risk bands on spread short legs, and ledger expiry. Market
observations are read from a JSON file keyed by position id.

Redelivering the same correlation id is a no-op.`,
		Example: `  hedger lifecycle --observations obs.json
  hedger lifecycle --observations obs.json --correlation cycle-2026-08-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			obsPath, _ := cmd.Flags().GetString("observations")
			correlationID, _ := cmd.Flags().GetString("correlation")
			chainPath, _ := cmd.Flags().GetString("chain")
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			input := lifecycleInput{
				Observations: map[string]lifecycle.RollObservation{},
				ShortDeltas:  map[string]float64{},
			}
			if obsPath != "" {
				data, err := os.ReadFile(obsPath)
				if err != nil {
					output.Error("Failed to read observations: %v", err)
					return err
				}
				if err := json.Unmarshal(data, &input); err != nil {
					output.Error("Failed to parse observations: %v", err)
					return err
				}
			}
			if chainPath != "" {
				chain, err := loadChain(chainPath)
				if err != nil {
					output.Error("Failed to load chain snapshot: %v", err)
					return err
				}
				app.Paper.SetChain(chain)
			}

			triggers, assignments, err := app.Engine.LifecycleCycle(ctx, correlationID,
				input.Observations, input.ShortDeltas, time.Now().UTC())
			if err != nil {
				if errors.Is(err, errors.ErrDuplicateInvocation) {
					output.Warning("Correlation id %s already processed, nothing to do", correlationID)
					return nil
				}
				output.Error("Lifecycle cycle failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"roll_triggers": triggers,
					"assignments":   assignments,
				})
			}

			output.Bold("Lifecycle Cycle")
			if len(triggers) == 0 && len(assignments) == 0 {
				output.Success("✓ No action required")
				return nil
			}
			for _, t := range triggers {
				output.Warning("Roll %s: %s (%s)", t.PositionID, t.Reason, t.Detail)
			}
			for _, a := range assignments {
				line := fmt.Sprintf("Assignment %s: band %s, delta %.2f, action %s",
					a.PositionID, a.Band, a.ShortDelta, a.Action)
				if a.Resolved {
					output.Info("%s", line)
				} else {
					output.Error("%s (UNRESOLVED)", line)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("observations", "", "path to per-position observations JSON")
	cmd.Flags().String("chain", "", "path to option chain snapshot JSON")
	cmd.Flags().String("correlation", "", "correlation id for idempotent redelivery")
	return cmd
}
