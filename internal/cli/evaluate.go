package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/engine"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// addEvaluateCommands adds the hedge evaluation commands.
func addEvaluateCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newEvaluateCmd(app))
}

func newEvaluateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <underlying>",
		Short: "Evaluate hedge sizing for an underlying",
		Long: `Evaluate runs one sizing cycle against a market snapshot: scenario
payoff, volatility tier, budget caps, and contract selection. The option
chain is read from a snapshot file.

Redelivering the same correlation id is a no-op.`,
		Example: `  hedger evaluate SPY --nav 100000 --spot 480 --vol 22 --chain chain.json
  hedger evaluate SPY --nav 100000 --spot 480 --vol 22 --chain chain.json --place`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			underlying := strings.ToUpper(args[0])
			nav, _ := cmd.Flags().GetFloat64("nav")
			spot, _ := cmd.Flags().GetFloat64("spot")
			leverage, _ := cmd.Flags().GetFloat64("leverage")
			exposure, _ := cmd.Flags().GetFloat64("exposure")
			vol, _ := cmd.Flags().GetFloat64("vol")
			volPct, _ := cmd.Flags().GetFloat64("vol-percentile")
			chainPath, _ := cmd.Flags().GetString("chain")
			correlationID, _ := cmd.Flags().GetString("correlation")
			place, _ := cmd.Flags().GetBool("place")

			if nav <= 0 || spot <= 0 {
				output.Error("Both --nav and --spot must be positive")
				return fmt.Errorf("invalid snapshot inputs")
			}
			if correlationID == "" {
				correlationID = uuid.NewString()
			}

			if chainPath != "" {
				chain, err := loadChain(chainPath)
				if err != nil {
					output.Error("Failed to load chain snapshot: %v", err)
					return err
				}
				app.Paper.SetChain(chain)
			}

			snap := models.MarketSnapshot{
				Underlying:      underlying,
				SpotPrice:       spot,
				NAV:             nav,
				LeverageFactor:  leverage,
				ExposureRatio:   exposure,
				VolatilityIndex: vol,
				VolPercentile:   volPct,
				AsOf:            time.Now().UTC(),
			}

			outcome, err := app.Engine.EvaluateHedge(ctx, correlationID, snap)
			if err != nil {
				if errors.Is(err, errors.ErrDuplicateInvocation) {
					output.Warning("Correlation id %s already processed, nothing to do", correlationID)
					return nil
				}
				if errors.Is(err, errors.ErrGateActive) {
					output.Error("Safety gate is active: %v", err)
					return err
				}
				output.Error("Evaluation failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(outcome)
			}
			printOutcome(output, outcome)

			if place && outcome.Selection != nil && !outcome.Recommendation.Skipped() {
				pos, err := app.Engine.PlaceHedge(ctx, outcome)
				if err != nil {
					output.Error("Placement failed: %v", err)
					return err
				}
				output.Success("✓ Position %s opened: %d contracts, net debit %.2f", pos.ID, pos.Contracts, pos.EntryPrice)
			}
			return nil
		},
	}

	cmd.Flags().Float64("nav", 0, "portfolio net asset value")
	cmd.Flags().Float64("spot", 0, "underlying spot price")
	cmd.Flags().Float64("leverage", 1.0, "portfolio leverage factor")
	cmd.Flags().Float64("exposure", 1.0, "equity exposure ratio")
	cmd.Flags().Float64("vol", 0, "volatility index level")
	cmd.Flags().Float64("vol-percentile", -1, "trailing implied volatility percentile")
	cmd.Flags().String("chain", "", "path to option chain snapshot JSON")
	cmd.Flags().String("correlation", "", "correlation id for idempotent redelivery")
	cmd.Flags().Bool("place", false, "place the hedge after evaluation")
	return cmd
}

func loadChain(path string) (*models.OptionChain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chain models.OptionChain
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("parsing chain snapshot: %w", err)
	}
	return &chain, nil
}

func printOutcome(output *Output, outcome *engine.EvaluationOutcome) {
	rec := outcome.Recommendation
	output.Bold("Hedge Evaluation: %s", rec.Underlying)
	if rec.Skipped() {
		output.Warning("Skipped: %s", rec.SkipReason)
		return
	}
	output.Printf("  Template:   %s", rec.Template)
	if rec.SwitchedTemplate {
		output.Printf(" (switched)")
	}
	output.Println()
	output.Printf("  Vol tier:   %s (index %.1f", rec.VolatilityTier, rec.VolatilityIndex)
	if rec.DampenedForVol {
		output.Printf(", dampened")
	}
	output.Printf(")\n")
	output.Printf("  Contracts:  %d", rec.Contracts)
	if rec.WasClippedByBudget {
		output.Printf(" %s", output.Yellow(fmt.Sprintf("(clipped from %d)", rec.ContractsForTarget)))
	}
	output.Println()
	output.Printf("  Premium:    %.2f (budget %.2f)\n", rec.EstimatedPremium, rec.PremiumBudget)
	output.Printf("  Scenario:   %.1f%% move covers %.2f%% of NAV\n", rec.ScenarioMovePct, rec.ScenarioPayoffPct)
	if rec.ClipReport != "" {
		output.Warning("  %s", rec.ClipReport)
	}
	if outcome.Selection != nil && outcome.Selection.Primary != nil {
		p := outcome.Selection.Primary
		output.Printf("  Contract:   %s strike %.2f exp %s delta %.2f\n",
			p.Symbol, p.Strike, p.Expiration.Format("2006-01-02"), p.Greeks.Delta)
		if outcome.Selection.Ladder != nil {
			l := outcome.Selection.Ladder
			output.Printf("  Ladder:     %s exp %s\n", l.Symbol, l.Expiration.Format("2006-01-02"))
		}
		if outcome.Selection.FallbackScoring {
			output.Dim("  Scored without second-order greeks")
		}
	}
	if outcome.ShortLeg != nil {
		output.Printf("  Short leg:  %s strike %.2f delta %.2f\n",
			outcome.ShortLeg.Symbol, outcome.ShortLeg.Strike, outcome.ShortLeg.Greeks.Delta)
	}
}
