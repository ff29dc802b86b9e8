package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// addGateCommands adds the safety gate commands.
func addGateCommands(rootCmd *cobra.Command, app *App) {
	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect and manage the safety gate",
	}
	gateCmd.AddCommand(newGateShowCmd(app))
	gateCmd.AddCommand(newGateRaiseCmd(app))
	gateCmd.AddCommand(newGateClearCmd(app))
	rootCmd.AddCommand(gateCmd)
}

func newGateShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current safety gate state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			gate := app.Deps.Gate.Status(ctx)
			if output.IsJSON() {
				return output.JSON(gate)
			}
			if gate.Active {
				output.Error("Safety gate ACTIVE since %s", gate.SetAt.Format(time.RFC3339))
				output.Printf("  Reason: %s\n", gate.Reason)
				output.Warning("New hedge placement is blocked until the gate is cleared")
			} else {
				output.Success("✓ Safety gate inactive")
			}
			return nil
		},
	}
}

func newGateRaiseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raise",
		Short: "Manually raise the safety gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			reason, _ := cmd.Flags().GetString("reason")
			if reason == "" {
				output.Error("A --reason is required for the audit trail")
				return fmt.Errorf("missing reason")
			}
			if err := app.Deps.Gate.Raise(ctx, reason); err != nil {
				output.Error("Failed to raise gate: %v", err)
				return err
			}
			output.Warning("Safety gate raised: %s", reason)
			return nil
		},
	}
	cmd.Flags().String("reason", "", "reason recorded in the audit trail")
	return cmd
}

func newGateClearCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the safety gate",
		Long: `Clear deactivates the safety gate after the underlying condition has
been reviewed. The operator identity is written to the audit trail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			operator, _ := cmd.Flags().GetString("operator")
			if operator == "" {
				output.Error("An --operator is required for the audit trail")
				return fmt.Errorf("missing operator")
			}
			if err := app.Deps.Gate.Clear(ctx, operator); err != nil {
				output.Error("Failed to clear gate: %v", err)
				return err
			}
			output.Success("✓ Safety gate cleared by %s", operator)
			return nil
		},
	}
	cmd.Flags().String("operator", "", "operator identity recorded in the audit trail")
	return cmd
}
