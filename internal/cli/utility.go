package cli

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
)

// addUtilityCommands adds utility commands.
func addUtilityCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version": Version,
					"go":      runtime.Version(),
				})
			}
			output.Printf("hedger %s (%s)\n", Version, runtime.Version())
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return output.JSON(app.Config)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a template config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Root().PersistentFlags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if err := config.WriteTemplate(dir); err != nil {
				output.Error("Failed to write template: %v", err)
				return err
			}
			output.Success("✓ Template written to %s/config.toml", dir)
			return nil
		},
	})

	return configCmd
}
