package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/config"
)

func ValidateCmd() *cobra.Command {
	var configs []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check policy files and print the merged settings hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			settings, hash, err := config.LoadSettings(configs...)
			if err != nil {
				color.New(color.FgRed).Fprintln(out, "✗ invalid configuration")
				fmt.Fprintln(out, err)
				return fmt.Errorf("validation failed")
			}

			color.New(color.FgGreen).Fprintln(out, "✓ configuration is valid")
			fmt.Fprintf(out, "  hash:       %s\n", hash)
			fmt.Fprintf(out, "  escalation: alpha %.2f, window %d, floor %.2f\n",
				settings.Escalation.EWMAAlpha, settings.Escalation.SlopeWindow, settings.Escalation.RiskFloor)
			a := settings.Policy.Actions
			fmt.Fprintf(out, "  actions:    allow < %.2f <= warn < %.2f <= block\n", a.AllowMaxRisk, a.WarnMaxRisk)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&configs, "config", "c", []string{defaultConfig}, "Policy files, later files override earlier ones")
	return cmd
}
