package cli

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/audit"
)

func AuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the decision audit log",
	}
	cmd.AddCommand(auditVerifyCmd())
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify <audit.jsonl>",
		Short: "Verify the hash chain of an audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			res := audit.Verify(args[0])
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else if res.Valid {
				color.New(color.FgGreen).Fprintf(out, "✓ chain intact, %d entries\n", res.Lines)
				actions := make([]string, 0, len(res.Actions))
				for a := range res.Actions {
					actions = append(actions, a)
				}
				sort.Strings(actions)
				for _, a := range actions {
					fmt.Fprintf(out, "  %-6s %d\n", a, res.Actions[a])
				}
				fmt.Fprintf(out, "  routed %d\n", res.Routed)
			} else {
				color.New(color.FgRed).Fprintf(out, "✗ chain broken at line %d: %s\n", res.ErrorLine, res.Error)
			}

			if !res.Valid {
				return fmt.Errorf("audit log %s failed verification", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
