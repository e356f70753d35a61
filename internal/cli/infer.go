package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/processor"
)

// InferCmd scores one or more turns of a single conversation.
func InferCmd() *cobra.Command {
	var (
		pf      pipelineFlags
		texts   []string
		age     string
		session string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Decide on one or more messages of a conversation",
		Long: `Run messages through the full pipeline in order, as turns of one
conversation, and print each decision. Repeat --text to build up a trend.

Examples:
  vigilctl infer --text "hello there" --age 13+
  vigilctl infer -t "you are annoying" -t "i will hurt you" --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(texts) == 0 {
				return fmt.Errorf("at least one --text is required")
			}
			proc, closeAudit, err := pf.newProcessor()
			if err != nil {
				return fmt.Errorf("failed to build pipeline: %w", err)
			}
			defer closeAudit()

			out := cmd.OutOrStdout()
			bundles := make([]*processor.Bundle, 0, len(texts))
			for _, text := range texts {
				b, err := proc.Infer(cmd.Context(), processor.Request{
					SessionID: session,
					Text:      text,
					AgeGroup:  age,
				})
				if err != nil {
					return fmt.Errorf("inference failed: %w", err)
				}
				session = b.SessionID
				bundles = append(bundles, b)
			}

			if asJSON {
				if len(bundles) == 1 {
					return writeJSON(out, bundles[0])
				}
				return writeJSON(out, bundles)
			}
			fmt.Fprintf(out, "session %s\n", session)
			for i, b := range bundles {
				fmt.Fprintf(out, "%d. ", i+1)
				formatBundle(out, b)
			}
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().StringArrayVarP(&texts, "text", "t", nil, "Message text, repeat for multiple turns")
	cmd.Flags().StringVarP(&age, "age", "a", "", "Age group of the speaker: 7+, 13+, 16+ or 18+")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session id (generated when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full decision bundle as JSON")
	return cmd
}
