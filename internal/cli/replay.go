package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/replay"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
)

func ReplayCmd() *cobra.Command {
	var (
		pf           pipelineFlags
		statePath    string
		concurrency  int
		fresh        bool
		keepSessions bool
		notify       bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file.jsonl>...",
		Short: "Replay recorded conversations through the pipeline",
		Long: `Replay JSONL conversation files. Each line is one turn:
  {"session_id": "...", "text": "...", "age_group": "13+", "ts": "..."}

Turns of a session are applied in order; sessions run concurrently.
Progress is saved after each file so an interrupted run resumes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, closeAudit, err := pf.newProcessor()
			if err != nil {
				return fmt.Errorf("failed to build pipeline: %w", err)
			}
			defer closeAudit()

			var notifier replay.Notifier
			if notify {
				token, channel := os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("SLACK_REVIEW_CHANNEL")
				if token == "" || channel == "" {
					return fmt.Errorf("--notify needs SLACK_BOT_TOKEN and SLACK_REVIEW_CHANNEL")
				}
				notifier = slack.NewPoster(token, channel, pf.logger())
			}

			runner := replay.NewRunner(replay.Config{
				Files:        args,
				StatePath:    statePath,
				PolicyHash:   proc.PolicyHash(),
				Concurrency:  concurrency,
				Fresh:        fresh,
				KeepSessions: keepSessions,
			}, proc, notifier, pf.logger())

			sum, err := runner.Run(cmd.Context())
			if sum != nil {
				if asJSON {
					if jerr := writeJSON(cmd.OutOrStdout(), sum); jerr != nil {
						return jerr
					}
				} else {
					printSummary(cmd.OutOrStdout(), sum)
				}
			}
			if err != nil {
				return fmt.Errorf("replay interrupted: %w", err)
			}
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().StringVar(&statePath, "state", replay.DefaultStatePath, "Progress file for resumable runs")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Sessions replayed at once")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore saved progress and replay every file")
	cmd.Flags().BoolVar(&keepSessions, "keep-sessions", false, "Do not end replayed sessions after the run")
	cmd.Flags().BoolVar(&notify, "notify", false, "Post the summary to the Slack review channel")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, s *replay.Summary) {
	bold := color.New(color.Bold)
	bold.Fprintln(w, "Replay summary")
	fmt.Fprintf(w, "  files:    %d (%d skipped)\n", s.Files, s.Skipped)
	fmt.Fprintf(w, "  sessions: %d\n", s.Sessions)
	fmt.Fprintf(w, "  turns:    %d in %s\n", s.Turns, s.Duration.Round(time.Millisecond))

	actions := make([]string, 0, len(s.Actions))
	for a := range s.Actions {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(w, "    %-6s %d\n", a, s.Actions[a])
	}
	fmt.Fprintf(w, "  routed:   %d\n", s.Routed)
	if s.Degraded > 0 {
		color.New(color.FgYellow).Fprintf(w, "  fixture-scored turns: %d\n", s.Degraded)
	}
	if s.Errors > 0 || s.BadLines > 0 {
		color.New(color.FgRed).Fprintf(w, "  errors: %d, bad lines: %d\n", s.Errors, s.BadLines)
	}
}
