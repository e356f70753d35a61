// Package cli implements the vigilctl commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/audit"
	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/escalation"
	"github.com/MikeSquared-Agency/vigil/internal/policy"
	"github.com/MikeSquared-Agency/vigil/internal/processor"
	"github.com/MikeSquared-Agency/vigil/internal/scoring/remote"
)

const defaultConfig = "configs/policy.yaml"

// pipelineFlags are shared by every command that runs the processor.
type pipelineFlags struct {
	configs     []string
	modelServer string
	auditPath   string
	verbose     bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVarP(&f.configs, "config", "c", []string{defaultConfig}, "Policy files, later files override earlier ones")
	fs.StringVar(&f.modelServer, "model-server", os.Getenv("VIGIL_MODEL_SERVER_URL"), "Model server base URL (fixture scorers when empty)")
	fs.StringVar(&f.auditPath, "audit", "", "Append decisions to this hash-chained audit log")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Log pipeline activity to stderr")
}

func (f *pipelineFlags) logger() *slog.Logger {
	lvl := slog.LevelError
	if f.verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newProcessor builds an in-process pipeline with no side effects beyond
// the optional audit log. The returned func closes the log.
func (f *pipelineFlags) newProcessor() (*processor.Processor, func(), error) {
	logger := f.logger()
	settings, hash, err := config.LoadSettings(f.configs...)
	if err != nil {
		return nil, nil, err
	}

	escCfg := escalation.Config{
		Alpha:  settings.Escalation.EWMAAlpha,
		Window: settings.Escalation.SlopeWindow,
		Floor:  settings.Escalation.RiskFloor,
	}
	if err := escCfg.Validate(); err != nil {
		return nil, nil, err
	}
	opts := processor.Options{
		Settings:   settings,
		PolicyHash: hash,
		Sessions:   escalation.NewSessions(escCfg, 0, 0, nil, logger),
		Logger:     logger,
	}
	if f.modelServer != "" {
		opts.Loader = remote.Loader{BaseURL: f.modelServer, Labeler: processor.LabelerFor(settings), Logger: logger}
	}

	closeFn := func() {}
	if f.auditPath != "" {
		log, err := audit.Open(f.auditPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		opts.Audit = log
		closeFn = func() { _ = log.Close() }
	}

	proc, err := processor.New(opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return proc, closeFn, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func actionColor(a policy.Action) *color.Color {
	switch a {
	case policy.ActionBlock:
		return color.New(color.FgRed, color.Bold)
	case policy.ActionWarn:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgHiGreen)
	}
}

func formatBundle(w io.Writer, b *processor.Bundle) {
	d := b.Decision
	actionColor(d.Action).Fprintf(w, "%-5s", strings.ToUpper(string(d.Action)))
	fmt.Fprintf(w, "  risk %.3f  ewma %.3f  slope %+.3f", d.MaxRisk, b.Escalation.EWMA, b.Escalation.Slope)
	if d.RouteToHuman {
		color.New(color.FgHiMagenta).Fprint(w, "  [route to human]")
	}
	if b.Degraded {
		color.New(color.FgHiBlack).Fprint(w, "  [fixture]")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  text: %s\n", b.Input.Preprocessed)
	fmt.Fprintf(w, "  lang: %s (%.1f)  min age: %s\n", b.Input.Lang, b.Input.LangConfidence, b.Content.SuggestedMinAge)
	if len(b.Abuse.Labels) > 0 {
		fmt.Fprintf(w, "  abuse: %s\n", strings.Join(b.Abuse.Labels, ", "))
	}
	if len(b.Crisis.Labels) > 0 {
		fmt.Fprintf(w, "  crisis: %s\n", strings.Join(b.Crisis.Labels, ", "))
	}
	for _, r := range d.Rationale {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	if len(d.Redact) > 0 {
		fmt.Fprintf(w, "  redact: %s\n", strings.Join(d.Redact, ", "))
	}
}
