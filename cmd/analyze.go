package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/config"
	"github.com/MichalMed/termit/pkg/analysis"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/resource"
)

// Analyze command flags
var (
	analyzeVocabularies []string
	analyzeRequestedBy  string
	analyzeExplain      bool
	analyzeCreateFile   bool
	analyzeContent      string
)

// explainBufferSize bounds the log lines kept for --explain.
const explainBufferSize = 1000

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run text analysis of a file",
		Long: `Run text analysis of a file and reconcile its suggested term occurrences.

The file's content is sent to the text analysis service together with the
vocabularies to look for. Occurrences found in the returned markup replace
the file's previous suggested occurrences; confirmed occurrences are kept.
Terms found with a score of at least annotation.min_score are assigned to
the file.

Without --vocabulary the vocabulary of the file's document is used.

The content is backed up before it is replaced by the annotated markup.

Flags:
  --vocabulary     Vocabulary to analyze against (repeatable)
  --requested-by   Who asked for the run (default: $USER)
  --create-file    Register the file resource first if it does not exist
  --content        Upload content from a local file before analyzing
  --explain        Print the run's log after the result

Examples:
  termit analyze http://example.org/files/report
  termit analyze http://example.org/files/report --vocabulary http://example.org/vocabularies/law
  termit analyze f1 --create-file --content ./report.html --vocabulary v1 --store memory --explain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), deps, occurrence.ResourceID(args[0]))
		},
	}

	cmd.Flags().StringSliceVar(&analyzeVocabularies, "vocabulary", nil, "Vocabulary to analyze against (repeatable)")
	cmd.Flags().StringVar(&analyzeRequestedBy, "requested-by", os.Getenv("USER"), "Who asked for the run")
	cmd.Flags().BoolVar(&analyzeCreateFile, "create-file", false, "Register the file resource if it does not exist")
	cmd.Flags().StringVar(&analyzeContent, "content", "", "Upload content from this local file first")
	cmd.Flags().BoolVar(&analyzeExplain, "explain", false, "Print the run's log after the result")

	return cmd
}

func runAnalyze(ctx context.Context, deps *CommandDeps, file occurrence.ResourceID) error {
	var sinks []logging.Sink
	var buffer *logging.BufferSink
	if analyzeExplain {
		buffer = logging.NewBufferSink(explainBufferSize)
		sinks = append(sinks, buffer)
	}

	app, err := deps.app(ctx, sinks...)
	if err != nil {
		return err
	}
	defer app.Close()

	ms, err := startMetricsServer(app.Config.Metrics.Addr, app.Registry, app.Logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ms.Shutdown(sctx)
	}()

	if analyzeCreateFile {
		if err := ensureFile(ctx, app, file); err != nil {
			return err
		}
	}
	if analyzeContent != "" {
		if err := uploadContent(ctx, app, file, analyzeContent); err != nil {
			return err
		}
	}

	out, runErr := app.Analysis.AnalyzeFile(ctx, analysis.Request{
		Resource:     file,
		Vocabularies: analyzeVocabularies,
		RequestedBy:  analyzeRequestedBy,
	})
	if runErr == nil {
		if err := writeOutput(deps.Out, app.Config.OutputFormat, out, func(w io.Writer) error {
			return printOutcome(w, out)
		}); err != nil {
			return err
		}
	}

	if buffer != nil {
		printExplain(deps.Out, app.Config.OutputFormat, buffer.Entries())
	}
	return runErr
}

// ensureFile registers file as a File resource unless it exists.
func ensureFile(ctx context.Context, app *App, file occurrence.ResourceID) error {
	_, err := app.Resources.Get(ctx, file)
	if !tmerrors.IsNotFound(err) {
		return err
	}
	return app.Resources.Save(ctx, &resource.Resource{ID: file, Kind: resource.KindFile})
}

func uploadContent(ctx context.Context, app *App, file occurrence.ResourceID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening content: %w", err)
	}
	defer f.Close()
	return app.Documents.SaveContent(ctx, file, f)
}

func printOutcome(w io.Writer, out *analysis.Outcome) error {
	r := out.Result
	fmt.Fprintf(w, "Analyzed %s in %s\n", out.Record.Resource, formatDurationMs(out.Duration.Milliseconds()))
	fmt.Fprintf(w, "  Record:       %s\n", out.Record.ID)
	fmt.Fprintf(w, "  Vocabularies: %v\n", out.Record.Vocabularies)
	fmt.Fprintf(w, "  Backup:       %s\n", out.Backup)
	fmt.Fprintf(w, "  Occurrences:  %d (%d groups, %d replaced)\n", len(r.Occurrences), r.Groups, r.Removed)

	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "  Skipped (%d):\n", len(r.Skipped))
		for _, s := range r.Skipped {
			fmt.Fprintf(w, "    %s %s: %s\n", s.Key, s.Term, s.Reason)
		}
	}
	if len(r.Promoted) > 0 {
		fmt.Fprintf(w, "  Assigned terms (%d):\n", len(r.Promoted))
		for _, t := range r.Promoted {
			fmt.Fprintf(w, "    %s\n", t)
		}
	}
	if len(r.PromotionErrors) > 0 {
		fmt.Fprintf(w, "  Assignment failures (%d):\n", len(r.PromotionErrors))
		for _, f := range r.PromotionErrors {
			fmt.Fprintf(w, "    %s: %s\n", f.Term, f.Error)
		}
	}
	if len(out.Warnings) > 0 {
		fmt.Fprintf(w, "  Warnings (%d):\n", len(out.Warnings))
		for _, msg := range out.Warnings {
			fmt.Fprintf(w, "    %s\n", msg)
		}
	}
	return nil
}

func printExplain(w io.Writer, format config.OutputFormat, entries []logging.LogEntry) {
	if format != config.OutputFormatText {
		// Structured output stays parseable; the log goes to stderr instead.
		w = os.Stderr
	}
	fmt.Fprintf(w, "\nRun log (%d entries):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s %-5s %s", e.Timestamp.Format("15:04:05.000"), e.Level, e.Message)
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, " %s=%s", k, e.Fields[k])
		}
		fmt.Fprintln(w)
	}
}
