package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/pkg/analysis"
	"github.com/MichalMed/termit/pkg/occurrence"
)

// NewRecordsCommand creates the records command.
func NewRecordsCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect text analysis records",
		Long: `Inspect text analysis records.

Every successful analysis run leaves a record naming the vocabularies the
file was analyzed against, who asked for it and how many occurrences it
produced.

Examples:
  termit records latest http://example.org/files/report
  termit records latest http://example.org/files/report --output json`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "latest <file>",
		Short: "Show the most recent analysis record of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				rec, err := app.Analysis.FindLatestRecord(ctx, occurrence.ResourceID(args[0]))
				if err != nil {
					return err
				}
				return writeOutput(deps.Out, app.Config.OutputFormat, rec, func(w io.Writer) error {
					return printRecord(w, rec)
				})
			})
		},
	})

	return cmd
}

func printRecord(w io.Writer, rec *analysis.Record) error {
	fmt.Fprintf(w, "%s\n", rec.ID)
	fmt.Fprintf(w, "  Resource:     %s\n", rec.Resource)
	fmt.Fprintf(w, "  Analyzed at:  %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Vocabularies: %v\n", rec.Vocabularies)
	fmt.Fprintf(w, "  Occurrences:  %d\n", rec.Occurrences)
	if rec.RequestedBy != "" {
		fmt.Fprintf(w, "  Requested by: %s\n", rec.RequestedBy)
	}
	return nil
}
