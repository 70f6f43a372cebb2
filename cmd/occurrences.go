package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/observability"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/selector"
)

// Occurrence command flags
var (
	occListTerm       string
	occListResource   string
	occAddExact       string
	occAddPrefix      string
	occAddSuffix      string
	occRemoveAssigned bool
)

// NewOccurrencesCommand creates the occurrences command with all subcommands.
func NewOccurrencesCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "occurrences",
		Short: "Review and edit term occurrences",
		Long: `Review and edit term occurrences.

A term occurrence anchors a term to a span of a file's text by a quote of
the span and its surrounding context. Occurrences produced by text analysis
start as suggested; confirming one keeps it across later analysis runs.
Occurrences added by hand start confirmed.

Examples:
  termit occurrences list --resource http://example.org/files/report
  termit occurrences list --term http://example.org/terms/contract
  termit occurrences confirm to-4f2k9s1mX3
  termit occurrences add http://example.org/terms/contract http://example.org/files/report --exact contract
  termit occurrences summary http://example.org/files/report`,
		Aliases: []string{"occ"},
	}

	cmd.AddCommand(newOccListCommand(deps))
	cmd.AddCommand(newOccConfirmCommand(deps))
	cmd.AddCommand(newOccAddCommand(deps))
	cmd.AddCommand(newOccRemoveCommand(deps))
	cmd.AddCommand(newOccRemoveSuggestedCommand(deps))
	cmd.AddCommand(newOccRemoveAllCommand(deps))
	cmd.AddCommand(newOccSummaryCommand(deps))

	return cmd
}

func newOccListCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List occurrences of a term or in a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (occListTerm == "") == (occListResource == "") {
				return errors.New("exactly one of --term and --resource is required")
			}
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				var occs []occurrence.TermOccurrence
				var err error
				if occListTerm != "" {
					occs, err = app.Occurrences.FindAll(ctx, occurrence.TermID(occListTerm))
				} else {
					occs, err = app.Occurrences.FindAllInResource(ctx, occurrence.ResourceID(occListResource))
				}
				if err != nil {
					return err
				}
				return writeOutput(deps.Out, app.Config.OutputFormat, occs, func(w io.Writer) error {
					return printOccurrences(w, occs)
				})
			})
		},
	}

	cmd.Flags().StringVar(&occListTerm, "term", "", "List occurrences of this term")
	cmd.Flags().StringVar(&occListResource, "resource", "", "List occurrences in this file")

	return cmd
}

func newOccConfirmCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <occurrence-id>",
		Short: "Confirm a suggested occurrence",
		Long: `Confirm a suggested occurrence.

A confirmed occurrence is no longer replaced by text analysis. Confirming an
already confirmed occurrence changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				occ, err := app.Occurrences.Confirm(ctx, args[0])
				if err != nil {
					return err
				}
				emitOccurrenceEvent(ctx, app, observability.OccurrenceActionConfirmed, occ, 1)
				return writeOutput(deps.Out, app.Config.OutputFormat, occ, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Confirmed %s (%s)\n", occ.ID, occ.Term)
					return err
				})
			})
		},
	}
}

func newOccAddCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <term> <file>",
		Short: "Add an occurrence by hand",
		Long: `Add a confirmed occurrence of a term in a file.

The occurrence is anchored by the quoted text and optionally the text right
before and after it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := &selector.TextQuote{ExactMatch: occAddExact, Prefix: occAddPrefix, Suffix: occAddSuffix}
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				occ, err := app.Occurrences.CreateManual(ctx, occurrence.TermID(args[0]), occurrence.ResourceID(args[1]), sel)
				if err != nil {
					return err
				}
				emitOccurrenceEvent(ctx, app, observability.OccurrenceActionCreated, occ, 1)
				return writeOutput(deps.Out, app.Config.OutputFormat, occ, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Created %s\n", occ.ID)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVar(&occAddExact, "exact", "", "Quoted text of the occurrence (required)")
	cmd.Flags().StringVar(&occAddPrefix, "prefix", "", "Text right before the quote")
	cmd.Flags().StringVar(&occAddSuffix, "suffix", "", "Text right after the quote")
	_ = cmd.MarkFlagRequired("exact")

	return cmd
}

func newOccRemoveCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <occurrence-id>",
		Short: "Remove one occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				occ, err := app.Occurrences.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if err := app.Occurrences.Remove(ctx, occ.ID); err != nil {
					return err
				}
				emitOccurrenceEvent(ctx, app, observability.OccurrenceActionRemoved, occ, 1)
				fmt.Fprintf(deps.Out, "Removed %s\n", occ.ID)
				return nil
			})
		},
	}
}

func newOccRemoveSuggestedCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-suggested <file>",
		Short: "Remove the suggested occurrences of a file",
		Long:  `Remove every suggested occurrence of a file. Confirmed occurrences are kept.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := occurrence.ResourceID(args[0])
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				var n int
				err := app.withFileLock(ctx, file, func() (err error) {
					n, err = app.Occurrences.RemoveSuggested(ctx, file)
					return err
				})
				if err != nil {
					return err
				}
				app.Metrics.RecordRemoved("manual", n)
				emitBulkEvent(ctx, app, observability.OccurrenceActionSuggestedPurged, file, n)
				fmt.Fprintf(deps.Out, "Removed %d suggested occurrence(s) of %s\n", n, file)
				return nil
			})
		},
	}
}

func newOccRemoveAllCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-all <file>",
		Short: "Remove all occurrences of a file",
		Long: `Remove every occurrence of a file, confirmed ones included.

With --assignments the terms assigned to the file are removed as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := occurrence.ResourceID(args[0])
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				var n, a int
				err := app.withFileLock(ctx, file, func() (err error) {
					if n, err = app.Occurrences.RemoveAll(ctx, file); err != nil {
						return err
					}
					if occRemoveAssigned {
						if a, err = app.Assignments.RemoveAll(ctx, file); err != nil {
							return fmt.Errorf("removing assignments: %w", err)
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				app.Metrics.RecordRemoved("manual", n)
				emitBulkEvent(ctx, app, observability.OccurrenceActionAllPurged, file, n)
				fmt.Fprintf(deps.Out, "Removed %d occurrence(s) of %s\n", n, file)
				if occRemoveAssigned {
					fmt.Fprintf(deps.Out, "Removed %d assignment(s)\n", a)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&occRemoveAssigned, "assignments", false, "Also remove the terms assigned to the file")

	return cmd
}

func newOccSummaryCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <file>",
		Short: "Count occurrences of a file per term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				s, err := app.Occurrences.Summarize(ctx, occurrence.ResourceID(args[0]))
				if err != nil {
					return err
				}
				return writeOutput(deps.Out, app.Config.OutputFormat, s, func(w io.Writer) error {
					return printSummary(w, s)
				})
			})
		},
	}
}

// withApp wires the components, runs fn and releases them.
func withApp(ctx context.Context, deps *CommandDeps, fn func(ctx context.Context, app *App) error) error {
	app, err := deps.app(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func emitOccurrenceEvent(ctx context.Context, app *App, action string, occ *occurrence.TermOccurrence, count int) {
	ev := observability.NewOccurrenceEvent(action, occ.ID, string(occ.Target.Source), string(occ.Term))
	ev.Count = count
	if err := app.Events.EmitOccurrenceChanged(ctx, ev); err != nil {
		app.Logger.Warn("failed to publish occurrence event", logging.Err(err))
	}
}

func emitBulkEvent(ctx context.Context, app *App, action string, file occurrence.ResourceID, count int) {
	ev := observability.NewOccurrenceEvent(action, "", string(file), "")
	ev.Count = count
	if err := app.Events.EmitOccurrenceChanged(ctx, ev); err != nil {
		app.Logger.Warn("failed to publish occurrence event", logging.Err(err))
	}
}

func printOccurrences(w io.Writer, occs []occurrence.TermOccurrence) error {
	if len(occs) == 0 {
		_, err := fmt.Fprintln(w, "No occurrences found.")
		return err
	}
	fmt.Fprintf(w, "%-16s %-10s %-6s %-40s %s\n", "ID", "STATE", "SCORE", "TERM", "TEXT")
	for _, o := range occs {
		text := ""
		if len(o.Target.Selectors) > 0 {
			text = o.Target.Selectors[0].Exact()
		}
		fmt.Fprintf(w, "%-16s %-10s %-6s %-40s %s\n",
			o.ID, o.State(), formatScore(o.Score), truncate(string(o.Term), 40), truncate(text, 40))
	}
	fmt.Fprintf(w, "\n%d occurrence(s)\n", len(occs))
	return nil
}

func printSummary(w io.Writer, s *occurrence.Summary) error {
	fmt.Fprintf(w, "Occurrences of %s\n", s.Resource)
	fmt.Fprintf(w, "  Suggested: %d\n", s.Suggested)
	fmt.Fprintf(w, "  Confirmed: %d (%d added by hand)\n", s.Confirmed, s.Manual)
	if len(s.Terms) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-50s %-9s %-9s %s\n", "TERM", "SUGGESTED", "CONFIRMED", "MAX SCORE")
	for _, t := range s.Terms {
		fmt.Fprintf(w, "  %-50s %-9d %-9d %s\n", truncate(string(t.Term), 50), t.Suggested, t.Confirmed, formatScore(t.MaxScore))
	}
	return nil
}
