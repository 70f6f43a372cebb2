package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/pkg/assignment"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/resource"
)

// Resource command flags
var (
	resAddKind       string
	resAddLabel      string
	resAddDocument   string
	resAddVocabulary string
	resAddContent    string
)

// NewResourcesCommand creates the resources command with all subcommands.
func NewResourcesCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Register documents and files",
		Long: `Register documents and files.

A document groups files and names the vocabulary its files are analyzed
against. Only files have textual content.

Examples:
  termit resources add http://example.org/documents/law --kind document --vocabulary http://example.org/vocabularies/law
  termit resources add http://example.org/files/report --document http://example.org/documents/law --content ./report.html
  termit resources show http://example.org/files/report
  termit resources remove http://example.org/files/report`,
		Aliases: []string{"resource", "res"},
	}

	cmd.AddCommand(newResAddCommand(deps))
	cmd.AddCommand(newResShowCommand(deps))
	cmd.AddCommand(newResRemoveCommand(deps))

	return cmd
}

func newResAddCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register or update a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := resource.ParseKind(resAddKind)
			if err != nil {
				return err
			}
			r := &resource.Resource{
				ID:         occurrence.ResourceID(args[0]),
				Label:      resAddLabel,
				Kind:       kind,
				Document:   occurrence.ResourceID(resAddDocument),
				Vocabulary: resAddVocabulary,
			}
			if resAddContent != "" && !r.IsFile() {
				return fmt.Errorf("%w: only files have content", tmerrors.ErrValidation)
			}

			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				if err := app.Resources.Save(ctx, r); err != nil {
					return err
				}
				if resAddContent != "" {
					if err := uploadContent(ctx, app, r.ID, resAddContent); err != nil {
						return err
					}
				}
				return writeOutput(deps.Out, app.Config.OutputFormat, r, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Saved %s %s\n", r.Kind, r.ID)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVar(&resAddKind, "kind", string(resource.KindFile), "Resource kind: file, document, other")
	cmd.Flags().StringVar(&resAddLabel, "label", "", "Human-readable label")
	cmd.Flags().StringVar(&resAddDocument, "document", "", "Document the file belongs to")
	cmd.Flags().StringVar(&resAddVocabulary, "vocabulary", "", "Vocabulary of the document")
	cmd.Flags().StringVar(&resAddContent, "content", "", "Upload file content from this local file")

	return cmd
}

// resourceView is a resource with what termit knows about it.
type resourceView struct {
	resource.Resource   `yaml:",inline"`
	EffectiveVocabulary string                  `json:"effectiveVocabulary,omitempty" yaml:"effective_vocabulary,omitempty"`
	HasContent          bool                    `json:"hasContent" yaml:"has_content"`
	Occurrences         *occurrence.Summary     `json:"occurrences,omitempty" yaml:"occurrences,omitempty"`
	Assignments         []assignment.Assignment `json:"assignments,omitempty" yaml:"assignments,omitempty"`
}

func newResShowCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a resource with its occurrences and assigned terms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				view, err := loadResourceView(ctx, app, occurrence.ResourceID(args[0]))
				if err != nil {
					return err
				}
				return writeOutput(deps.Out, app.Config.OutputFormat, view, func(w io.Writer) error {
					return printResource(w, view)
				})
			})
		},
	}
}

func loadResourceView(ctx context.Context, app *App, id occurrence.ResourceID) (*resourceView, error) {
	r, err := app.Resources.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &resourceView{Resource: *r}

	view.EffectiveVocabulary, err = resource.Vocabulary(ctx, app.Resources, r)
	if err != nil && !tmerrors.IsNotFound(err) {
		return nil, err
	}
	if !r.IsFile() {
		return view, nil
	}

	if view.HasContent, err = app.Documents.Exists(ctx, id); err != nil {
		return nil, err
	}
	if view.Occurrences, err = app.Occurrences.Summarize(ctx, id); err != nil {
		return nil, err
	}
	if view.Assignments, err = app.Assignments.FindAssignments(ctx, id); err != nil {
		return nil, err
	}
	return view, nil
}

func newResRemoveCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a resource",
		Long: `Remove a resource.

Removing a file also removes its content, occurrences and assigned terms.
Files of a removed document stay registered without a document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := occurrence.ResourceID(args[0])
			return withApp(cmd.Context(), deps, func(ctx context.Context, app *App) error {
				var kind resource.Kind
				err := app.withFileLock(ctx, id, func() error {
					r, err := app.Resources.Get(ctx, id)
					if err != nil {
						return err
					}
					kind = r.Kind
					if r.IsFile() {
						if _, err := app.Occurrences.RemoveAll(ctx, id); err != nil {
							return err
						}
						if _, err := app.Assignments.RemoveAll(ctx, id); err != nil {
							return err
						}
						if err := app.Documents.Remove(ctx, id); err != nil && !tmerrors.IsNotFound(err) {
							return err
						}
					}
					return app.Resources.Delete(ctx, id)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(deps.Out, "Removed %s %s\n", kind, id)
				return nil
			})
		},
	}
}

func printResource(w io.Writer, v *resourceView) error {
	fmt.Fprintf(w, "%s\n", v.ID)
	fmt.Fprintf(w, "  Kind:       %s\n", v.Kind)
	if v.Label != "" {
		fmt.Fprintf(w, "  Label:      %s\n", v.Label)
	}
	if v.Document != "" {
		fmt.Fprintf(w, "  Document:   %s\n", v.Document)
	}
	if v.EffectiveVocabulary != "" {
		fmt.Fprintf(w, "  Vocabulary: %s\n", v.EffectiveVocabulary)
	}
	if !v.IsFile() {
		return nil
	}
	fmt.Fprintf(w, "  Content:    %t\n", v.HasContent)
	if v.Occurrences != nil {
		fmt.Fprintf(w, "  Occurrences: %d suggested, %d confirmed\n", v.Occurrences.Suggested, v.Occurrences.Confirmed)
	}
	if len(v.Assignments) > 0 {
		fmt.Fprintf(w, "  Assigned terms (%d):\n", len(v.Assignments))
		for _, a := range v.Assignments {
			fmt.Fprintf(w, "    %s\n", a.Term)
		}
	}
	return nil
}
