// Package annotation turns the markup returned by text analysis into
// suggested term occurrences of a file.
//
// Annotation nodes are grouped into mentions, a TextQuote selector is
// generated per mention, and the resulting batch replaces the file's
// previous suggestions in one transaction. Confirmed occurrences are never
// touched. Terms found with a high enough score are then promoted to
// assignments of the file.
package annotation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/MichalMed/termit/pkg/assignment"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/observability"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/selector"
)

// Result describes one annotation run.
type Result struct {
	Resource        occurrence.ResourceID       `json:"resource" yaml:"resource"`
	Groups          int                         `json:"groups" yaml:"groups"`
	Occurrences     []occurrence.TermOccurrence `json:"occurrences" yaml:"occurrences"`
	Removed         int                         `json:"removed" yaml:"removed"`
	Skipped         []SkippedGroup              `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Promoted        []occurrence.TermID         `json:"promoted,omitempty" yaml:"promoted,omitempty"`
	PromotionErrors []PromotionFailure          `json:"promotionErrors,omitempty" yaml:"promotion_errors,omitempty"`
}

// SkippedGroup is a mention that produced no occurrence.
type SkippedGroup struct {
	Key    string            `json:"key,omitempty" yaml:"key,omitempty"`
	Term   occurrence.TermID `json:"term" yaml:"term"`
	Reason string            `json:"reason" yaml:"reason"`
}

// PromotionFailure is a term whose assignment could not be created.
type PromotionFailure struct {
	Term  occurrence.TermID `json:"term" yaml:"term"`
	Error string            `json:"error" yaml:"error"`
}

// Generator reconciles a file's suggested occurrences with fresh analysis output.
type Generator struct {
	cfg       Config
	repo      occurrence.Repository
	promoter  assignment.Promoter
	selectors *selector.Generator
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewGenerator creates a Generator. A nil promoter disables promotion; nil
// logger and metrics are replaced by no-op ones.
func NewGenerator(cfg Config, repo occurrence.Repository, promoter assignment.Promoter, logger logging.Logger, metrics *observability.Metrics) *Generator {
	if cfg.OccurrenceType == "" {
		cfg.OccurrenceType = DefaultOccurrenceType
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Generator{
		cfg:       cfg,
		repo:      repo,
		promoter:  promoter,
		selectors: selector.NewGenerator(cfg.ContextLength),
		logger:    logger.With(logging.Component("annotation_generator")),
		metrics:   metrics,
		tracer:    observability.NewTracer(),
	}
}

// Generate reads annotated markup for source and replaces the suggested
// occurrences of source with the ones found in it.
//
// Malformed markup and storage failures abort the run before anything is
// changed. Mentions without text are skipped. Promotion runs after the
// reconciliation is committed; its failures are reported in the result
// and do not undo the reconciliation.
func (g *Generator) Generate(ctx context.Context, r io.Reader, source occurrence.ResourceID) (*Result, error) {
	ctx, span := g.tracer.StartAnnotationSpan(ctx, string(source))
	defer span.End()
	helper := observability.NewSpanHelper(span)
	log := g.logger.WithContext(ctx).With(logging.F("resource", string(source)))

	groups, doc, err := ParseGroups(r, g.cfg.OccurrenceType)
	if err != nil {
		helper.SetError(err, string(tmerrors.ErrCodeMalformedMarkup), false)
		return nil, err
	}
	log.Debug("parsed annotated markup", logging.F("groups", len(groups)))

	result := &Result{Resource: source, Groups: len(groups)}

	occs, err := g.buildOccurrences(ctx, doc, groups, source, result, log)
	if err != nil {
		helper.SetError(err, string(tmerrors.ClassifyError(err, "annotate").Code), false)
		return nil, err
	}

	rctx, rspan := g.tracer.StartSpan(ctx, observability.SpanReconcile, string(source))
	removed, err := g.repo.ReplaceSuggested(rctx, source, occs)
	rspan.End()
	if err != nil {
		err = fmt.Errorf("storing occurrences: %w", err)
		helper.SetError(err, string(tmerrors.ErrCodeStorage), true)
		return nil, err
	}
	result.Removed = removed
	result.Occurrences = occs
	g.metrics.RecordRemoved("reanalysis", removed)
	for i := range occs {
		g.metrics.RecordOccurrence(*occs[i].Score)
	}

	g.promote(ctx, source, occs, result, log)

	helper.SetAnnotationResult(result.Groups, len(occs), removed, len(result.Skipped), len(result.Promoted))
	helper.SetSuccess()
	log.Info("annotations generated",
		logging.F("groups", result.Groups),
		logging.F("occurrences", len(occs)),
		logging.F("removed", removed),
		logging.F("skipped", len(result.Skipped)),
		logging.F("promoted", len(result.Promoted)))
	return result, nil
}

// buildOccurrences generates selectors for all groups in parallel. The
// returned batch keeps the document order of the groups.
func (g *Generator) buildOccurrences(ctx context.Context, doc *html.Node, groups []Group, source occurrence.ResourceID, result *Result, log logging.Logger) ([]occurrence.TermOccurrence, error) {
	built := make([]*occurrence.TermOccurrence, len(groups))
	skipped := make([]string, len(groups))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for i := range groups {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			grp := groups[i]
			sel, err := g.selectors.Generate(doc, grp.Nodes...)
			switch {
			case errors.Is(err, selector.ErrEmptyExactMatch):
				skipped[i] = observability.SkipEmptyExactMatch
				return nil
			case err != nil:
				return fmt.Errorf("%w: mention of %s: %w", tmerrors.ErrMalformedMarkup, grp.Term, err)
			}
			built[i] = occurrence.NewSuggested(grp.Term, source, grp.Score, sel)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	occs := make([]occurrence.TermOccurrence, 0, len(groups))
	for i, o := range built {
		if o != nil {
			occs = append(occs, *o)
			continue
		}
		grp := groups[i]
		result.Skipped = append(result.Skipped, SkippedGroup{Key: grp.Key, Term: grp.Term, Reason: skipped[i]})
		g.metrics.RecordSkippedGroup(skipped[i])
		log.Warn("skipping mention without text",
			logging.F("term", string(grp.Term)), logging.F("group", grp.Key))
	}
	return occs, nil
}

// promote assigns every distinct term scoring at least MinScore to source.
func (g *Generator) promote(ctx context.Context, source occurrence.ResourceID, occs []occurrence.TermOccurrence, result *Result, log logging.Logger) {
	if g.promoter == nil {
		return
	}
	ctx, span := g.tracer.StartSpan(ctx, observability.SpanPromote, string(source))
	defer span.End()

	seen := make(map[occurrence.TermID]struct{})
	for i := range occs {
		o := &occs[i]
		if *o.Score < g.cfg.MinScore {
			continue
		}
		if _, ok := seen[o.Term]; ok {
			continue
		}
		seen[o.Term] = struct{}{}

		start := time.Now()
		if err := g.promoter.Assign(ctx, o.Term, source); err != nil {
			g.metrics.RecordPromotion(observability.StatusFailed)
			result.PromotionErrors = append(result.PromotionErrors, PromotionFailure{Term: o.Term, Error: err.Error()})
			log.Error("failed to promote term", logging.F("term", string(o.Term)), logging.Err(err))
			continue
		}
		g.metrics.RecordPromotion(observability.StatusSuccess)
		result.Promoted = append(result.Promoted, o.Term)
		log.Debug("promoted term",
			logging.F("term", string(o.Term)),
			logging.F("score", *o.Score),
			logging.F("duration_ms", time.Since(start).Milliseconds()))
	}
}
