// Package analysis runs text analysis of files.
//
// A run loads the file's content, sends it to the text analysis service
// together with the vocabularies to look for, and hands the returned
// annotated markup to the annotation generator. Runs on the same file are
// serialized; runs on different files proceed in parallel.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MichalMed/termit/pkg/annotation"
	"github.com/MichalMed/termit/pkg/document"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/ident"
	"github.com/MichalMed/termit/pkg/lock"
	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/observability"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/resource"
)

// Config holds the service-wide analysis settings.
type Config struct {
	// VocabularyRepository is passed to the service as the term source.
	VocabularyRepository string `yaml:"vocabulary_repository"`
	// Language of analyzed content.
	Language string `yaml:"language"`
}

// Deps are the collaborators of a Service. Logger, Metrics and Events may be nil.
type Deps struct {
	Client    Client
	Resources resource.Store
	Documents document.Manager
	Generator *annotation.Generator
	Records   RecordStore
	Locker    lock.Locker
	Logger    logging.Logger
	Metrics   *observability.Metrics
	Events    *observability.EventEmitter
}

// Service orchestrates text analysis runs.
type Service struct {
	cfg       Config
	client    Client
	resources resource.Store
	documents document.Manager
	generator *annotation.Generator
	records   RecordStore
	locker    lock.Locker
	logger    logging.Logger
	metrics   *observability.Metrics
	events    *observability.EventEmitter
	tracer    *observability.Tracer
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps) *Service {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(nil)
	}
	if deps.Events == nil {
		deps.Events = observability.NewEventEmitter(nil)
	}
	return &Service{
		cfg:       cfg,
		client:    deps.Client,
		resources: deps.Resources,
		documents: deps.Documents,
		generator: deps.Generator,
		records:   deps.Records,
		locker:    deps.Locker,
		logger:    deps.Logger.With(logging.Component("text_analysis")),
		metrics:   deps.Metrics,
		events:    deps.Events,
		tracer:    observability.NewTracer(),
	}
}

// Request asks for analysis of one file. Without Vocabularies the
// vocabulary of the file's document is used.
type Request struct {
	Resource     occurrence.ResourceID
	Vocabularies []string
	RequestedBy  string
}

// Outcome is the result of a successful run.
type Outcome struct {
	Record   *Record            `json:"record" yaml:"record"`
	Result   *annotation.Result `json:"result" yaml:"result"`
	Backup   string             `json:"backup" yaml:"backup"`
	Duration time.Duration      `json:"duration" yaml:"duration"`

	// Warnings lists steps that failed after the occurrences were committed.
	// The run still counts as successful.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// AnalyzeFile analyzes a file and reconciles its suggested occurrences.
//
// Resources that are not files, and files without a vocabulary to analyze
// against, fail with ErrUnsupportedOperation. Failures of the service or
// its output fail with ErrIntegration. Any failure before the annotation
// generator commits leaves stored occurrences untouched. Failures after the
// commit are reported as Outcome.Warnings.
//
// The per-file lock is taken before the resource is read, so a removal
// holding the same lock either finishes first, failing the run with
// ErrNotFound, or waits for the run to finish.
func (s *Service) AnalyzeFile(ctx context.Context, req Request) (out *Outcome, err error) {
	start := time.Now()
	if req.RequestedBy != "" {
		ctx = context.WithValue(ctx, logging.RequestedByKey, req.RequestedBy)
	}
	ctx, span := s.tracer.StartAnalysisSpan(ctx, string(req.Resource), req.Vocabularies, req.RequestedBy)
	defer span.End()
	helper := observability.NewSpanHelper(span)
	log := s.logger.WithContext(ctx).With(logging.F("resource", string(req.Resource)))

	event := observability.NewAnalysisEvent(string(req.Resource), req.Vocabularies, req.RequestedBy, 0)
	defer func() {
		elapsed := time.Since(start)
		event.DurationMs = elapsed.Milliseconds()
		if err != nil {
			ae := tmerrors.ClassifyError(err, "analyze_file")
			s.metrics.RecordAnalysis(observability.StatusFailed, string(ae.Code), elapsed.Seconds())
			helper.SetError(err, string(ae.Code), tmerrors.IsRetryable(ae.Code))
			event.ErrorCode = string(ae.Code)
			event.ErrorMessage = err.Error()
			log.Error("text analysis failed", logging.Err(err), logging.F("code", string(ae.Code)))
		} else {
			s.metrics.RecordAnalysis(observability.StatusSuccess, "", elapsed.Seconds())
			helper.SetSuccess()
			out.Duration = elapsed
			event.Vocabularies = out.Record.Vocabularies
			event.Occurrences = len(out.Result.Occurrences)
			event.Removed = out.Result.Removed
			event.Skipped = len(out.Result.Skipped)
			event.Promoted = len(out.Result.Promoted)
		}
		if perr := s.events.EmitAnalysis(context.WithoutCancel(ctx), event); perr != nil {
			log.Warn("failed to publish analysis event", logging.Err(perr))
		}
	}()

	if s.client == nil {
		return nil, fmt.Errorf("%w: text analysis service is not configured", tmerrors.ErrValidation)
	}

	unlock, err := s.locker.Lock(ctx, string(req.Resource))
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", req.Resource, err)
	}
	defer unlock()

	file, err := s.resources.Get(ctx, req.Resource)
	if err != nil {
		return nil, err
	}
	if !file.IsFile() {
		return nil, fmt.Errorf("%w: resource %s is a %s and has no textual content", tmerrors.ErrUnsupportedOperation, file.ID, file.Kind)
	}
	if file.Document != "" {
		helper.SetDocument(string(file.Document))
	}

	vocabularies := req.Vocabularies
	if len(vocabularies) == 0 {
		v, err := resource.Vocabulary(ctx, s.resources, file)
		if err != nil {
			return nil, err
		}
		if v == "" {
			return nil, fmt.Errorf("%w: cannot analyze file %s without specifying vocabulary context", tmerrors.ErrUnsupportedOperation, file.ID)
		}
		vocabularies = []string{v}
	}

	lctx, lspan := s.tracer.StartSpan(ctx, observability.SpanDocumentLoad, string(file.ID))
	content, err := s.documents.LoadContent(lctx, file.ID)
	lspan.End()
	if err != nil {
		return nil, err
	}

	markup, err := s.invoke(ctx, Input{
		Content:              content,
		VocabularyContexts:   vocabularies,
		VocabularyRepository: s.cfg.VocabularyRepository,
		Language:             s.cfg.Language,
	})
	if err != nil {
		return nil, err
	}

	bctx, bspan := s.tracer.StartSpan(ctx, observability.SpanDocumentBackup, string(file.ID))
	backup, err := s.documents.CreateBackup(bctx, file.ID)
	bspan.End()
	if err != nil {
		return nil, fmt.Errorf("backing up %s: %w", file.ID, err)
	}
	log.Debug("created backup", logging.F("backup", backup))

	result, err := s.generator.Generate(ctx, bytes.NewReader(markup), file.ID)
	if err != nil {
		if tmerrors.IsMalformedMarkup(err) {
			return nil, fmt.Errorf("%w: %w", tmerrors.ErrIntegration, err)
		}
		return nil, err
	}

	// Occurrences are committed from here on.
	var warnings []string
	if err := s.documents.SaveContent(ctx, file.ID, bytes.NewReader(markup)); err != nil {
		log.Warn("failed to save annotated content", logging.Err(err), logging.F("backup", backup))
		warnings = append(warnings, fmt.Sprintf("annotated content not saved, previous content kept in %s: %v", backup, err))
	}

	record := &Record{
		ID:           ident.New(ident.TypeRecord),
		Resource:     file.ID,
		Vocabularies: vocabularies,
		RequestedBy:  req.RequestedBy,
		Occurrences:  len(result.Occurrences),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.records.Save(ctx, record); err != nil {
		log.Warn("failed to save analysis record", logging.Err(err), logging.F("record", record.ID))
		warnings = append(warnings, fmt.Sprintf("analysis record %s not saved: %v", record.ID, err))
	}

	log.Info("text analysis finished",
		logging.F("occurrences", len(result.Occurrences)),
		logging.F("removed", result.Removed),
		logging.F("promoted", len(result.Promoted)),
		logging.F("warnings", len(warnings)))

	return &Outcome{Record: record, Result: result, Backup: backup, Warnings: warnings}, nil
}

// invoke calls the service and reads the whole annotated markup.
func (s *Service) invoke(ctx context.Context, in Input) ([]byte, error) {
	ctx, span := s.tracer.StartServiceCallSpan(ctx)
	defer span.End()
	helper := observability.NewSpanHelper(span)
	start := time.Now()

	markup, err := s.call(ctx, in)
	elapsed := time.Since(start)
	helper.SetDuration(elapsed.Milliseconds())
	if err != nil {
		s.metrics.RecordServiceCall(observability.StatusFailed, elapsed.Seconds())
		ae := tmerrors.ClassifyError(err, "service_call")
		helper.SetError(err, string(ae.Code), tmerrors.IsRetryable(ae.Code))
		return nil, err
	}
	s.metrics.RecordServiceCall(observability.StatusSuccess, elapsed.Seconds())
	helper.SetSuccess()
	return markup, nil
}

func (s *Service) call(ctx context.Context, in Input) ([]byte, error) {
	body, err := s.client.Analyze(ctx, in)
	if err != nil {
		if tmerrors.IsIntegration(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: text analysis invocation failed: %w", tmerrors.ErrIntegration, err)
	}
	defer body.Close()

	markup, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read text analysis result: %w", tmerrors.ErrIntegration, err)
	}
	if len(markup) == 0 {
		return nil, fmt.Errorf("%w: text analysis service returned empty response", tmerrors.ErrIntegration)
	}
	return markup, nil
}

// FindLatestRecord returns the newest analysis record of a resource.
func (s *Service) FindLatestRecord(ctx context.Context, id occurrence.ResourceID) (*Record, error) {
	return s.records.FindLatest(ctx, id)
}
