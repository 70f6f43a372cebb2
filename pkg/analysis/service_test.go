package analysis

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichalMed/termit/pkg/annotation"
	"github.com/MichalMed/termit/pkg/assignment"
	"github.com/MichalMed/termit/pkg/document"
	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/lock"
	"github.com/MichalMed/termit/pkg/observability"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/resource"
	"github.com/MichalMed/termit/pkg/selector"
)

const (
	fileID = occurrence.ResourceID("http://example.org/files/f1")
	docID  = occurrence.ResourceID("http://example.org/documents/d1")
	vocab  = "http://example.org/vocabularies/v1"
)

type clientFunc func(ctx context.Context, in Input) (io.ReadCloser, error)

func (f clientFunc) Analyze(ctx context.Context, in Input) (io.ReadCloser, error) {
	return f(ctx, in)
}

func respond(markup string) clientFunc {
	return func(ctx context.Context, in Input) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(markup)), nil
	}
}

const annotated = `<p>This is a <span typeof="ddo:vyskyt-termu" resource="http://t/T2" score="0.95">term</span>.</p>`

type fixture struct {
	svc         *Service
	repo        *occurrence.MemoryRepository
	assignments *assignment.MemoryStore
	documents   *document.FileSystemManager
	records     *MemoryRecordStore
	resources   *resource.MemoryStore
	locker      lock.Locker
	metrics     *observability.Metrics
	published   []string
}

func newFixture(t *testing.T, client Client, opts ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()

	docs, err := document.NewFileSystemManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, docs.SaveContent(ctx, fileID, strings.NewReader("<p>This is a term.</p>")))

	resources := resource.NewMemoryStore(
		&resource.Resource{ID: docID, Kind: resource.KindDocument, Vocabulary: vocab},
		&resource.Resource{ID: fileID, Kind: resource.KindFile, Document: docID},
		&resource.Resource{ID: "http://example.org/files/orphan", Kind: resource.KindFile},
	)

	f := &fixture{
		repo:        occurrence.NewMemoryRepository(),
		assignments: assignment.NewMemoryStore(),
		documents:   docs,
		records:     NewMemoryRecordStore(),
		resources:   resources,
		locker:      lock.NewLocalLocker(),
		metrics:     observability.NewMetrics(nil),
	}
	var mu sync.Mutex
	events := observability.NewEventEmitter(observability.NewRedisEventPublisher(
		func(ctx context.Context, channel string, message interface{}) error {
			mu.Lock()
			defer mu.Unlock()
			f.published = append(f.published, channel)
			return nil
		}))

	gen := annotation.NewGenerator(annotation.DefaultConfig(), f.repo, f.assignments, nil, f.metrics)
	deps := Deps{
		Client:    client,
		Resources: resources,
		Documents: docs,
		Generator: gen,
		Records:   f.records,
		Locker:    f.locker,
		Metrics:   f.metrics,
		Events:    events,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = NewService(Config{VocabularyRepository: "http://repo", Language: "cs"}, deps)
	return f
}

func TestAnalyzeFile_UsesDocumentVocabulary(t *testing.T) {
	ctx := context.Background()
	var got Input
	f := newFixture(t, clientFunc(func(ctx context.Context, in Input) (io.ReadCloser, error) {
		got = in
		return io.NopCloser(strings.NewReader(annotated)), nil
	}))

	out, err := f.svc.AnalyzeFile(ctx, Request{Resource: fileID, RequestedBy: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "<p>This is a term.</p>", got.Content)
	assert.Equal(t, []string{vocab}, got.VocabularyContexts)
	assert.Equal(t, "http://repo", got.VocabularyRepository)
	assert.Equal(t, "cs", got.Language)

	require.Len(t, out.Result.Occurrences, 1)
	assert.Equal(t, []occurrence.TermID{"http://t/T2"}, out.Result.Promoted)
	assert.NotEmpty(t, out.Backup)
	assert.Positive(t, out.Duration)

	assigned, err := f.assignments.FindAssignments(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	content, err := f.documents.LoadContent(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, annotated, content, "annotated markup replaces the content")

	rec, err := f.svc.FindLatestRecord(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, out.Record.ID, rec.ID)
	assert.Equal(t, []string{vocab}, rec.Vocabularies)
	assert.Equal(t, "alice", rec.RequestedBy)
	assert.Equal(t, 1, rec.Occurrences)

	assert.Equal(t, []string{observability.ChannelAnalysisCompleted}, f.published)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(observability.StatusSuccess, "")))
}

func TestAnalyzeFile_ExplicitVocabularies(t *testing.T) {
	var got Input
	f := newFixture(t, clientFunc(func(ctx context.Context, in Input) (io.ReadCloser, error) {
		got = in
		return io.NopCloser(strings.NewReader(annotated)), nil
	}))

	_, err := f.svc.AnalyzeFile(context.Background(), Request{
		Resource:     "http://example.org/files/orphan",
		Vocabularies: []string{"http://v/a", "http://v/b"},
	})
	require.Error(t, err, "orphan file has no stored content")
	assert.True(t, tmerrors.IsNotFound(err))

	_, err = f.svc.AnalyzeFile(context.Background(), Request{Resource: fileID, Vocabularies: []string{"http://v/a", "http://v/b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://v/a", "http://v/b"}, got.VocabularyContexts)
}

func TestAnalyzeFile_Unsupported(t *testing.T) {
	f := newFixture(t, respond(annotated))
	ctx := context.Background()

	_, err := f.svc.AnalyzeFile(ctx, Request{Resource: docID})
	assert.True(t, tmerrors.IsUnsupportedOperation(err), "documents have no content")

	_, err = f.svc.AnalyzeFile(ctx, Request{Resource: "http://example.org/files/orphan"})
	assert.True(t, tmerrors.IsUnsupportedOperation(err), "no vocabulary to analyze against")

	_, err = f.svc.AnalyzeFile(ctx, Request{Resource: "http://example.org/files/missing"})
	assert.True(t, tmerrors.IsNotFound(err))

	assert.Equal(t, []string{
		observability.ChannelAnalysisFailed,
		observability.ChannelAnalysisFailed,
		observability.ChannelAnalysisFailed,
	}, f.published)
}

func TestAnalyzeFile_IntegrationFailuresLeaveStorageUntouched(t *testing.T) {
	tests := []struct {
		name   string
		client clientFunc
	}{
		{"service error", func(ctx context.Context, in Input) (io.ReadCloser, error) {
			return nil, errors.New("dial tcp: connection refused")
		}},
		{"empty response", respond("")},
		{"malformed markup", respond(`<span typeof="ddo:vyskyt-termu" resource="http://t/x" score="bad">x</span>`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tt.client)
			prior := occurrence.NewSuggested("http://t/old", fileID, 0.5, &selector.TextQuote{ExactMatch: "old"})
			require.NoError(t, f.repo.Create(ctx, prior))

			_, err := f.svc.AnalyzeFile(ctx, Request{Resource: fileID})
			require.Error(t, err)
			assert.True(t, tmerrors.IsIntegration(err))

			all, err := f.repo.FindAllInResource(ctx, fileID)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, prior.ID, all[0].ID)

			content, err := f.documents.LoadContent(ctx, fileID)
			require.NoError(t, err)
			assert.Equal(t, "<p>This is a term.</p>", content)

			_, err = f.svc.FindLatestRecord(ctx, fileID)
			assert.True(t, tmerrors.IsNotFound(err))
		})
	}
}

func TestAnalyzeFile_SerializesSameFile(t *testing.T) {
	var inFlight, maxInFlight int32
	f := newFixture(t, clientFunc(func(ctx context.Context, in Input) (io.ReadCloser, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return io.NopCloser(strings.NewReader(annotated)), nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AnalyzeFile(context.Background(), Request{Resource: fileID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight)
	all, err := f.repo.FindAllInResource(context.Background(), fileID)
	require.NoError(t, err)
	assert.Len(t, all, 1, "re-analysis never duplicates occurrences")
}

type failingSave struct {
	document.Manager
	err error
}

func (m failingSave) SaveContent(ctx context.Context, file occurrence.ResourceID, content io.Reader) error {
	return m.err
}

type failingRecords struct {
	RecordStore
}

func (failingRecords) Save(ctx context.Context, r *Record) error {
	return errors.New("connection reset")
}

func TestAnalyzeFile_FailuresAfterCommitAreWarnings(t *testing.T) {
	t.Run("content not saved", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, respond(annotated), func(d *Deps) {
			d.Documents = failingSave{Manager: d.Documents, err: errors.New("disk full")}
		})

		out, err := f.svc.AnalyzeFile(ctx, Request{Resource: fileID})
		require.NoError(t, err)
		require.Len(t, out.Warnings, 1)
		assert.Contains(t, out.Warnings[0], "disk full")
		assert.Contains(t, out.Warnings[0], out.Backup)

		all, err := f.repo.FindAllInResource(ctx, fileID)
		require.NoError(t, err)
		assert.Len(t, all, 1, "committed occurrences are reported, not hidden behind an error")

		content, err := f.documents.LoadContent(ctx, fileID)
		require.NoError(t, err)
		assert.Equal(t, "<p>This is a term.</p>", content)

		rec, err := f.svc.FindLatestRecord(ctx, fileID)
		require.NoError(t, err)
		assert.Equal(t, out.Record.ID, rec.ID)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(observability.StatusSuccess, "")))
	})

	t.Run("record not saved", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, respond(annotated), func(d *Deps) {
			d.Records = failingRecords{RecordStore: d.Records}
		})

		out, err := f.svc.AnalyzeFile(ctx, Request{Resource: fileID})
		require.NoError(t, err)
		require.Len(t, out.Warnings, 1)
		assert.Contains(t, out.Warnings[0], "connection reset")

		content, err := f.documents.LoadContent(ctx, fileID)
		require.NoError(t, err)
		assert.Equal(t, annotated, content)
	})
}

// removeFile deletes a file the way the removal command does.
func (f *fixture) removeFile(ctx context.Context) error {
	unlock, err := f.locker.Lock(ctx, string(fileID))
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := f.repo.RemoveAll(ctx, fileID); err != nil {
		return err
	}
	if err := f.documents.Remove(ctx, fileID); err != nil {
		return err
	}
	return f.resources.Delete(ctx, fileID)
}

func TestAnalyzeFile_RemovalWaitsForRunInProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, clientFunc(func(ctx context.Context, in Input) (io.ReadCloser, error) {
		close(entered)
		<-release
		return io.NopCloser(strings.NewReader(annotated)), nil
	}))

	analyzed := make(chan error, 1)
	go func() {
		_, err := f.svc.AnalyzeFile(context.Background(), Request{Resource: fileID})
		analyzed <- err
	}()
	<-entered

	removed := make(chan error, 1)
	go func() {
		removed <- f.removeFile(context.Background())
	}()

	select {
	case <-removed:
		t.Fatal("removal finished while the service call was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	require.NoError(t, <-analyzed)
	require.NoError(t, <-removed)

	all, err := f.repo.FindAllInResource(context.Background(), fileID)
	require.NoError(t, err)
	assert.Empty(t, all, "no occurrences outlive their file")
}

func TestAnalyzeFile_AfterRemovalIsNotFound(t *testing.T) {
	var calls int32
	f := newFixture(t, clientFunc(func(ctx context.Context, in Input) (io.ReadCloser, error) {
		atomic.AddInt32(&calls, 1)
		return io.NopCloser(strings.NewReader(annotated)), nil
	}))

	unlock, err := f.locker.Lock(context.Background(), string(fileID))
	require.NoError(t, err)
	analyzed := make(chan error, 1)
	go func() {
		_, err := f.svc.AnalyzeFile(context.Background(), Request{Resource: fileID})
		analyzed <- err
	}()

	// The run is queued on the lock while the file goes away.
	ctx := context.Background()
	require.NoError(t, f.resources.Delete(ctx, fileID))
	unlock()

	err = <-analyzed
	require.Error(t, err)
	assert.True(t, tmerrors.IsNotFound(err))
	assert.Zero(t, atomic.LoadInt32(&calls))

	all, err := f.repo.FindAllInResource(ctx, fileID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryRecordStore_FindLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.FindLatest(ctx, fileID)
	assert.True(t, tmerrors.IsNotFound(err))

	require.NoError(t, s.Save(ctx, &Record{ID: "ar-1", Resource: fileID, CreatedAt: t0.Add(time.Hour)}))
	require.NoError(t, s.Save(ctx, &Record{ID: "ar-2", Resource: fileID, CreatedAt: t0}))
	require.NoError(t, s.Save(ctx, &Record{ID: "ar-3", Resource: docID, CreatedAt: t0.Add(2 * time.Hour)}))
	require.NoError(t, s.Save(ctx, &Record{ID: "ar-4", Resource: fileID, CreatedAt: t0.Add(time.Hour)}))

	rec, err := s.FindLatest(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, "ar-4", rec.ID)

	assert.True(t, tmerrors.IsConflict(s.Save(ctx, &Record{ID: "ar-1", Resource: fileID})))
	assert.True(t, tmerrors.IsValidation(s.Save(ctx, &Record{ID: "ar-9"})))
}
